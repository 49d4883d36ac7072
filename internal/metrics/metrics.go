package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsReceived 收到的交互信号，按原始类型
	SignalsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evtrack_signals_received_total",
			Help: "Total number of interaction signals received",
		},
		[]string{"type"},
	)

	// SignalsIgnored 被忽略的信号，按原因
	SignalsIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evtrack_signals_ignored_total",
			Help: "Total number of signals ignored by the recorder",
		},
		[]string{"reason"}, // "own_surface", "admin_surface", "unknown_type", "scroll_threshold", "panic"
	)

	EventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evtrack_events_captured_total",
			Help: "Total number of candidate events appended to a capture session",
		},
		[]string{"kind"},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evtrack_events_deduplicated_total",
			Help: "Total number of candidate events dropped as duplicates",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evtrack_persist_failures_total",
			Help: "Total number of failed candidate persistence calls",
		},
	)

	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evtrack_events_forwarded_total",
			Help: "Total number of events forwarded to analytics handlers",
		},
		[]string{"handler"},
	)

	ForwardFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evtrack_forward_failures_total",
			Help: "Total number of failed analytics forwards",
		},
		[]string{"handler"},
	)

	ForwardSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evtrack_forward_suppressed_total",
			Help: "Total number of analytics forwards dropped by an interceptor",
		},
		[]string{"handler"},
	)

	// Recording 当前是否处于录制状态
	Recording = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evtrack_recording",
			Help: "1 while the recorder is capturing, 0 otherwise",
		},
	)
)
