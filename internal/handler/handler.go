package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"evtrack/internal/dispatch"
	"evtrack/internal/logger"
	"evtrack/internal/metrics"
	"evtrack/internal/rules"
	"evtrack/pkg/model"
)

// DefaultForwardTimeout 单次转发的超时
const DefaultForwardTimeout = 10 * time.Second

// Handler 转发协调器：负责规则判定、统计转发和事件通知
type Handler struct {
	engine   *rules.Engine
	registry *dispatch.Registry
	events   chan model.Event
	timeout  time.Duration
	log      logger.Logger

	wg sync.WaitGroup
}

// Config 配置选项
type Config struct {
	Engine   *rules.Engine
	Registry *dispatch.Registry
	Events   chan model.Event
	Timeout  time.Duration
	Logger   logger.Logger
}

// Origin 事件来源信息
type Origin struct {
	URL   string
	Admin bool
}

// New 创建转发协调器
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultForwardTimeout
	}
	return &Handler{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		events:   cfg.Events,
		timeout:  cfg.Timeout,
		log:      cfg.Logger,
	}
}

// Forward 判定候选事件是否需要转发；命中时异步转发，不等待结果。
// 返回转发名称以及是否命中。
func (h *Handler) Forward(ctx context.Context, c model.CandidateEvent, origin Origin) (string, bool) {
	if h.engine == nil {
		return "", false
	}

	name, ok := h.engine.Decide(c)
	if !ok {
		h.log.Debug("事件未命中转发规则", "key", c.Fingerprint)
		return "", false
	}

	hit := dispatch.Hit{
		Name:       name,
		Properties: properties(c),
		URL:        origin.URL,
		Admin:      origin.Admin,
	}
	if h.registry != nil {
		h.wg.Add(1)
		go h.dispatch(context.WithoutCancel(ctx), hit, c.Fingerprint)
	}

	h.sendEvent(model.Event{
		Type:        model.EventForwarded,
		Session:     c.SessionID,
		Fingerprint: c.Fingerprint,
		Name:        name,
	})
	return name, true
}

// Wait 等待所有进行中的转发结束
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) dispatch(ctx context.Context, hit dispatch.Hit, key string) {
	defer h.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	for _, r := range h.registry.Forward(ctx, hit) {
		switch {
		case r.Err == nil:
			metrics.EventsForwarded.WithLabelValues(r.Handler).Inc()
			h.log.Debug("事件已转发", "handler", r.Handler, "name", hit.Name, "key", key)
		case errors.Is(r.Err, dispatch.ErrSuppressed):
			metrics.ForwardSuppressed.WithLabelValues(r.Handler).Inc()
			h.log.Debug("转发被拦截", "handler", r.Handler, "name", hit.Name)
		default:
			metrics.ForwardFailures.WithLabelValues(r.Handler).Inc()
			h.log.Warn("转发失败", "handler", r.Handler, "name", hit.Name, "error", r.Err)
		}
	}
}

// sendEvent 非阻塞发送通知
func (h *Handler) sendEvent(evt model.Event) {
	if h.events == nil {
		return
	}
	select {
	case h.events <- evt:
	default:
	}
}

func properties(c model.CandidateEvent) map[string]any {
	props := make(map[string]any, len(c.Detail)+2)
	for k, v := range c.Detail {
		props[k] = v
	}
	props["event_type"] = string(c.Kind)
	if c.Selector != "" {
		props["selector"] = c.Selector
	}
	return props
}
