package model

import (
	"time"

	"evtrack/internal/selector"
)

type SessionID string

// Kind 交互事件类型
type Kind string

const (
	KindClick       Kind = "click"
	KindFormSubmit  Kind = "form_submit"
	KindInputChange Kind = "input_change"
	KindScroll      Kind = "scroll"
	KindCustom      Kind = "custom"
	KindHover       Kind = "hover"
)

// Valid 判断是否为已知类型
func (k Kind) Valid() bool {
	switch k {
	case KindClick, KindFormSubmit, KindInputChange, KindScroll, KindCustom, KindHover:
		return true
	}
	return false
}

// BySelector 该类型是否按选择器识别（否则按名称识别）
func (k Kind) BySelector() bool {
	switch k {
	case KindClick, KindInputChange, KindHover:
		return true
	}
	return false
}

// Status 已追踪事件的管理状态
type Status string

const (
	StatusPending Status = "pending"
	StatusTracked Status = "tracked"
	StatusIgnored Status = "ignored"
)

// Valid 判断是否为已知状态
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusTracked || s == StatusIgnored
}

// CandidateEvent 一次被观察到的交互，尚未被管理员决策
type CandidateEvent struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"type"`
	DisplayName string         `json:"name"`
	Selector    string         `json:"selector"`
	Detail      map[string]any `json:"detail,omitempty"`
	Fingerprint string         `json:"key"`
	SessionID   SessionID      `json:"sessionId"`
	Timestamp   time.Time      `json:"timestamp"`
	IsTracked   bool           `json:"isTracked"`
}

// Locator 返回参与指纹计算的定位值
func (e CandidateEvent) Locator() string {
	if e.Kind.BySelector() || e.Kind == KindFormSubmit {
		return e.Selector
	}
	return e.DisplayName
}

// CaptureSession 一个录制窗口
type CaptureSession struct {
	ID        SessionID        `json:"sessionId"`
	StartedAt time.Time        `json:"startedAt"`
	Events    []CandidateEvent `json:"events"`
	Frozen    bool             `json:"frozen,omitempty"`
}

// TrackedEvent 管理员维护的持久化事件记录，以 Fingerprint 为主键
type TrackedEvent struct {
	Fingerprint      string         `json:"key"`
	Kind             Kind           `json:"type"`
	Name             string         `json:"name"`
	Alias            string         `json:"alias,omitempty"`
	Selector         string         `json:"selector"`
	Status           Status         `json:"status"`
	FirstSeen        time.Time      `json:"firstSeen"`
	LastSeen         time.Time      `json:"lastSeen"`
	ExampleDetail    map[string]any `json:"exampleDetail,omitempty"`
	SessionID        SessionID      `json:"sessionId,omitempty"`
	SessionTimestamp time.Time      `json:"sessionTimestamp"`
}

// RecorderSettings 录制器偏好设置
type RecorderSettings struct {
	ShowDuplicates     bool `json:"showDuplicates"`
	IgnoreAdminSurface bool `json:"ignoreAdminSurface"`
	HighlightTracked   bool `json:"highlightTracked"`
}

// DefaultRecorderSettings 默认偏好
func DefaultRecorderSettings() RecorderSettings {
	return RecorderSettings{
		ShowDuplicates:     false,
		IgnoreAdminSurface: true,
		HighlightTracked:   true,
	}
}

// Signal 宿主环境投递的原始交互信号
type Signal struct {
	// Type 原始类型：click / submit / change / input / scroll / custom / hover
	Type string
	// Target 触发元素，滚动与文档级自定义事件可为空
	Target selector.Element
	// Name 自定义事件名或表单名
	Name          string
	Text          string
	Value         string
	Href          string
	URL           string
	ScrollPercent float64
	Properties    map[string]any
	// Admin 信号由管理员会话产生
	Admin bool
}

// Event UI 通知事件
type Event struct {
	Type        string          `json:"type"`
	Session     SessionID       `json:"session,omitempty"`
	Fingerprint string          `json:"key,omitempty"`
	Name        string          `json:"name,omitempty"`
	Candidate   *CandidateEvent `json:"candidate,omitempty"`
	Error       string          `json:"error,omitempty"`
}

const (
	EventCaptured  = "captured"
	EventTracked   = "tracked"
	EventUntracked = "untracked"
	EventForwarded = "forwarded"
)

type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[string]int64 `json:"byRule"`
}

// SessionSummary 录制会话概要
type SessionSummary struct {
	ID        SessionID `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
	LastSeen  time.Time `json:"lastSeen"`
	StoppedAt time.Time `json:"stoppedAt,omitempty"`
	Events    int       `json:"events"`
	Active    bool      `json:"active"`
}

// RecorderStatus 录制器状态快照
type RecorderStatus struct {
	State    string           `json:"state"`
	Session  SessionID        `json:"sessionId,omitempty"`
	Events   int              `json:"events"`
	Frozen   bool             `json:"frozen"`
	Settings RecorderSettings `json:"settings"`
}

// SandboxResult 沙盒测试结果
type SandboxResult struct {
	Kind        Kind   `json:"type"`
	Name        string `json:"name"`
	Selector    string `json:"selector,omitempty"`
	Fingerprint string `json:"key"`
	Matched     bool   `json:"matched"`
	// ForwardName 命中时转发使用的事件名
	ForwardName string `json:"forwardName,omitempty"`
}
