package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evtrack/internal/capture"
	"evtrack/internal/ctxkeys"
	"evtrack/internal/draft"
	"evtrack/internal/logger"
	"evtrack/internal/metrics"
	"evtrack/internal/selector"
	"evtrack/internal/session"
	"evtrack/internal/signal"
	"evtrack/internal/storage"
	"evtrack/pkg/model"
)

var (
	// ErrNotRecording 当前没有录制会话
	ErrNotRecording = errors.New("recorder is not recording")
	// ErrUnknownEvent 会话中不存在该指纹
	ErrUnknownEvent = errors.New("event not found in capture session")
	// ErrSessionRecording 会话仍在录制中
	ErrSessionRecording = errors.New("capture session is still recording")
)

// DefaultPersistTimeout 单次持久化调用的超时
const DefaultPersistTimeout = 10 * time.Second

// DefaultDraftTimeout 采集路径上写入草稿快照的超时
const DefaultDraftTimeout = 250 * time.Millisecond

// State 录制器状态
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Store 持久化接收端与已追踪记录来源
type Store interface {
	RecordCandidate(ctx context.Context, ev model.CandidateEvent, status model.Status) error
	ListTrackedEvents(ctx context.Context) ([]model.TrackedEvent, error)
	Delete(ctx context.Context, fingerprint string) error
}

// Bus 信号来源
type Bus interface {
	Subscribe(fn signal.Listener) (cancel func())
}

// Config 录制器配置
type Config struct {
	Bus      Bus
	Store    Store
	Drafts   *draft.Store
	Builder  *capture.Builder
	Sessions *session.Manager
	Events   chan model.Event
	Logger   logger.Logger

	// OwnSurfaceIDs 录制器自身界面，始终忽略
	OwnSurfaceIDs []string
	// AdminSurfaceIDs 管理工具栏，ignoreAdminSurface 开启时忽略
	AdminSurfaceIDs []string
	PersistTimeout  time.Duration
	// DraftTimeout 处理信号时写入草稿的超时，超时只丢弃本次快照
	DraftTimeout time.Duration

	// OnTrackedChange 追踪集合变化后调用
	OnTrackedChange func(ctx context.Context)
	NewSessionID    func() model.SessionID
}

// StartOptions 开始录制的选项
type StartOptions struct {
	// NewSession 清空去重索引，开启全新的会话
	NewSession bool
}

// Recorder 交互录制器
type Recorder struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	state    State
	session  *model.CaptureSession
	seen     map[string]struct{}
	tracked  map[string]bool
	scroll   capture.ScrollMark
	settings model.RecorderSettings
	cancel   func()

	wg sync.WaitGroup
}

// New 创建录制器
func New(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Drafts == nil {
		cfg.Drafts = draft.New(draft.NewMemoryKV(), cfg.Logger)
	}
	if cfg.Builder == nil {
		cfg.Builder = capture.NewBuilder(nil)
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.DraftTimeout <= 0 {
		cfg.DraftTimeout = DefaultDraftTimeout
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = model.NewSessionID
	}
	return &Recorder{
		cfg:      cfg,
		log:      cfg.Logger,
		seen:     make(map[string]struct{}),
		tracked:  make(map[string]bool),
		settings: model.DefaultRecorderSettings(),
	}
}

// Init 读取偏好；若外部录制标记仍开启，则恢复草稿会话继续录制
func (r *Recorder) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings = r.cfg.Drafts.LoadSettings(ctx)
	sess, ok := r.cfg.Drafts.LoadSession(ctx)
	active := r.cfg.Drafts.Recording(ctx)

	if !active {
		if ok {
			sess.Frozen = true
			r.session = sess
		}
		return nil
	}
	if !ok || sess.Frozen {
		r.log.Info("未找到可恢复的录制草稿，开启新会话")
		return r.startLocked(ctx, true)
	}

	r.session = sess
	r.seen = make(map[string]struct{}, len(sess.Events))
	r.scroll.Reset()
	for _, ev := range sess.Events {
		r.seen[ev.Fingerprint] = struct{}{}
		if ev.Kind == model.KindScroll {
			r.scroll.Restore(depthOf(ev))
		}
	}
	r.refreshTrackedLocked(ctx)
	r.attachLocked(ctx)
	if r.cfg.Sessions != nil {
		r.cfg.Sessions.Create(sess.ID, sess.StartedAt, len(sess.Events))
	}
	r.log.Info("恢复录制会话", "sessionID", string(sess.ID), "events", len(sess.Events))
	return nil
}

// Start 开始录制
func (r *Recorder) Start(ctx context.Context, opts StartOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		if !opts.NewSession {
			return nil
		}
		r.stopLocked(ctx)
	}
	return r.startLocked(ctx, opts.NewSession)
}

func (r *Recorder) startLocked(ctx context.Context, fresh bool) error {
	now := r.cfg.Builder.Now()
	r.session = &model.CaptureSession{
		ID:        r.cfg.NewSessionID(),
		StartedAt: now,
		Events:    []model.CandidateEvent{},
	}
	if fresh || r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	r.scroll.Reset()
	r.refreshTrackedLocked(ctx)
	r.attachLocked(ctx)

	if err := r.cfg.Drafts.SaveSession(ctx, r.session); err != nil {
		r.log.Warn("保存录制草稿失败", "error", err)
	}
	if r.cfg.Sessions != nil {
		r.cfg.Sessions.Create(r.session.ID, now, 0)
	}
	r.log.Info("开始录制", "sessionID", string(r.session.ID), "newSession", fresh)
	return nil
}

func (r *Recorder) attachLocked(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.cfg.Bus != nil {
		r.cancel = r.cfg.Bus.Subscribe(r.HandleSignal)
	}
	r.state = StateRecording
	metrics.Recording.Set(1)
	if err := r.cfg.Drafts.SetRecording(ctx, true); err != nil {
		r.log.Warn("写入录制标记失败", "error", err)
	}
}

// Stop 停止录制，会话冻结。可在任意时刻重复调用。
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(ctx)
	return nil
}

func (r *Recorder) stopLocked(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.state != StateRecording {
		return
	}
	r.state = StateIdle
	metrics.Recording.Set(0)

	if r.session != nil {
		r.session.Frozen = true
		if err := r.cfg.Drafts.SaveSession(ctx, r.session); err != nil {
			r.log.Warn("保存录制草稿失败", "error", err)
		}
		if r.cfg.Sessions != nil {
			r.cfg.Sessions.Close(r.session.ID, r.cfg.Builder.Now())
		}
		r.log.Info("停止录制", "sessionID", string(r.session.ID), "events", len(r.session.Events))
	}
	if err := r.cfg.Drafts.SetRecording(ctx, false); err != nil {
		r.log.Warn("清除录制标记失败", "error", err)
	}
}

// Discard 丢弃已停止的当前会话及其本地草稿。id 不是当前会话时返回 false。
func (r *Recorder) Discard(ctx context.Context, id model.SessionID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.ID != id {
		return false, nil
	}
	if r.state == StateRecording {
		return false, ErrSessionRecording
	}
	if err := r.cfg.Drafts.ClearSession(ctx); err != nil {
		return false, fmt.Errorf("clear draft session: %w", err)
	}
	r.session = nil
	r.seen = make(map[string]struct{})
	r.scroll.Reset()
	r.log.Info("已丢弃录制草稿", "sessionID", string(id))
	return true, nil
}

// HandleSignal 处理一个交互信号。不会向调用方返回错误或 panic。
func (r *Recorder) HandleSignal(sig model.Signal) {
	defer func() {
		if p := recover(); p != nil {
			metrics.SignalsIgnored.WithLabelValues("panic").Inc()
			r.log.Error("处理交互信号时发生 panic", "type", sig.Type, "panic", fmt.Sprint(p))
		}
	}()
	metrics.SignalsReceived.WithLabelValues(sig.Type).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording || r.session == nil || r.session.Frozen {
		return
	}
	if sig.Target != nil {
		if selector.Within(sig.Target, r.cfg.OwnSurfaceIDs...) {
			metrics.SignalsIgnored.WithLabelValues("own_surface").Inc()
			return
		}
		if r.settings.IgnoreAdminSurface && selector.Within(sig.Target, r.cfg.AdminSurfaceIDs...) {
			metrics.SignalsIgnored.WithLabelValues("admin_surface").Inc()
			return
		}
	}

	kind, ok := capture.Classify(sig.Type)
	if !ok {
		metrics.SignalsIgnored.WithLabelValues("unknown_type").Inc()
		return
	}
	depth := 0
	if kind == model.KindScroll {
		if depth, ok = r.scroll.Cross(sig.ScrollPercent); !ok {
			metrics.SignalsIgnored.WithLabelValues("scroll_threshold").Inc()
			return
		}
	}

	ev, ok := r.cfg.Builder.Build(sig, kind, depth, r.session.ID)
	if !ok {
		metrics.SignalsIgnored.WithLabelValues("unresolved").Inc()
		return
	}
	ev.IsTracked = r.tracked[ev.Fingerprint]

	if _, dup := r.seen[ev.Fingerprint]; dup && !r.settings.ShowDuplicates {
		metrics.EventsDeduplicated.Inc()
		return
	}
	r.seen[ev.Fingerprint] = struct{}{}
	r.session.Events = append(r.session.Events, ev)
	metrics.EventsCaptured.WithLabelValues(string(ev.Kind)).Inc()

	ctx, cancel := context.WithTimeout(ctxkeys.WithSessionID(context.Background(), string(ev.SessionID)), r.cfg.DraftTimeout)
	err := r.cfg.Drafts.SaveSession(ctx, r.session)
	cancel()
	if err != nil {
		r.log.Warn("保存录制草稿失败", "sessionID", string(ev.SessionID), "error", err)
	}
	if r.cfg.Sessions != nil {
		r.cfg.Sessions.Touch(r.session.ID, len(r.session.Events), ev.Timestamp)
	}

	captured := ev
	r.sendEvent(model.Event{Type: model.EventCaptured, Session: ev.SessionID, Fingerprint: ev.Fingerprint, Name: ev.DisplayName, Candidate: &captured})
	r.persist(ev, model.StatusPending)
}

// persist 异步写入持久化接收端，失败只记录日志
func (r *Recorder) persist(ev model.CandidateEvent, status model.Status) {
	if r.cfg.Store == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		ctx = ctxkeys.WithSessionID(ctx, string(ev.SessionID))
		if err := r.cfg.Store.RecordCandidate(ctx, ev, status); err != nil {
			metrics.PersistFailures.Inc()
			r.log.Warn("候选事件持久化失败", "key", ev.Fingerprint, "error", err)
		}
	}()
}

// Track 将会话中的事件标记为追踪。界面状态立即更新，持久化失败时返回错误但不回滚。
func (r *Recorder) Track(ctx context.Context, fingerprint string) error {
	r.mu.Lock()
	ev, ok := r.findLocked(fingerprint)
	if !ok {
		r.mu.Unlock()
		return ErrUnknownEvent
	}
	r.setTrackedLocked(ctx, fingerprint, true)
	r.mu.Unlock()

	r.sendEvent(model.Event{Type: model.EventTracked, Session: ev.SessionID, Fingerprint: fingerprint, Name: ev.DisplayName})
	ev.IsTracked = true
	if r.cfg.Store != nil {
		if err := r.cfg.Store.RecordCandidate(ctx, ev, model.StatusTracked); err != nil {
			return fmt.Errorf("track %s: %w", fingerprint, err)
		}
	}
	r.notifyTracked(ctx)
	return nil
}

// Untrack 取消追踪并删除持久化记录
func (r *Recorder) Untrack(ctx context.Context, fingerprint string) error {
	r.mu.Lock()
	ev, _ := r.findLocked(fingerprint)
	r.setTrackedLocked(ctx, fingerprint, false)
	r.mu.Unlock()

	r.sendEvent(model.Event{Type: model.EventUntracked, Session: ev.SessionID, Fingerprint: fingerprint, Name: ev.DisplayName})
	if r.cfg.Store != nil {
		err := r.cfg.Store.Delete(ctx, fingerprint)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("untrack %s: %w", fingerprint, err)
		}
	}
	r.notifyTracked(ctx)
	return nil
}

// RefreshTracked 重新读取已追踪集合，用于会话外的管理操作之后
func (r *Recorder) RefreshTracked(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshTrackedLocked(ctx)
}

func (r *Recorder) notifyTracked(ctx context.Context) {
	if r.cfg.OnTrackedChange != nil {
		r.cfg.OnTrackedChange(ctx)
	}
}

func (r *Recorder) findLocked(fingerprint string) (model.CandidateEvent, bool) {
	if r.session == nil {
		return model.CandidateEvent{}, false
	}
	for i := len(r.session.Events) - 1; i >= 0; i-- {
		if r.session.Events[i].Fingerprint == fingerprint {
			return r.session.Events[i], true
		}
	}
	return model.CandidateEvent{}, false
}

func (r *Recorder) setTrackedLocked(ctx context.Context, fingerprint string, on bool) {
	if on {
		r.tracked[fingerprint] = true
	} else {
		delete(r.tracked, fingerprint)
	}
	if r.session == nil {
		return
	}
	for i := range r.session.Events {
		if r.session.Events[i].Fingerprint == fingerprint {
			r.session.Events[i].IsTracked = on
		}
	}
	if err := r.cfg.Drafts.SaveSession(ctx, r.session); err != nil {
		r.log.Warn("保存录制草稿失败", "error", err)
	}
}

func (r *Recorder) refreshTrackedLocked(ctx context.Context) {
	if r.cfg.Store == nil {
		return
	}
	events, err := r.cfg.Store.ListTrackedEvents(ctx)
	if err != nil {
		r.log.Warn("读取已追踪事件失败", "error", err)
		return
	}
	tracked := make(map[string]bool, len(events))
	for _, ev := range events {
		tracked[ev.Fingerprint] = true
	}
	r.tracked = tracked
	if r.session == nil {
		return
	}
	for i := range r.session.Events {
		r.session.Events[i].IsTracked = tracked[r.session.Events[i].Fingerprint]
	}
}

// State 当前状态
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Session 当前（或最近一次）会话的副本
func (r *Recorder) Session() (model.CaptureSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return model.CaptureSession{}, false
	}
	out := *r.session
	out.Events = make([]model.CandidateEvent, len(r.session.Events))
	copy(out.Events, r.session.Events)
	return out, true
}

// Entries 展示顺序（最新在前）的事件列表
func (r *Recorder) Entries() []model.CandidateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	n := len(r.session.Events)
	out := make([]model.CandidateEvent, n)
	for i, ev := range r.session.Events {
		out[n-1-i] = ev
	}
	return out
}

// Settings 当前偏好
func (r *Recorder) Settings() model.RecorderSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// UpdateSettings 修改并保存偏好
func (r *Recorder) UpdateSettings(ctx context.Context, s model.RecorderSettings) error {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	if err := r.cfg.Drafts.SaveSettings(ctx, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Wait 等待所有进行中的持久化调用结束
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) sendEvent(evt model.Event) {
	if r.cfg.Events == nil {
		return
	}
	select {
	case r.cfg.Events <- evt:
	default:
	}
}

func depthOf(ev model.CandidateEvent) int {
	switch d := ev.Detail["depth"].(type) {
	case int:
		return d
	case float64:
		return int(d)
	}
	return 0
}
