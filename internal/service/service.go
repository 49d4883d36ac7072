package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"evtrack/internal/capture"
	"evtrack/internal/config"
	"evtrack/internal/dispatch"
	"evtrack/internal/draft"
	"evtrack/internal/handler"
	"evtrack/internal/logger"
	"evtrack/internal/recorder"
	"evtrack/internal/rules"
	"evtrack/internal/selector"
	"evtrack/internal/session"
	"evtrack/internal/signal"
	"evtrack/internal/storage"
	"evtrack/internal/tracker"
	"evtrack/pkg/model"
	"evtrack/pkg/rulespec"
)

var (
	// ErrInvalidArgument 参数不合法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSessionActive 会话仍在录制中
	ErrSessionActive = errors.New("session is still recording")
)

const eventBuffer = 256

// Service 服务实现：组装存储、规则、录制、转发各组件
type Service struct {
	cfg *config.Config
	log logger.Logger

	db       *gorm.DB
	store    *storage.TrackedEventStore
	drafts   *draft.Store
	engine   *rules.Engine
	registry *dispatch.Registry
	handler  *handler.Handler
	bus      *signal.Bus
	builder  *capture.Builder
	tracker  *tracker.Tracker
	recorder *recorder.Recorder
	sessions *session.Manager
	events   chan model.Event

	closeOnce sync.Once
	closeErr  error
}

// New 创建服务实例
func New(ctx context.Context, cfg *config.Config, l logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	customRules, err := cfg.CustomRules()
	if err != nil {
		return nil, fmt.Errorf("custom rules: %w", err)
	}

	db, err := storage.Open(storage.Options{Dsn: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix}, l)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		log:      l,
		db:       db,
		store:    storage.NewTrackedEventStore(db),
		engine:   rules.New(customRules),
		bus:      signal.NewBus(),
		builder:  capture.NewBuilder(selector.New(cfg.Recorder.TrackingAttributes...)),
		sessions: session.NewManager(l),
		events:   make(chan model.Event, eventBuffer),
	}
	kv := storage.NewKVStore(db)
	s.drafts = draft.New(kv, l)
	if _, ok, err := kv.Get(ctx, draft.SettingsKey); err == nil && !ok {
		if err := s.drafts.SaveSettings(ctx, settingsFromConfig(cfg.Recorder)); err != nil {
			l.Warn("写入默认录制偏好失败", "error", err)
		}
	}

	transport := dispatch.NewTransport(nil)
	if cfg.Analytics.SuppressAdmin {
		transport.Use(dispatch.SuppressAdmin)
	}
	s.registry = dispatch.NewRegistry(l,
		dispatch.NewRybbit(cfg.Analytics.Rybbit.Host, cfg.Analytics.Rybbit.SiteID, transport),
		dispatch.NewGoogle(cfg.Analytics.Google.MeasurementID, cfg.Analytics.Google.APISecret, transport),
	)
	s.registry.Init(ctx)

	s.handler = handler.New(handler.Config{
		Engine:   s.engine,
		Registry: s.registry,
		Events:   s.events,
		Logger:   l.With("component", "handler"),
	})
	s.tracker = tracker.New(tracker.Config{
		Bus:           s.bus,
		Builder:       s.builder,
		Engine:        s.engine,
		Source:        s.store,
		Forwarder:     s.handler,
		OwnSurfaceIDs: cfg.Recorder.OwnSurfaceIDs,
		Logger:        l.With("component", "tracker"),
	})
	s.recorder = recorder.New(recorder.Config{
		Bus:             s.bus,
		Store:           s.store,
		Drafts:          s.drafts,
		Builder:         s.builder,
		Sessions:        s.sessions,
		Events:          s.events,
		Logger:          l.With("component", "recorder"),
		OwnSurfaceIDs:   cfg.Recorder.OwnSurfaceIDs,
		AdminSurfaceIDs: cfg.Recorder.AdminSurfaceIDs,
		PersistTimeout:  cfg.Recorder.PersistTimeout,
		OnTrackedChange: s.reload,
	})

	if err := s.tracker.Start(ctx); err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	if err := s.recorder.Init(ctx); err != nil {
		s.tracker.Stop()
		_ = storage.Close(db)
		return nil, fmt.Errorf("init recorder: %w", err)
	}
	l.Info("服务已启动", "dsn", cfg.Sqlite.Dsn, "rules", len(customRules))
	return s, nil
}

func settingsFromConfig(rc config.RecorderConfig) model.RecorderSettings {
	return model.RecorderSettings{
		ShowDuplicates:     rc.ShowDuplicates,
		IgnoreAdminSurface: rc.IgnoreAdminSurface,
		HighlightTracked:   rc.HighlightTracked,
	}
}

// Publish 投递一个交互信号（cdp.Publisher）
func (s *Service) Publish(sig model.Signal) {
	s.bus.Publish(sig)
}

// StartRecording 开始录制，返回当前会话 ID
func (s *Service) StartRecording(ctx context.Context, newSession bool) (model.SessionID, error) {
	if err := s.recorder.Start(ctx, recorder.StartOptions{NewSession: newSession}); err != nil {
		return "", err
	}
	sess, _ := s.recorder.Session()
	return sess.ID, nil
}

// StopRecording 停止录制
func (s *Service) StopRecording(ctx context.Context) error {
	return s.recorder.Stop(ctx)
}

// RecordingState 录制器状态
func (s *Service) RecordingState() model.RecorderStatus {
	st := model.RecorderStatus{
		State:    s.recorder.State().String(),
		Settings: s.recorder.Settings(),
	}
	if sess, ok := s.recorder.Session(); ok {
		st.Session = sess.ID
		st.Events = len(sess.Events)
		st.Frozen = sess.Frozen
	}
	return st
}

// Entries 当前会话事件，最新在前
func (s *Service) Entries() []model.CandidateEvent {
	return s.recorder.Entries()
}

// UpdateSettings 修改录制偏好
func (s *Service) UpdateSettings(ctx context.Context, st model.RecorderSettings) error {
	return s.recorder.UpdateSettings(ctx, st)
}

// Track 标记为追踪。事件不在当前会话中时直接修改持久化记录。
func (s *Service) Track(ctx context.Context, fingerprint string) error {
	err := s.recorder.Track(ctx, fingerprint)
	if !errors.Is(err, recorder.ErrUnknownEvent) {
		return err
	}
	if err := s.store.UpdateStatus(ctx, fingerprint, model.StatusTracked); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// Untrack 取消追踪并删除记录
func (s *Service) Untrack(ctx context.Context, fingerprint string) error {
	return s.recorder.Untrack(ctx, fingerprint)
}

// Ignore 标记为忽略
func (s *Service) Ignore(ctx context.Context, fingerprint string) error {
	if err := s.store.UpdateStatus(ctx, fingerprint, model.StatusIgnored); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// SetAlias 设置转发别名
func (s *Service) SetAlias(ctx context.Context, fingerprint, alias string) error {
	if err := s.store.SetAlias(ctx, fingerprint, alias); err != nil {
		return err
	}
	s.reload(ctx)
	return nil
}

// ListEvents 按状态列出持久化记录，status 为空时列出全部
func (s *Service) ListEvents(ctx context.Context, status model.Status) ([]model.TrackedEvent, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}
	return s.store.List(ctx, storage.Filter{Status: status})
}

// ListSessions 合并内存中的会话与持久化记录中的会话，按开始时间倒序
func (s *Service) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	stored, err := s.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[model.SessionID]model.SessionSummary, len(stored))
	for _, ss := range stored {
		byID[ss.ID] = ss
	}
	for _, live := range s.sessions.List() {
		if ss, ok := byID[live.ID]; ok && ss.LastSeen.After(live.LastSeen) {
			live.LastSeen = ss.LastSeen
		}
		byID[live.ID] = live
	}
	out := make([]model.SessionSummary, 0, len(byID))
	for _, ss := range byID {
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// DeleteSession 删除会话及其待处理记录，返回删除的记录数
func (s *Service) DeleteSession(ctx context.Context, id model.SessionID) (int64, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	}
	if live, ok := s.sessions.Get(id); ok && live.Active {
		return 0, fmt.Errorf("delete session %s: %w", id, ErrSessionActive)
	}
	if _, err := s.recorder.Discard(ctx, id); err != nil {
		if errors.Is(err, recorder.ErrSessionRecording) {
			return 0, fmt.Errorf("delete session %s: %w", id, ErrSessionActive)
		}
		return 0, err
	}
	n, err := s.store.DeleteSession(ctx, id)
	if err != nil {
		return 0, err
	}
	s.sessions.Delete(id)
	s.log.Info("已删除录制会话", "sessionID", string(id), "records", n)
	return n, nil
}

// LoadRules 替换自定义事件名规则
func (s *Service) LoadRules(rs []rulespec.Rule) error {
	if err := rulespec.Validate(rs); err != nil {
		return err
	}
	s.engine.Update(rs)
	s.log.Info("自定义规则已更新", "count", len(rs))
	return nil
}

// Rules 当前自定义事件名规则
func (s *Service) Rules() []rulespec.Rule {
	return s.engine.Rules()
}

// RuleStats 规则匹配统计
func (s *Service) RuleStats() model.EngineStats {
	return s.engine.Stats()
}

// HandlerStates 统计处理器状态
func (s *Service) HandlerStates() map[string]string {
	out := make(map[string]string)
	for name, st := range s.registry.States() {
		out[name] = st.String()
	}
	return out
}

// SubscribeEvents 订阅通知事件
func (s *Service) SubscribeEvents() <-chan model.Event {
	return s.events
}

// Close 等待进行中的任务并关闭数据库。不清除录制标记，下次启动时恢复录制。
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.tracker.Stop()
		s.recorder.Wait()
		s.handler.Wait()
		s.closeErr = storage.Close(s.db)
		s.log.Info("服务已关闭")
	})
	return s.closeErr
}

// refresh 会话外的管理操作之后同步录制器与转发规则
func (s *Service) refresh(ctx context.Context) {
	s.recorder.RefreshTracked(ctx)
	s.reload(ctx)
}

func (s *Service) reload(ctx context.Context) {
	if err := s.tracker.Reload(ctx); err != nil {
		s.log.Warn("刷新已追踪集合失败", "error", err)
	}
}
