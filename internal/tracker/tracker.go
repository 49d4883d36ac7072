package tracker

import (
	"context"
	"fmt"
	"sync"

	"evtrack/internal/capture"
	"evtrack/internal/handler"
	"evtrack/internal/logger"
	"evtrack/internal/rules"
	"evtrack/internal/selector"
	"evtrack/internal/signal"
	"evtrack/pkg/model"
)

// Source 已追踪记录来源
type Source interface {
	ListTrackedEvents(ctx context.Context) ([]model.TrackedEvent, error)
}

// Forwarder 转发协调器
type Forwarder interface {
	Forward(ctx context.Context, c model.CandidateEvent, origin handler.Origin) (string, bool)
}

// Config 配置选项
type Config struct {
	Bus       *signal.Bus
	Builder   *capture.Builder
	Engine    *rules.Engine
	Source    Source
	Forwarder Forwarder
	// OwnSurfaceIDs 录制器界面内的交互不转发
	OwnSurfaceIDs []string
	Logger        logger.Logger
}

// Tracker 常驻转发路径：无论录制器是否在录制，命中规则的事件每次出现都转发一次
type Tracker struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel func()
	page   string
	scroll capture.ScrollMark
}

// New 创建追踪器
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Builder == nil {
		cfg.Builder = capture.NewBuilder(nil)
	}
	return &Tracker{cfg: cfg, log: cfg.Logger}
}

// Start 加载已追踪记录并订阅信号
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.Reload(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	t.ctx = context.WithoutCancel(ctx)
	t.cancel = t.cfg.Bus.Subscribe(t.handle)
	return nil
}

// Stop 取消订阅
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Reload 从记录来源刷新规则引擎中的已追踪集合
func (t *Tracker) Reload(ctx context.Context) error {
	if t.cfg.Source == nil || t.cfg.Engine == nil {
		return nil
	}
	events, err := t.cfg.Source.ListTrackedEvents(ctx)
	if err != nil {
		return fmt.Errorf("load tracked events: %w", err)
	}
	t.cfg.Engine.SetManaged(events)
	t.log.Debug("已追踪集合已刷新", "count", len(events))
	return nil
}

func (t *Tracker) handle(sig model.Signal) {
	defer func() {
		if p := recover(); p != nil {
			t.log.Error("转发交互信号时发生 panic", "type", sig.Type, "panic", fmt.Sprint(p))
		}
	}()

	if sig.Target != nil && selector.Within(sig.Target, t.cfg.OwnSurfaceIDs...) {
		return
	}
	kind, ok := capture.Classify(sig.Type)
	if !ok {
		return
	}

	t.mu.Lock()
	ctx := t.ctx
	depth := 0
	if kind == model.KindScroll {
		// 滚动阈值按页面计算
		if sig.URL != t.page {
			t.page = sig.URL
			t.scroll.Reset()
		}
		depth, ok = t.scroll.Cross(sig.ScrollPercent)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c, ok := t.cfg.Builder.Build(sig, kind, depth, "")
	if !ok {
		return
	}
	if name, ok := t.cfg.Forwarder.Forward(ctx, c, handler.Origin{URL: sig.URL, Admin: sig.Admin}); ok {
		t.log.Debug("事件命中转发规则", "key", c.Fingerprint, "name", name)
	}
}
