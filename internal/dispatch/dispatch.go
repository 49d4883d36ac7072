package dispatch

import (
	"context"
	"errors"

	"evtrack/internal/logger"
)

var (
	// ErrNotConfigured 缺少端点或凭据
	ErrNotConfigured = errors.New("analytics handler not configured")
	// ErrNotReady 处理器尚未就绪
	ErrNotReady = errors.New("analytics handler not ready")
)

// Hit 一次需要转发的事件
type Hit struct {
	Name       string
	Properties map[string]any
	// URL 事件发生的页面地址
	URL   string
	Admin bool
}

// Handler 统计平台适配器
type Handler interface {
	Name() string
	// Init 只执行一次，重复调用返回首次结果
	Init(ctx context.Context) error
	State() State
	Forward(ctx context.Context, hit Hit) error
}

// Result 单个处理器的转发结果
type Result struct {
	Handler string
	Err     error
}

// Registry 统计处理器注册表，处理器集合在创建后固定
type Registry struct {
	handlers []Handler
	log      logger.Logger
}

// NewRegistry 创建注册表
func NewRegistry(l logger.Logger, hs ...Handler) *Registry {
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{handlers: hs, log: l}
}

// Init 初始化所有处理器，失败的处理器被跳过
func (r *Registry) Init(ctx context.Context) {
	for _, h := range r.handlers {
		if err := h.Init(ctx); err != nil {
			r.log.Warn("统计处理器初始化失败，已跳过", "handler", h.Name(), "error", err)
			continue
		}
		r.log.Info("统计处理器就绪", "handler", h.Name())
	}
}

// Forward 向所有就绪的处理器转发，不重试
func (r *Registry) Forward(ctx context.Context, hit Hit) []Result {
	var out []Result
	for _, h := range r.handlers {
		if h.State() != StateReady {
			continue
		}
		out = append(out, Result{Handler: h.Name(), Err: h.Forward(ctx, hit)})
	}
	return out
}

// States 各处理器当前状态
func (r *Registry) States() map[string]State {
	out := make(map[string]State)
	for _, h := range r.handlers {
		out[h.Name()] = h.State()
	}
	return out
}
