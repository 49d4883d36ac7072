package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	adapter "evtrack/internal/adapter/cdp"
	"evtrack/internal/logger"
	"evtrack/internal/selector"
	"evtrack/pkg/model"
)

// DefaultDevToolsURL 本机 Chrome 远程调试默认地址
const DefaultDevToolsURL = "http://127.0.0.1:9222"

// Publisher 信号投递目标
type Publisher interface {
	Publish(sig model.Signal)
}

// Manager 浏览器连接管理：附加到页面目标，注入采集脚本并接收交互信号
type Manager struct {
	devtoolsURL string
	binding     string
	bus         Publisher
	log         logger.Logger

	mu     sync.Mutex
	conn   *rpcc.Conn
	client *cdp.Client
	target *devtool.Target
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建管理器
func New(devtoolsURL string, bus Publisher, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{devtoolsURL: devtoolsURL, binding: BindingName, bus: bus, log: l}
}

// ListTargets 列出可附加的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]*devtool.Target, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devtools targets: %w", err)
	}
	out := make([]*devtool.Target, 0, len(targets))
	for _, t := range targets {
		if t.Type == devtool.Page {
			out = append(out, t)
		}
	}
	return out, nil
}

// AttachTarget 附加到指定目标，target 为空时选择第一个页面
func (m *Manager) AttachTarget(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return fmt.Errorf("already attached to %s", m.target.ID)
	}

	targets, err := m.ListTargets(ctx)
	if err != nil {
		return err
	}
	var sel *devtool.Target
	for _, t := range targets {
		if target == "" || t.ID == target {
			sel = t
			break
		}
	}
	if sel == nil {
		if target == "" {
			return fmt.Errorf("no page target available at %s", m.devtoolsURL)
		}
		return fmt.Errorf("target %s not found", target)
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	m.conn = conn
	m.client = cdp.NewClient(conn)
	m.target = sel
	m.ctx = cctx
	m.cancel = cancel
	m.log.Info("已附加到页面", "targetID", sel.ID, "url", sel.URL)
	return nil
}

// Enable 注册绑定、注入采集脚本并开始接收信号
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return fmt.Errorf("not attached")
	}
	if m.done != nil {
		return nil
	}

	c := m.client
	if err := c.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("runtime enable: %w", err)
	}

	// 先订阅再注册绑定，避免丢失早期调用
	calls, err := c.Runtime.BindingCalled(m.ctx)
	if err != nil {
		return fmt.Errorf("subscribe binding: %w", err)
	}
	if err := c.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(m.binding)); err != nil {
		calls.Close()
		return fmt.Errorf("add binding: %w", err)
	}

	script := CaptureScript(m.binding)
	if _, err := c.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(script)); err != nil {
		calls.Close()
		return fmt.Errorf("install capture script: %w", err)
	}
	// 当前文档立即生效
	if reply, err := c.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(script)); err != nil {
		m.log.Warn("向当前文档注入采集脚本失败", "error", err)
	} else if reply.ExceptionDetails != nil {
		m.log.Warn("采集脚本执行异常", "error", reply.ExceptionDetails.Text)
	}

	m.done = make(chan struct{})
	go m.consume(calls, m.done)
	m.log.Info("开始接收交互信号", "binding", m.binding)
	return nil
}

// Resolve 在当前页面中按 CSS 选择器查找元素
func (m *Manager) Resolve(ctx context.Context, css string) (selector.Element, error) {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("not attached")
	}

	doc, err := c.DOM.GetDocument(ctx, dom.NewGetDocumentArgs().SetDepth(-1))
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	found, err := c.DOM.QuerySelector(ctx, dom.NewQuerySelectorArgs(doc.Root.NodeID, css))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", css, err)
	}
	el := adapter.NewTree(&doc.Root).Element(found.NodeID)
	if el == nil {
		return nil, fmt.Errorf("no element matches %q", css)
	}
	return el, nil
}

// Done 信号接收结束时关闭
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Detach 断开连接
func (m *Manager) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	var err error
	if m.conn != nil {
		err = m.conn.Close()
		m.conn = nil
		m.client = nil
		m.log.Info("已断开页面连接", "targetID", m.target.ID)
	}
	return err
}
