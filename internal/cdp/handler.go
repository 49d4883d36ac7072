package cdp

import (
	"github.com/mafredri/cdp/protocol/runtime"

	adapter "evtrack/internal/adapter/cdp"
)

// consume 循环读取绑定调用，直到连接关闭
func (m *Manager) consume(calls runtime.BindingCalledClient, done chan struct{}) {
	defer close(done)
	defer calls.Close()
	for {
		ev, err := calls.Recv()
		if err != nil {
			m.log.Debug("停止接收交互信号", "error", err)
			return
		}
		m.handle(ev)
	}
}

// handle 解析一次绑定调用并投递到信号总线
func (m *Manager) handle(ev *runtime.BindingCalledReply) {
	if ev.Name != m.binding {
		return
	}
	sig, err := adapter.ParseSignal(ev.Payload)
	if err != nil {
		m.log.Warn("忽略无法解析的交互信号", "error", err)
		return
	}
	m.log.Debug("收到交互信号", "type", sig.Type, "url", sig.URL)
	if m.bus != nil {
		m.bus.Publish(sig)
	}
}
