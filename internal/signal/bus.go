package signal

import (
	"sync"

	"evtrack/pkg/model"
)

// Listener 信号处理函数
type Listener func(model.Signal)

// Bus 交互信号总线。投递是同步且串行的：
// 一个信号在所有监听者处理完毕之前，下一个信号不会开始处理。
type Bus struct {
	deliver sync.Mutex

	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]Listener
	order     []uint64
}

// NewBus 创建信号总线
func NewBus() *Bus {
	return &Bus{listeners: make(map[uint64]Listener)}
}

// Subscribe 注册监听者，返回的取消函数可重复调用
func (b *Bus) Subscribe(fn Listener) (cancel func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.listeners[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish 按注册顺序投递信号
func (b *Bus) Publish(sig model.Signal) {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.RLock()
	fns := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// Listeners 当前监听者数量
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
