package dispatch

import (
	"sync"
	"sync/atomic"
)

// State 处理器初始化状态：NotStarted -> Loading -> Ready | Failed
type State int32

const (
	StateNotStarted State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// lifecycle 只解析一次的初始化状态机
type lifecycle struct {
	once  sync.Once
	state atomic.Int32
	err   error
}

func (l *lifecycle) resolve(fn func() error) error {
	l.once.Do(func() {
		l.state.Store(int32(StateLoading))
		if err := fn(); err != nil {
			l.err = err
			l.state.Store(int32(StateFailed))
			return
		}
		l.state.Store(int32(StateReady))
	})
	return l.err
}

func (l *lifecycle) State() State {
	return State(l.state.Load())
}
