package session

import (
	"sort"
	"sync"
	"time"

	"evtrack/internal/logger"
	"evtrack/pkg/model"
)

// Manager 本进程内录制会话的注册表
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*model.SessionSummary
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*model.SessionSummary),
		log:      l,
	}
}

// Create 注册会话，已存在时重新标记为活动状态
func (m *Manager) Create(id model.SessionID, startedAt time.Time, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Active = true
		s.StoppedAt = time.Time{}
		s.Events = events
		m.log.Info("恢复录制会话", "sessionID", string(id))
		return
	}
	m.sessions[id] = &model.SessionSummary{
		ID:        id,
		StartedAt: startedAt,
		LastSeen:  startedAt,
		Events:    events,
		Active:    true,
	}
	m.log.Info("创建录制会话", "sessionID", string(id))
}

// Touch 更新会话事件数
func (m *Manager) Touch(id model.SessionID, events int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Events = events
		s.LastSeen = at
	}
}

// Close 标记会话结束
func (m *Manager) Close(id model.SessionID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Active = false
		s.StoppedAt = at
		m.log.Info("结束录制会话", "sessionID", string(id), "events", s.Events)
	}
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (model.SessionSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.SessionSummary{}, false
	}
	return *s, true
}

// Delete 移除会话
func (m *Manager) Delete(id model.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.log.Info("删除录制会话", "sessionID", string(id))
}

// List 按开始时间倒序返回所有会话
func (m *Manager) List() []model.SessionSummary {
	m.mu.RLock()
	list := make([]model.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, *s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list
}
