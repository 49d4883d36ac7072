package api

import (
	"context"

	"evtrack/internal/config"
	"evtrack/internal/logger"
	"evtrack/internal/service"
	"evtrack/internal/storage"
	"evtrack/pkg/model"
	"evtrack/pkg/rulespec"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidArgument 参数不合法
	ErrInvalidArgument = service.ErrInvalidArgument
	// ErrSessionActive 会话仍在录制中
	ErrSessionActive = service.ErrSessionActive
)

// Service 服务接口
type Service interface {
	// Publish 投递交互信号
	Publish(sig model.Signal)

	// StartRecording 开始录制
	StartRecording(ctx context.Context, newSession bool) (model.SessionID, error)

	// StopRecording 停止录制
	StopRecording(ctx context.Context) error

	// RecordingState 获取录制器状态
	RecordingState() model.RecorderStatus

	// Entries 当前会话事件，最新在前
	Entries() []model.CandidateEvent

	// UpdateSettings 修改录制偏好
	UpdateSettings(ctx context.Context, st model.RecorderSettings) error

	// Track 标记事件为追踪
	Track(ctx context.Context, fingerprint string) error

	// Untrack 取消追踪
	Untrack(ctx context.Context, fingerprint string) error

	// Ignore 忽略事件
	Ignore(ctx context.Context, fingerprint string) error

	// SetAlias 设置转发别名
	SetAlias(ctx context.Context, fingerprint, alias string) error

	// ListEvents 列出事件记录
	ListEvents(ctx context.Context, status model.Status) ([]model.TrackedEvent, error)

	// ListSessions 列出录制会话
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)

	// DeleteSession 删除会话
	DeleteSession(ctx context.Context, id model.SessionID) (int64, error)

	// LoadRules 加载自定义事件规则
	LoadRules(rs []rulespec.Rule) error

	// Rules 获取自定义事件规则
	Rules() []rulespec.Rule

	// RuleStats 获取规则统计信息
	RuleStats() model.EngineStats

	// HandlerStates 获取统计处理器状态
	HandlerStates() map[string]string

	// TestEvent 沙盒测试事件载荷
	TestEvent(payload []byte) (model.SandboxResult, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents() <-chan model.Event

	// Close 关闭服务
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(ctx context.Context, cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
