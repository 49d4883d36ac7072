package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"evtrack/internal/logger"
	"evtrack/pkg/model"
)

// 本地草稿存储的键
const (
	SessionKey   = "evtrack_recording_session"
	SettingsKey  = "evtrack_recorder_settings"
	RecordingKey = "evtrack_recording_active"
)

// KV 键值存储（浏览器 localStorage 的等价物）
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store 录制草稿与偏好设置的读写
type Store struct {
	kv  KV
	log logger.Logger
}

// New 创建草稿存储
func New(kv KV, l logger.Logger) *Store {
	if l == nil {
		l = logger.NewNop()
	}
	return &Store{kv: kv, log: l}
}

type sessionBlob struct {
	SessionID model.SessionID        `json:"sessionId"`
	StartedAt int64                  `json:"startedAt,omitempty"`
	Frozen    bool                   `json:"frozen,omitempty"`
	Events    []model.CandidateEvent `json:"events"`
}

// LoadSession 读取草稿会话，缺失或损坏时视为不存在
func (s *Store) LoadSession(ctx context.Context) (*model.CaptureSession, bool) {
	data, ok, err := s.kv.Get(ctx, SessionKey)
	if err != nil {
		s.log.Warn("读取草稿会话失败", "error", err)
		return nil, false
	}
	if !ok || len(data) == 0 {
		return nil, false
	}
	var blob sessionBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		s.log.Warn("草稿会话已损坏，忽略", "error", err)
		return nil, false
	}
	if blob.SessionID == "" {
		s.log.Warn("草稿会话缺少 sessionId，忽略")
		return nil, false
	}
	sess := &model.CaptureSession{ID: blob.SessionID, Frozen: blob.Frozen, Events: blob.Events}
	if blob.StartedAt > 0 {
		sess.StartedAt = time.UnixMilli(blob.StartedAt)
	}
	if sess.Events == nil {
		sess.Events = []model.CandidateEvent{}
	}
	return sess, true
}

// SaveSession 写入会话快照
func (s *Store) SaveSession(ctx context.Context, sess *model.CaptureSession) error {
	blob := sessionBlob{
		SessionID: sess.ID,
		Frozen:    sess.Frozen,
		Events:    sess.Events,
	}
	if !sess.StartedAt.IsZero() {
		blob.StartedAt = sess.StartedAt.UnixMilli()
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.kv.Set(ctx, SessionKey, data)
}

// ClearSession 删除草稿会话
func (s *Store) ClearSession(ctx context.Context) error {
	return s.kv.Delete(ctx, SessionKey)
}

// LoadSettings 读取偏好，缺失字段使用默认值
func (s *Store) LoadSettings(ctx context.Context) model.RecorderSettings {
	out := model.DefaultRecorderSettings()
	data, ok, err := s.kv.Get(ctx, SettingsKey)
	if err != nil {
		s.log.Warn("读取录制偏好失败", "error", err)
		return out
	}
	if !ok || !gjson.ValidBytes(data) {
		return out
	}
	res := gjson.ParseBytes(data)
	if v := res.Get("showDuplicates"); v.Exists() {
		out.ShowDuplicates = v.Bool()
	}
	if v := res.Get("ignoreAdminSurface"); v.Exists() {
		out.IgnoreAdminSurface = v.Bool()
	}
	if v := res.Get("highlightTracked"); v.Exists() {
		out.HighlightTracked = v.Bool()
	}
	return out
}

// SaveSettings 写入偏好，保留 blob 中的其他字段
func (s *Store) SaveSettings(ctx context.Context, st model.RecorderSettings) error {
	data, ok, err := s.kv.Get(ctx, SettingsKey)
	if err != nil || !ok || !gjson.ValidBytes(data) {
		data = []byte(`{}`)
	}
	for _, f := range []struct {
		path string
		val  bool
	}{
		{"showDuplicates", st.ShowDuplicates},
		{"ignoreAdminSurface", st.IgnoreAdminSurface},
		{"highlightTracked", st.HighlightTracked},
	} {
		data, err = sjson.SetBytes(data, f.path, f.val)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
	}
	return s.kv.Set(ctx, SettingsKey, data)
}

// SetRecording 设置外部录制标记
func (s *Store) SetRecording(ctx context.Context, on bool) error {
	if !on {
		return s.kv.Delete(ctx, RecordingKey)
	}
	return s.kv.Set(ctx, RecordingKey, []byte("true"))
}

// Recording 外部录制标记是否处于开启状态
func (s *Store) Recording(ctx context.Context) bool {
	data, ok, err := s.kv.Get(ctx, RecordingKey)
	if err != nil || !ok {
		return false
	}
	return gjson.ParseBytes(data).Bool()
}

// MemoryKV 内存实现
type MemoryKV struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryKV 创建内存键值存储
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.m[key] = v
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}
