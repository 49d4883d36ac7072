package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"evtrack/internal/ctxkeys"
	"evtrack/pkg/model"
)

// TrackedEvent 已追踪事件表，以指纹为主键
type TrackedEvent struct {
	Fingerprint      string `gorm:"primaryKey;size:512"`
	Kind             string `gorm:"size:32;index"`
	Name             string `gorm:"size:255"`
	Alias            string `gorm:"size:255"`
	Selector         string `gorm:"type:text"`
	Status           string `gorm:"size:16;index"`
	FirstSeen        time.Time
	LastSeen         time.Time `gorm:"index"`
	ExampleDetail    string    `gorm:"type:text"`
	SessionID        string    `gorm:"size:64;index"`
	SessionTimestamp time.Time
}

// Filter 列表查询条件，零值字段不参与过滤
type Filter struct {
	Status    model.Status
	Kind      model.Kind
	SessionID model.SessionID
}

// TrackedEventStore 已追踪事件的持久化
type TrackedEventStore struct {
	db *gorm.DB
}

// NewTrackedEventStore 创建存储
func NewTrackedEventStore(db *gorm.DB) *TrackedEventStore {
	return &TrackedEventStore{db: db}
}

// RecordCandidate 按指纹 upsert 候选事件。
// 首次出现时以 status 插入；重复出现只刷新 lastSeen 与 exampleDetail，
// 仅当 status 为 tracked 时才覆盖已有状态。
func (s *TrackedEventStore) RecordCandidate(ctx context.Context, ev model.CandidateEvent, status model.Status) error {
	if ev.Fingerprint == "" {
		return fmt.Errorf("candidate event has empty fingerprint")
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	seen := ev.Timestamp
	if seen.IsZero() {
		seen = time.Now()
	}
	detail, err := encodeDetail(ev.Detail)
	if err != nil {
		return err
	}

	ctx = ctxkeys.WithSessionID(ctx, string(ev.SessionID))
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec TrackedEvent
		err := tx.Where("fingerprint = ?", ev.Fingerprint).Take(&rec).Error
		if isNotFound(err) {
			rec = TrackedEvent{
				Fingerprint:      ev.Fingerprint,
				Kind:             string(ev.Kind),
				Name:             ev.DisplayName,
				Selector:         ev.Selector,
				Status:           string(status),
				FirstSeen:        seen,
				LastSeen:         seen,
				ExampleDetail:    detail,
				SessionID:        string(ev.SessionID),
				SessionTimestamp: seen,
			}
			return tx.Create(&rec).Error
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", ev.Fingerprint, err)
		}

		updates := map[string]any{
			"last_seen":         seen,
			"example_detail":    detail,
			"session_id":        string(ev.SessionID),
			"session_timestamp": seen,
		}
		if status == model.StatusTracked {
			updates["status"] = string(model.StatusTracked)
		}
		return tx.Model(&rec).Updates(updates).Error
	})
}

// ListTrackedEvents 返回 tracked 状态的记录
func (s *TrackedEventStore) ListTrackedEvents(ctx context.Context) ([]model.TrackedEvent, error) {
	return s.List(ctx, Filter{Status: model.StatusTracked})
}

// List 按条件列出记录，最近出现的在前
func (s *TrackedEventStore) List(ctx context.Context, f Filter) ([]model.TrackedEvent, error) {
	q := s.db.WithContext(ctx).Model(&TrackedEvent{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", string(f.SessionID))
	}
	var recs []TrackedEvent
	if err := q.Order("last_seen DESC").Order("fingerprint").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list tracked events: %w", err)
	}
	out := make([]model.TrackedEvent, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

// Get 按指纹读取
func (s *TrackedEventStore) Get(ctx context.Context, fingerprint string) (*model.TrackedEvent, error) {
	var rec TrackedEvent
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&rec).Error
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fingerprint, err)
	}
	ev := rec.toModel()
	return &ev, nil
}

// UpdateStatus 管理员修改状态
func (s *TrackedEventStore) UpdateStatus(ctx context.Context, fingerprint string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.update(ctx, fingerprint, map[string]any{"status": string(status)})
}

// SetAlias 设置转发别名，空字符串表示清除
func (s *TrackedEventStore) SetAlias(ctx context.Context, fingerprint, alias string) error {
	return s.update(ctx, fingerprint, map[string]any{"alias": alias})
}

func (s *TrackedEventStore) update(ctx context.Context, fingerprint string, updates map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec TrackedEvent
		err := tx.Where("fingerprint = ?", fingerprint).Take(&rec).Error
		if isNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", fingerprint, err)
		}
		return tx.Model(&rec).Updates(updates).Error
	})
}

// Delete 删除记录
func (s *TrackedEventStore) Delete(ctx context.Context, fingerprint string) error {
	res := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Delete(&TrackedEvent{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", fingerprint, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession 删除某次录制产生的待处理记录，已决策的记录保留
func (s *TrackedEventStore) DeleteSession(ctx context.Context, id model.SessionID) (int64, error) {
	ctx = ctxkeys.WithSessionID(ctx, string(id))
	res := s.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", string(id), string(model.StatusPending)).
		Delete(&TrackedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete session %s: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}

// Sessions 按录制会话汇总记录数
func (s *TrackedEventStore) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	var rows []struct {
		SessionID string
		Events    int
		StartedAt string
		LastSeen  string
	}
	err := s.db.WithContext(ctx).Model(&TrackedEvent{}).
		Select("session_id, COUNT(*) AS events, MIN(session_timestamp) AS started_at, MAX(last_seen) AS last_seen").
		Where("session_id <> ''").
		Group("session_id").
		Order("last_seen DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.SessionSummary{
			ID:        model.SessionID(r.SessionID),
			Events:    r.Events,
			StartedAt: parseTime(r.StartedAt),
			LastSeen:  parseTime(r.LastSeen),
		})
	}
	return out, nil
}

func (r *TrackedEvent) toModel() model.TrackedEvent {
	ev := model.TrackedEvent{
		Fingerprint:      r.Fingerprint,
		Kind:             model.Kind(r.Kind),
		Name:             r.Name,
		Alias:            r.Alias,
		Selector:         r.Selector,
		Status:           model.Status(r.Status),
		FirstSeen:        r.FirstSeen,
		LastSeen:         r.LastSeen,
		SessionID:        model.SessionID(r.SessionID),
		SessionTimestamp: r.SessionTimestamp,
	}
	if r.ExampleDetail != "" {
		_ = json.Unmarshal([]byte(r.ExampleDetail), &ev.ExampleDetail)
	}
	return ev
}

// parseTime 解析聚合查询返回的时间文本
func parseTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func encodeDetail(d map[string]any) (string, error) {
	if len(d) == 0 {
		return "", nil
	}
	b, err := json.Marshal(model.CapDetail(d))
	if err != nil {
		return "", fmt.Errorf("encode detail: %w", err)
	}
	return string(b), nil
}
