package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtrack/pkg/model"
)

func newTestStore(t *testing.T) (*TrackedEventStore, *KVStore) {
	t.Helper()
	db, err := Open(Options{Dsn: filepath.Join(t.TempDir(), "test.sqlite3"), Prefix: "evtrack_"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return NewTrackedEventStore(db), NewKVStore(db)
}

func candidate(fp string, at time.Time) model.CandidateEvent {
	return model.CandidateEvent{
		ID:          "1",
		Kind:        model.KindClick,
		DisplayName: "Sign up",
		Selector:    "#signup-btn",
		Detail:      map[string]any{"tag": "button"},
		Fingerprint: fp,
		SessionID:   "session_a",
		Timestamp:   at,
	}
}

func TestRecordCandidate_InsertAndRefresh(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	t0 := time.UnixMilli(1700000000000)

	require.NoError(t, s.RecordCandidate(ctx, candidate("click:#signup-btn", t0), model.StatusPending))

	got, err := s.Get(ctx, "click:#signup-btn")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, model.KindClick, got.Kind)
	assert.Equal(t, "Sign up", got.Name)
	assert.Equal(t, "button", got.ExampleDetail["tag"])

	t1 := t0.Add(time.Minute)
	ev := candidate("click:#signup-btn", t1)
	ev.Detail = map[string]any{"tag": "a"}
	require.NoError(t, s.RecordCandidate(ctx, ev, model.StatusPending))

	got, err = s.Get(ctx, "click:#signup-btn")
	require.NoError(t, err)
	assert.True(t, t0.Equal(got.FirstSeen))
	assert.True(t, t1.Equal(got.LastSeen))
	assert.Equal(t, "a", got.ExampleDetail["tag"])
}

func TestRecordCandidate_NeverDowngrades(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Now()

	for _, status := range []model.Status{model.StatusTracked, model.StatusIgnored} {
		t.Run(string(status), func(t *testing.T) {
			fp := "click:#" + string(status)
			require.NoError(t, s.RecordCandidate(ctx, candidate(fp, now), model.StatusPending))
			require.NoError(t, s.UpdateStatus(ctx, fp, status))

			require.NoError(t, s.RecordCandidate(ctx, candidate(fp, now), model.StatusPending))
			got, err := s.Get(ctx, fp)
			require.NoError(t, err)
			assert.Equal(t, status, got.Status)
		})
	}

	t.Run("explicit track overrides", func(t *testing.T) {
		fp := "click:#upgrade"
		require.NoError(t, s.RecordCandidate(ctx, candidate(fp, now), model.StatusIgnored))
		require.NoError(t, s.RecordCandidate(ctx, candidate(fp, now), model.StatusTracked))
		got, err := s.Get(ctx, fp)
		require.NoError(t, err)
		assert.Equal(t, model.StatusTracked, got.Status)
	})
}

func TestRecordCandidate_Rejects(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	assert.Error(t, s.RecordCandidate(ctx, candidate("", time.Now()), model.StatusPending))
	assert.Error(t, s.RecordCandidate(ctx, candidate("click:#x", time.Now()), model.Status("archived")))
}

func TestListAndAdminActions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	base := time.UnixMilli(1700000000000)

	require.NoError(t, s.RecordCandidate(ctx, candidate("click:#a", base), model.StatusPending))
	require.NoError(t, s.RecordCandidate(ctx, candidate("click:#b", base.Add(time.Second)), model.StatusTracked))
	other := candidate("custom:kb-open", base.Add(2*time.Second))
	other.Kind = model.KindCustom
	other.SessionID = "session_b"
	require.NoError(t, s.RecordCandidate(ctx, other, model.StatusPending))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "custom:kb-open", all[0].Fingerprint)

	tracked, err := s.ListTrackedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, "click:#b", tracked[0].Fingerprint)

	require.NoError(t, s.SetAlias(ctx, "click:#b", "cta_click"))
	got, err := s.Get(ctx, "click:#b")
	require.NoError(t, err)
	assert.Equal(t, "cta_click", got.Alias)

	assert.ErrorIs(t, s.SetAlias(ctx, "click:#missing", "x"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "click:#missing", model.StatusIgnored), ErrNotFound)
	_, err = s.Get(ctx, "click:#missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.DeleteSession(ctx, "session_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err = s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "click:#b"))
	assert.ErrorIs(t, s.Delete(ctx, "click:#b"), ErrNotFound)

	custom, err := s.List(ctx, Filter{Kind: model.KindCustom, SessionID: "session_b"})
	require.NoError(t, err)
	require.Len(t, custom, 1)
}

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	_, kv := newTestStore(t)

	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", []byte(`{"a":1}`)))
	require.NoError(t, kv.Set(ctx, "k", []byte(`{"a":2}`)))
	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":2}`, string(v))

	require.NoError(t, kv.Delete(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.RecordCandidate(ctx, candidate("click:#a", now), model.StatusPending))
	require.NoError(t, s.RecordCandidate(ctx, candidate("click:#b", now), model.StatusPending))
	other := candidate("click:#c", now.Add(time.Second))
	other.SessionID = "session_b"
	require.NoError(t, s.RecordCandidate(ctx, other, model.StatusPending))

	got, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	counts := map[model.SessionID]int{}
	for _, sum := range got {
		counts[sum.ID] = sum.Events
	}
	assert.Equal(t, map[model.SessionID]int{"session_a": 2, "session_b": 1}, counts)
}
