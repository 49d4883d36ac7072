package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtrack/internal/config"
	"evtrack/internal/dom"
	"evtrack/pkg/api"
	"evtrack/pkg/model"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "evtrack.yaml")
	data := "sqlite:\n  dsn: " + filepath.Join(dir, "evtrack.sqlite3") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

// seed 录制一次点击并停止，留下一条 pending 记录
func seed(t *testing.T, path string) model.SessionID {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)
	ctx := context.Background()
	svc, err := api.NewService(ctx, cfg, nil)
	require.NoError(t, err)

	id, err := svc.StartRecording(ctx, true)
	require.NoError(t, err)
	doc, err := dom.ParseString(`<html><body><button id="buy">Buy now</button></body></html>`)
	require.NoError(t, err)
	svc.Publish(model.Signal{Type: "click", Target: doc.ByID("buy")})
	require.NoError(t, svc.StopRecording(ctx))
	require.NoError(t, svc.Close())
	return id
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func listEvents(t *testing.T, path, status string) []model.TrackedEvent {
	t.Helper()
	out, err := run(t, "--config", path, "events", "list", "--status", status, "--json")
	require.NoError(t, err)
	var events []model.TrackedEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events), out)
	return events
}

func TestEventsCommands(t *testing.T) {
	path := writeConfig(t)
	seed(t, path)

	pending := listEvents(t, path, "pending")
	require.Len(t, pending, 1)
	assert.Equal(t, "click:#buy", pending[0].Fingerprint)

	out, err := run(t, "--config", path, "events", "track", "click:#buy")
	require.NoError(t, err)
	assert.Equal(t, "track: click:#buy\n", out)

	_, err = run(t, "--config", path, "events", "alias", "click:#buy", "purchase")
	require.NoError(t, err)
	tracked := listEvents(t, path, "tracked")
	require.Len(t, tracked, 1)
	assert.Equal(t, "purchase", tracked[0].Alias)

	out, err = run(t, "--config", path, "events", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "KEY"))
	assert.Contains(t, lines[1], "purchase")

	_, err = run(t, "--config", path, "events", "ignore", "click:#buy")
	require.NoError(t, err)
	assert.Len(t, listEvents(t, path, "ignored"), 1)

	_, err = run(t, "--config", path, "events", "delete", "click:#buy")
	require.NoError(t, err)
	assert.Empty(t, listEvents(t, path, ""))

	_, err = run(t, "--config", path, "events", "ignore", "click:#missing")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = run(t, "--config", path, "events", "list", "--status", "archived")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSessionsCommands(t *testing.T) {
	path := writeConfig(t)
	id := seed(t, path)

	out, err := run(t, "--config", path, "sessions", "list", "--json")
	require.NoError(t, err)
	var sessions []model.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sessions), out)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Events)

	out, err = run(t, "--config", path, "sessions", "delete", string(id))
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 pending records")

	out, err = run(t, "--config", path, "sessions", "list")
	require.NoError(t, err)
	assert.Equal(t, "SESSION  STARTED  EVENTS  ACTIVE", strings.TrimSpace(out))
}

func TestRoot_Version(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "evtrack test\n", out)
}

func TestFormatEvent(t *testing.T) {
	c := &model.CandidateEvent{Kind: model.KindClick, DisplayName: "Buy now", Fingerprint: "click:#buy", IsTracked: true, Timestamp: time.Now()}
	line := formatEvent(model.Event{Type: model.EventCaptured, Candidate: c})
	assert.True(t, strings.HasPrefix(line, "* captured"))
	assert.Contains(t, line, `"Buy now"`)
	assert.True(t, strings.HasSuffix(line, "click:#buy"))

	line = formatEvent(model.Event{Type: model.EventForwarded, Name: "purchase", Fingerprint: "click:#buy"})
	assert.Contains(t, line, "forwarded")
	assert.Contains(t, line, `"purchase"`)
}
