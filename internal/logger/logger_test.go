package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Writer: []string{"json"}, Output: &buf})

	l.With("component", "recorder").Warn("持久化失败", "key", "click:#a", "error", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "持久化失败", line["message"])
	assert.Equal(t, "recorder", line["component"])
	assert.Equal(t, "click:#a", line["key"])
	assert.Equal(t, "boom", line["error"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Writer: []string{"json"}, Output: &buf})
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Error("shown")
	assert.NotZero(t, buf.Len())
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info("x", "k", 1)
		l.With("a", "b").Error("y")
	})
}
