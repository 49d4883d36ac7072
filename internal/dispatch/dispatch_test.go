package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type captured struct {
	mu    sync.Mutex
	paths []string
	query []string
	body  []string
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.query = append(c.query, r.URL.RawQuery)
		c.body = append(c.body, string(b))
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestRybbit_Forward(t *testing.T) {
	srv, c := newServer(t, http.StatusOK)
	r := NewRybbit(srv.URL+"/", "42", NewTransport(srv.Client()))
	assert.Equal(t, StateNotStarted, r.State())
	require.NoError(t, r.Init(context.Background()))
	assert.Equal(t, StateReady, r.State())

	err := r.Forward(context.Background(), Hit{
		Name:       "signup_click",
		Properties: map[string]any{"selector": "#signup-btn"},
		URL:        "https://example.com/pricing?plan=pro",
	})
	require.NoError(t, err)

	require.Len(t, c.body, 1)
	assert.Equal(t, "/api/track", c.paths[0])
	body := gjson.Parse(c.body[0])
	assert.Equal(t, "42", body.Get("site_id").String())
	assert.Equal(t, "custom_event", body.Get("type").String())
	assert.Equal(t, "signup_click", body.Get("event_name").String())
	assert.Equal(t, "example.com", body.Get("hostname").String())
	assert.Equal(t, "/pricing", body.Get("pathname").String())
	assert.Equal(t, "?plan=pro", body.Get("querystring").String())
	assert.Equal(t, "#signup-btn", gjson.Parse(body.Get("properties").String()).Get("selector").String())
}

func TestRybbit_NotConfigured(t *testing.T) {
	r := NewRybbit("", "", nil)
	err := r.Init(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, StateFailed, r.State())

	// 初始化只解析一次
	r.Host, r.SiteID = "https://app.rybbit.io", "1"
	assert.ErrorIs(t, r.Init(context.Background()), ErrNotConfigured)
	assert.ErrorIs(t, r.Forward(context.Background(), Hit{Name: "x"}), ErrNotReady)
}

func TestGoogle_Forward(t *testing.T) {
	srv, c := newServer(t, http.StatusNoContent)
	g := NewGoogle("G-TEST", "secret", NewTransport(srv.Client()))
	g.Endpoint = srv.URL + "/mp/collect"
	require.NoError(t, g.Init(context.Background()))

	require.NoError(t, g.Forward(context.Background(), Hit{Name: "kb-open", Properties: map[string]any{"plan": "pro"}}))

	require.Len(t, c.body, 1)
	assert.Equal(t, "/mp/collect", c.paths[0])
	assert.Contains(t, c.query[0], "measurement_id=G-TEST")
	assert.Contains(t, c.query[0], "api_secret=secret")
	body := gjson.Parse(c.body[0])
	assert.NotEmpty(t, body.Get("client_id").String())
	assert.Equal(t, "kb_open", body.Get("events.0.name").String())
	assert.Equal(t, "pro", body.Get("events.0.params.plan").String())
}

func TestGoogle_NotConfigured(t *testing.T) {
	g := NewGoogle("G-TEST", "", nil)
	assert.ErrorIs(t, g.Init(context.Background()), ErrNotConfigured)
}

func TestEventName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"signup_click", "signup_click"},
		{"btn-signup-click", "btn_signup_click"},
		{"1st click", "e_1st_click"},
		{"", "e_"},
		{"a_very_long_event_name_that_keeps_going_on_and_on", "a_very_long_event_name_that_keeps_going_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EventName(tt.in))
		})
	}
}

func TestTransport_Interceptors(t *testing.T) {
	srv, c := newServer(t, http.StatusOK)
	r := NewRybbit(srv.URL, "1", NewTransport(srv.Client(), SuppressAdmin))
	require.NoError(t, r.Init(context.Background()))

	err := r.Forward(context.Background(), Hit{Name: "x", Admin: true})
	assert.ErrorIs(t, err, ErrSuppressed)
	assert.Empty(t, c.body)

	require.NoError(t, r.Forward(context.Background(), Hit{Name: "x"}))
	assert.Len(t, c.body, 1)
}

func TestTransport_ErrorStatus(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway)
	r := NewRybbit(srv.URL, "1", NewTransport(srv.Client()))
	require.NoError(t, r.Init(context.Background()))
	assert.Error(t, r.Forward(context.Background(), Hit{Name: "x"}))
}

func TestRegistry_SkipsUnready(t *testing.T) {
	srv, c := newServer(t, http.StatusOK)
	ready := NewRybbit(srv.URL, "1", NewTransport(srv.Client()))
	broken := NewGoogle("", "", nil)

	reg := NewRegistry(nil, ready, broken)
	reg.Init(context.Background())
	assert.Equal(t, map[string]State{"rybbit": StateReady, "google": StateFailed}, reg.States())

	results := reg.Forward(context.Background(), Hit{Name: "signup"})
	require.Len(t, results, 1)
	assert.Equal(t, "rybbit", results[0].Handler)
	assert.NoError(t, results[0].Err)
	assert.Len(t, c.body, 1)
}
