package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtrack/internal/dom"
	"evtrack/internal/handler"
	"evtrack/internal/rules"
	"evtrack/internal/signal"
	"evtrack/pkg/model"
	"evtrack/pkg/rulespec"
)

type source struct {
	events []model.TrackedEvent
	err    error
}

func (s *source) ListTrackedEvents(context.Context) ([]model.TrackedEvent, error) {
	return s.events, s.err
}

// recordingForwarder 使用真实引擎判定，只记录命中的名称
type recordingForwarder struct {
	engine *rules.Engine
	mu     sync.Mutex
	names  []string
	admin  []bool
}

func (f *recordingForwarder) Forward(_ context.Context, c model.CandidateEvent, o handler.Origin) (string, bool) {
	name, ok := f.engine.Decide(c)
	if ok {
		f.mu.Lock()
		f.names = append(f.names, name)
		f.admin = append(f.admin, o.Admin)
		f.mu.Unlock()
	}
	return name, ok
}

const page = `<html><body>
<main><section class="pricing"><button class="btn buy">Buy</button></section></main>
<div id="evtrack-recorder"><button class="btn buy">Buy</button></div>
</body></html>`

func TestTracker_ForwardsEveryOccurrence(t *testing.T) {
	root, err := dom.ParseString(page)
	require.NoError(t, err)

	engine := rules.New([]rulespec.Rule{{Type: rulespec.TypePattern, Value: "kb-*"}})
	src := &source{events: []model.TrackedEvent{
		{Fingerprint: "click:x", Kind: model.KindClick, Name: "Buy", Alias: "buy_click", Selector: "button.btn.buy", Status: model.StatusTracked},
		{Fingerprint: "scroll:scroll_depth_50", Kind: model.KindScroll, Name: "scroll_depth_50", Status: model.StatusTracked},
	}}
	fwd := &recordingForwarder{engine: engine}
	bus := signal.NewBus()
	tr := New(Config{Bus: bus, Engine: engine, Source: src, Forwarder: fwd, OwnSurfaceIDs: []string{"evtrack-recorder"}})
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, 1, bus.Listeners())

	buy := root.Find(func(n *dom.Node) bool { return n.Tag() == "button" })
	own := root.ByID("evtrack-recorder").Find(func(n *dom.Node) bool { return n.Tag() == "button" })

	bus.Publish(model.Signal{Type: "click", Target: buy})
	bus.Publish(model.Signal{Type: "click", Target: buy, Admin: true})
	bus.Publish(model.Signal{Type: "click", Target: own})
	bus.Publish(model.Signal{Type: "custom", Name: "kb-search"})
	bus.Publish(model.Signal{Type: "custom", Name: "other"})
	bus.Publish(model.Signal{Type: "scroll", ScrollPercent: 60, URL: "/a"})
	bus.Publish(model.Signal{Type: "scroll", ScrollPercent: 70, URL: "/a"})
	bus.Publish(model.Signal{Type: "scroll", ScrollPercent: 55, URL: "/b"})

	assert.Equal(t, []string{"buy_click", "buy_click", "kb-search", "scroll_depth_50", "scroll_depth_50"}, fwd.names)
	assert.Equal(t, []bool{false, true, false, false, false}, fwd.admin)

	tr.Stop()
	tr.Stop()
	assert.Zero(t, bus.Listeners())
}

func TestTracker_ReloadError(t *testing.T) {
	tr := New(Config{Bus: signal.NewBus(), Engine: rules.New(nil), Source: &source{err: errors.New("db closed")}})
	assert.Error(t, tr.Start(context.Background()))
}
