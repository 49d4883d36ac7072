package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtrack/internal/dom"
	"evtrack/pkg/model"
)

const page = `<html><body>
<form id="newsletter" name="newsletter"><input name="email" type="email"><input name="pw" type="password"></form>
<button id="signup-btn" class="btn primary">  Sign
   up </button>
<a href="/docs" aria-label="Docs"></a>
<div class="wrap"><form class="f"><button type="submit">Go</button></form></div>
</body></html>`

func fixture(t *testing.T) (*dom.Node, *Builder) {
	t.Helper()
	root, err := dom.ParseString(page)
	require.NoError(t, err)
	b := NewBuilder(nil)
	b.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return root, b
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want model.Kind
		ok   bool
	}{
		{"click", model.KindClick, true},
		{"submit", model.KindFormSubmit, true},
		{"change", model.KindInputChange, true},
		{"input", model.KindInputChange, true},
		{"scroll", model.KindScroll, true},
		{"custom", model.KindCustom, true},
		{"mouseenter", model.KindHover, true},
		{"keydown", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Classify(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_Click(t *testing.T) {
	root, b := fixture(t)
	sig := model.Signal{Type: "click", Target: root.ByID("signup-btn"), URL: "https://example.com/"}

	ev, ok := b.Build(sig, model.KindClick, 0, "session_1")
	require.True(t, ok)
	assert.Equal(t, "#signup-btn", ev.Selector)
	assert.Equal(t, "click:#signup-btn", ev.Fingerprint)
	assert.Equal(t, "Sign up", ev.DisplayName)
	assert.Equal(t, model.SessionID("session_1"), ev.SessionID)
	assert.Equal(t, "button", ev.Detail["tag"])
	assert.Equal(t, "btn primary", ev.Detail["classes"])
	assert.Equal(t, "https://example.com/", ev.Detail["url"])
	assert.Regexp(t, `^1700000000000-[0-9a-f]{8}$`, ev.ID)

	again, ok := b.Build(sig, model.KindClick, 0, "session_1")
	require.True(t, ok)
	assert.Equal(t, ev.Fingerprint, again.Fingerprint)
}

func TestBuild_FallbackNames(t *testing.T) {
	root, b := fixture(t)

	link, ok := b.Build(model.Signal{Target: root.ByAttr("href", "/docs")}, model.KindClick, 0, "s")
	require.True(t, ok)
	assert.Equal(t, "Docs", link.DisplayName)
	assert.Equal(t, "/docs", link.Detail["href"])

	form, ok := b.Build(model.Signal{Target: root.ByID("newsletter")}, model.KindFormSubmit, 0, "s")
	require.True(t, ok)
	assert.Equal(t, "newsletter", form.DisplayName)
	assert.Equal(t, "#newsletter", form.Selector)
	assert.Equal(t, "form_submit:#newsletter", form.Fingerprint)

	in, ok := b.Build(model.Signal{Target: root.ByAttr("name", "email"), Value: "a@b.c"}, model.KindInputChange, 0, "s")
	require.True(t, ok)
	assert.Equal(t, "email", in.DisplayName)
	assert.Equal(t, `input_change:input[name="email"]`, in.Fingerprint)
	assert.Equal(t, "a@b.c", in.Detail["value"])

	pw, ok := b.Build(model.Signal{Target: root.ByAttr("name", "pw"), Value: "secret"}, model.KindInputChange, 0, "s")
	require.True(t, ok)
	assert.NotContains(t, pw.Detail, "value")
}

func TestBuild_FormKeyIgnoresName(t *testing.T) {
	root, b := fixture(t)
	target := root.ByAttr("class", "f")
	require.NotNil(t, target)

	alpha, ok := b.Build(model.Signal{Target: target, Name: "alpha"}, model.KindFormSubmit, 0, "s")
	require.True(t, ok)
	beta, ok := b.Build(model.Signal{Target: target, Name: "beta"}, model.KindFormSubmit, 0, "s")
	require.True(t, ok)

	assert.Equal(t, "alpha", alpha.DisplayName)
	assert.Equal(t, "beta", beta.DisplayName)
	assert.Equal(t, alpha.Selector, beta.Selector)
	assert.Equal(t, "form_submit:"+alpha.Selector, alpha.Fingerprint)
	assert.Equal(t, alpha.Fingerprint, beta.Fingerprint)
}

func TestBuild_CustomAndScroll(t *testing.T) {
	_, b := fixture(t)

	c, ok := b.Build(model.Signal{Name: "kb-open", Properties: map[string]any{"article": 7}}, model.KindCustom, 0, "s")
	require.True(t, ok)
	assert.Equal(t, "custom:kb-open", c.Fingerprint)
	assert.Empty(t, c.Selector)
	assert.Equal(t, 7, c.Detail["article"])

	_, ok = b.Build(model.Signal{}, model.KindCustom, 0, "s")
	assert.False(t, ok)

	s, ok := b.Build(model.Signal{ScrollPercent: 52}, model.KindScroll, 50, "s")
	require.True(t, ok)
	assert.Equal(t, "scroll:scroll_depth_50", s.Fingerprint)
	assert.Equal(t, 50, s.Detail["depth"])

	_, ok = b.Build(model.Signal{}, model.KindClick, 0, "s")
	assert.False(t, ok)
}

func TestScrollMark(t *testing.T) {
	var m ScrollMark
	steps := []struct {
		percent float64
		depth   int
		ok      bool
	}{
		{10, 0, false},
		{30, 25, true},
		{80, 75, true},
		{10, 0, false},
		{85, 0, false},
		{60, 0, false},
		{100, 100, true},
		{100, 0, false},
	}
	for _, s := range steps {
		depth, ok := m.Cross(s.percent)
		assert.Equal(t, s.ok, ok, "percent %v", s.percent)
		assert.Equal(t, s.depth, depth, "percent %v", s.percent)
	}
	assert.Equal(t, 100, m.High())

	m.Reset()
	m.Restore(50)
	_, ok := m.Cross(50)
	assert.False(t, ok)
	d, ok := m.Cross(75)
	assert.True(t, ok)
	assert.Equal(t, 75, d)
}
