package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtrack/pkg/model"
	"evtrack/pkg/rulespec"
)

func TestMatches_Table(t *testing.T) {
	tests := []struct {
		name  string
		rule  rulespec.Rule
		input string
		want  bool
	}{
		{"prefix hit", rulespec.Rule{Type: rulespec.TypePrefix, Value: "kb-"}, "kb-click", true},
		{"prefix miss", rulespec.Rule{Type: rulespec.TypePrefix, Value: "kb-"}, "xkb-click", false},
		{"contains hit", rulespec.Rule{Type: rulespec.TypeContains, Value: "signup"}, "user_signup_click", true},
		{"contains miss", rulespec.Rule{Type: rulespec.TypeContains, Value: "signup"}, "user_login", false},
		{"exact hit", rulespec.Rule{Type: rulespec.TypeExact, Value: "login"}, "login", true},
		{"exact miss", rulespec.Rule{Type: rulespec.TypeExact, Value: "login"}, "login2", false},
		{"regex hit", rulespec.Rule{Type: rulespec.TypeRegex, Value: "^form_.*$"}, "form_submit", true},
		{"regex miss", rulespec.Rule{Type: rulespec.TypeRegex, Value: "^form_.*$"}, "submit_form", false},
		{"invalid regex", rulespec.Rule{Type: rulespec.TypeRegex, Value: "("}, "anything", false},
		{"pattern hit", rulespec.Rule{Type: rulespec.TypePattern, Value: "btn-*-click"}, "btn-signup-click", true},
		{"pattern miss", rulespec.Rule{Type: rulespec.TypePattern, Value: "btn-*-click"}, "btn-click", false},
		{"pattern anchored", rulespec.Rule{Type: rulespec.TypePattern, Value: "btn-*"}, "my-btn-x", false},
		{"invalid pattern", rulespec.Rule{Type: rulespec.TypePattern, Value: "a(*"}, "a(b", false},
		{"unknown type", rulespec.Rule{Type: "fuzzy", Value: "x"}, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, Matches(tt.input, []rulespec.Rule{tt.rule}))
			})
		})
	}
}

func TestMatches_BadRuleDoesNotStopEvaluation(t *testing.T) {
	rs := []rulespec.Rule{
		{Type: rulespec.TypeRegex, Value: "("},
		{Type: rulespec.TypeExact, Value: "checkout"},
	}
	assert.True(t, Matches("checkout", rs))

	r := First("checkout", rs)
	require.NotNil(t, r)
	assert.Equal(t, rulespec.TypeExact, r.Type)
}

func TestMatches_FirstMatchWins(t *testing.T) {
	rs := []rulespec.Rule{
		{Type: rulespec.TypeContains, Value: "click"},
		{Type: rulespec.TypePrefix, Value: "kb-"},
	}
	r := First("kb-click", rs)
	require.NotNil(t, r)
	assert.Equal(t, rulespec.TypeContains, r.Type)
}

func TestMatches_LegacyBareStrings(t *testing.T) {
	rs, err := rulespec.Parse([]byte(`["kb-", {"type":"exact","value":"login"}]`))
	require.NoError(t, err)
	assert.True(t, Matches("kb-open", rs))
	assert.True(t, Matches("login", rs))
	assert.False(t, Matches("xkb-open", rs))
}

func TestRegexCache_CachesFailures(t *testing.T) {
	c := newCache(4)
	_, err := c.Get("(")
	require.Error(t, err)
	_, err = c.Get("(")
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestMatchManaged(t *testing.T) {
	managed := []model.TrackedEvent{
		{Fingerprint: "click:#signup-btn", Kind: model.KindClick, Name: "Sign up", Selector: "#signup-btn", Status: model.StatusTracked},
		{Fingerprint: "click:.ignored", Kind: model.KindClick, Name: "Ignored", Selector: ".ignored", Status: model.StatusIgnored},
		{Fingerprint: "click:", Kind: model.KindClick, Name: "Empty", Selector: "", Status: model.StatusTracked},
		{Fingerprint: "form_submit:contact", Kind: model.KindFormSubmit, Name: "contact", Alias: "contact_form", Status: model.StatusTracked},
		{Fingerprint: "custom:video_play", Kind: model.KindCustom, Name: "video_play", Status: model.StatusTracked},
	}

	tests := []struct {
		name      string
		candidate model.CandidateEvent
		wantName  string
	}{
		{"selector containment", model.CandidateEvent{Kind: model.KindClick, Selector: "div.hero > #signup-btn"}, "Sign up"},
		{"exact selector", model.CandidateEvent{Kind: model.KindClick, Selector: "#signup-btn"}, "Sign up"},
		{"ignored record never matches", model.CandidateEvent{Kind: model.KindClick, Selector: "a.ignored"}, ""},
		{"kind mismatch", model.CandidateEvent{Kind: model.KindHover, Selector: "#signup-btn"}, ""},
		{"form by name uses alias", model.CandidateEvent{Kind: model.KindFormSubmit, DisplayName: "contact"}, "contact_form"},
		{"form name mismatch", model.CandidateEvent{Kind: model.KindFormSubmit, DisplayName: "contact-us"}, ""},
		{"custom by name", model.CandidateEvent{Kind: model.KindCustom, DisplayName: "video_play"}, "video_play"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchManaged(tt.candidate, managed)
			if tt.wantName == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantName, ForwardName(got))
		})
	}
}

func TestEngine_Decide(t *testing.T) {
	e := New([]rulespec.Rule{{Type: rulespec.TypePrefix, Value: "kb-"}})
	e.SetManaged([]model.TrackedEvent{
		{Fingerprint: "click:#buy", Kind: model.KindClick, Name: "Buy", Alias: "purchase_click", Selector: "#buy", Status: model.StatusTracked},
		{Fingerprint: "click:#pending", Kind: model.KindClick, Name: "Pending", Selector: "#pending", Status: model.StatusPending},
	})

	name, ok := e.Decide(model.CandidateEvent{Kind: model.KindClick, Selector: "#buy"})
	assert.True(t, ok)
	assert.Equal(t, "purchase_click", name)

	_, ok = e.Decide(model.CandidateEvent{Kind: model.KindClick, Selector: "#pending"})
	assert.False(t, ok)

	name, ok = e.Decide(model.CandidateEvent{Kind: model.KindCustom, DisplayName: "kb-search"})
	assert.True(t, ok)
	assert.Equal(t, "kb-search", name)

	_, ok = e.Decide(model.CandidateEvent{Kind: model.KindCustom, DisplayName: "search"})
	assert.False(t, ok)

	stats := e.Stats()
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Matched)
	assert.Equal(t, int64(1), stats.ByRule["click:#buy"])
	assert.Equal(t, int64(1), stats.ByRule["prefix:kb-"])
}

func TestEngine_UpdateReplacesRules(t *testing.T) {
	e := New(nil)
	assert.False(t, e.Matches("kb-x"))
	e.Update([]rulespec.Rule{{Type: rulespec.TypePrefix, Value: "kb-"}})
	assert.True(t, e.Matches("kb-x"))
	assert.Len(t, e.Rules(), 1)
}
