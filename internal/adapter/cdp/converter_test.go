package cdp

import (
	"testing"

	"github.com/mafredri/cdp/protocol/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtrack/internal/selector"
)

func el(id dom.NodeID, name string, attrs []string, children ...dom.Node) dom.Node {
	return dom.Node{
		NodeID:        id,
		BackendNodeID: dom.BackendNodeID(id + 100),
		NodeType:      1,
		NodeName:      name,
		LocalName:     name,
		Attributes:    attrs,
		Children:      children,
	}
}

func text(id dom.NodeID, v string) dom.Node {
	return dom.Node{NodeID: id, NodeType: 3, NodeName: "#text", NodeValue: v}
}

func TestTree_Synthesize(t *testing.T) {
	doc := dom.Node{NodeID: 1, NodeType: 9, NodeName: "#document", Children: []dom.Node{
		el(2, "html", nil,
			el(3, "body", nil,
				el(4, "nav", []string{"class", "top"},
					el(5, "a", []string{"href", "/a"}, text(6, "A")),
					el(7, "a", []string{"href", "/b", "class", "nav-link active extra"}, text(8, "  B  ")),
				),
				el(9, "button", []string{"id", "signup-btn"}, text(10, "Sign up")),
			),
		),
	}}
	tree := NewTree(&doc)
	s := selector.New()

	link := tree.Element(7)
	require.NotNil(t, link)
	assert.Equal(t, "nav.top > a.nav-link.active:nth-of-type(2)", s.Synthesize(link))
	assert.Equal(t, "B", link.Text())
	href, ok := link.Attr("href")
	assert.True(t, ok)
	assert.Equal(t, "/b", href)

	btn := tree.Element(9)
	require.NotNil(t, btn)
	assert.Equal(t, "#signup-btn", s.Synthesize(btn))

	assert.Nil(t, tree.Element(6))
	assert.Nil(t, tree.Element(999))
}

func TestParseSignal(t *testing.T) {
	payload := `{
		"type": "click",
		"url": "https://example.com/pricing",
		"admin": true,
		"href": "/buy",
		"chain": [
			{"tag": "a", "classes": ["btn", "buy"], "attrs": {"href": "/buy"}, "sameTagBefore": 1, "text": "Buy"},
			{"tag": "div", "id": "pricing"}
		]
	}`
	sig, err := ParseSignal(payload)
	require.NoError(t, err)
	assert.Equal(t, "click", sig.Type)
	assert.True(t, sig.Admin)
	assert.Equal(t, "/buy", sig.Href)
	require.NotNil(t, sig.Target)
	assert.Equal(t, "#pricing > a.btn.buy:nth-of-type(2)", selector.New().Synthesize(sig.Target))

	custom, err := ParseSignal(`{"type":"custom","name":"kb-open","properties":{"article":3}}`)
	require.NoError(t, err)
	assert.Nil(t, custom.Target)
	assert.Equal(t, "kb-open", custom.Name)
	assert.Equal(t, float64(3), custom.Properties["article"])

	scroll, err := ParseSignal(`{"type":"scroll","scroll":62.5}`)
	require.NoError(t, err)
	assert.Equal(t, 62.5, scroll.ScrollPercent)

	for _, bad := range []string{`not json`, `{"name":"x"}`, `{"type":"click","chain":[1,2]}`} {
		_, err := ParseSignal(bad)
		assert.Error(t, err, bad)
	}
}
