package cdp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mafredri/cdp/protocol/dom"
	"github.com/tidwall/gjson"

	idom "evtrack/internal/dom"
	"evtrack/internal/selector"
	"evtrack/pkg/model"
)

const elementNode = 1

// Tree 将 DOM.getDocument 返回的节点树索引为可回溯的元素视图
type Tree struct {
	byID map[dom.NodeID]*treeNode
}

type treeNode struct {
	node   *dom.Node
	parent *treeNode
	prev   *treeNode
	attrs  map[string]string
}

// NewTree 构建节点索引，root 通常为 depth=-1 获取的文档节点
func NewTree(root *dom.Node) *Tree {
	t := &Tree{
		byID: make(map[dom.NodeID]*treeNode),
	}
	if root != nil {
		t.index(root, nil)
	}
	return t
}

func (t *Tree) index(n *dom.Node, parent *treeNode) {
	tn := &treeNode{node: n, parent: parent, attrs: attrMap(n.Attributes)}
	t.byID[n.NodeID] = tn
	var prev *treeNode
	for i := range n.Children {
		c := &n.Children[i]
		t.index(c, tn)
		child := t.byID[c.NodeID]
		if c.NodeType == elementNode {
			child.prev = prev
			prev = child
		}
	}
}

// Element 按 NodeID 获取元素
func (t *Tree) Element(id dom.NodeID) selector.Element {
	tn, ok := t.byID[id]
	if !ok || tn.node.NodeType != elementNode {
		return nil
	}
	return &nodeElement{tn}
}

// attrMap CDP 属性为 [name1, value1, name2, value2, ...] 扁平数组
func attrMap(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[strings.ToLower(flat[i])] = flat[i+1]
	}
	return m
}

type nodeElement struct {
	tn *treeNode
}

func (e *nodeElement) Tag() string {
	if e.tn.node.LocalName != "" {
		return strings.ToLower(e.tn.node.LocalName)
	}
	return strings.ToLower(e.tn.node.NodeName)
}

func (e *nodeElement) ID() string { return strings.TrimSpace(e.tn.attrs["id"]) }

func (e *nodeElement) Attr(name string) (string, bool) {
	v, ok := e.tn.attrs[strings.ToLower(name)]
	return v, ok
}

func (e *nodeElement) Classes() []string { return strings.Fields(e.tn.attrs["class"]) }

func (e *nodeElement) Parent() selector.Element {
	for p := e.tn.parent; p != nil; p = p.parent {
		if p.node.NodeType == elementNode {
			return &nodeElement{p}
		}
	}
	return nil
}

func (e *nodeElement) PrevSibling() selector.Element {
	if e.tn.prev == nil {
		return nil
	}
	return &nodeElement{e.tn.prev}
}

func (e *nodeElement) Text() string {
	var b strings.Builder
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n.NodeType == 3 {
			b.WriteString(n.NodeValue)
			b.WriteByte(' ')
		}
		for i := range n.Children {
			walk(&n.Children[i])
		}
	}
	walk(e.tn.node)
	return strings.Join(strings.Fields(b.String()), " ")
}

// ParseSignal 解析页面绑定上报的交互信号
func ParseSignal(payload string) (model.Signal, error) {
	if !gjson.Valid(payload) {
		return model.Signal{}, fmt.Errorf("invalid signal payload")
	}
	res := gjson.Parse(payload)
	sig := model.Signal{
		Type:          res.Get("type").String(),
		Name:          res.Get("name").String(),
		Text:          res.Get("text").String(),
		Value:         res.Get("value").String(),
		Href:          res.Get("href").String(),
		URL:           res.Get("url").String(),
		ScrollPercent: res.Get("scroll").Float(),
		Admin:         res.Get("admin").Bool(),
	}
	if sig.Type == "" {
		return model.Signal{}, fmt.Errorf("signal payload missing type")
	}
	if chain := res.Get("chain"); chain.IsArray() {
		var links []idom.Link
		if err := json.Unmarshal([]byte(chain.Raw), &links); err != nil {
			return model.Signal{}, fmt.Errorf("decode chain: %w", err)
		}
		if el := idom.FromChain(links); el != nil {
			sig.Target = el
		}
	}
	if props, ok := res.Get("properties").Value().(map[string]any); ok {
		sig.Properties = props
	}
	return sig, nil
}
