package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"evtrack/internal/selector"
)

// Node 基于 x/net/html 的元素视图
type Node struct {
	n *html.Node
}

var _ selector.Element = (*Node)(nil)

// Parse 解析 HTML 文档，返回文档根元素（html）
func Parse(r io.Reader) (*Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return &Node{n: c}, nil
		}
	}
	return nil, io.ErrUnexpectedEOF
}

// ParseString 解析 HTML 字符串
func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

// Wrap 包装已有的 html.Node
func Wrap(n *html.Node) *Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &Node{n: n}
}

func (e *Node) IsNil() bool { return e == nil || e.n == nil }

func (e *Node) Tag() string { return strings.ToLower(e.n.Data) }

func (e *Node) ID() string {
	v, _ := e.Attr("id")
	return strings.TrimSpace(v)
}

func (e *Node) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Node) Classes() []string {
	v, _ := e.Attr("class")
	return strings.Fields(v)
}

func (e *Node) Parent() selector.Element {
	for p := e.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return &Node{n: p}
		}
		if p.Type == html.DocumentNode {
			return nil
		}
	}
	return nil
}

func (e *Node) PrevSibling() selector.Element {
	for s := e.n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return &Node{n: s}
		}
	}
	return nil
}

func (e *Node) Text() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Find 深度优先查找第一个满足条件的元素
func (e *Node) Find(match func(*Node) bool) *Node {
	var found *Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			cand := &Node{n: n}
			if match(cand) {
				found = cand
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(e.n)
	return found
}

// ByID 按 id 查找元素
func (e *Node) ByID(id string) *Node {
	return e.Find(func(n *Node) bool { return n.ID() == id })
}

// ByAttr 按属性值查找元素
func (e *Node) ByAttr(name, value string) *Node {
	return e.Find(func(n *Node) bool {
		v, ok := n.Attr(name)
		return ok && v == value
	})
}
