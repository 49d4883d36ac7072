package dom

import (
	"strings"

	"evtrack/internal/selector"
)

// Link 页面脚本上报的祖先链中的一层，Chain[0] 为事件目标
type Link struct {
	Tag   string            `json:"tag"`
	ID    string            `json:"id,omitempty"`
	Class []string          `json:"classes,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	// SameTagBefore 之前出现的同标签兄弟数量
	SameTagBefore int    `json:"sameTagBefore,omitempty"`
	Text          string `json:"text,omitempty"`
}

// ChainElement 由祖先链还原出的元素视图
type ChainElement struct {
	links []Link
	idx   int
	// sib 大于 0 时表示虚拟的前置同标签兄弟
	sib int
}

var _ selector.Element = (*ChainElement)(nil)

// FromChain 从祖先链构造事件目标元素，链为空时返回 nil
func FromChain(links []Link) *ChainElement {
	if len(links) == 0 {
		return nil
	}
	return &ChainElement{links: links}
}

func (c *ChainElement) IsNil() bool { return c == nil || c.idx >= len(c.links) }

func (c *ChainElement) link() Link { return c.links[c.idx] }

func (c *ChainElement) Tag() string { return strings.ToLower(c.link().Tag) }

func (c *ChainElement) ID() string {
	if c.sib > 0 {
		return ""
	}
	return strings.TrimSpace(c.link().ID)
}

func (c *ChainElement) Attr(name string) (string, bool) {
	if c.sib > 0 {
		return "", false
	}
	l := c.link()
	switch strings.ToLower(name) {
	case "id":
		return l.ID, l.ID != ""
	case "class":
		return strings.Join(l.Class, " "), len(l.Class) > 0
	}
	v, ok := l.Attrs[name]
	return v, ok
}

func (c *ChainElement) Classes() []string {
	if c.sib > 0 {
		return nil
	}
	return c.link().Class
}

func (c *ChainElement) Parent() selector.Element {
	if c.idx+1 >= len(c.links) {
		return nil
	}
	return &ChainElement{links: c.links, idx: c.idx + 1}
}

// PrevSibling 祖先链只携带同标签兄弟的数量，这里用虚拟兄弟还原
func (c *ChainElement) PrevSibling() selector.Element {
	if c.sib >= c.link().SameTagBefore {
		return nil
	}
	return &ChainElement{links: c.links, idx: c.idx, sib: c.sib + 1}
}

func (c *ChainElement) Text() string {
	if c.sib > 0 {
		return ""
	}
	return c.link().Text
}
