package selector

import (
	"fmt"
	"strings"
)

// DefaultMaxDepth 路径回溯的最大层数
const DefaultMaxDepth = 4

// DefaultTrackingAttributes 默认识别的追踪属性
var DefaultTrackingAttributes = []string{"data-testid", "data-track-id"}

// Element DOM 元素的最小只读视图
type Element interface {
	// Tag 小写标签名
	Tag() string
	ID() string
	Attr(name string) (string, bool)
	Classes() []string
	// Parent 父元素，到达文档根时返回 nil
	Parent() Element
	// PrevSibling 前一个兄弟元素，不存在时返回 nil
	PrevSibling() Element
	Text() string
}

// Synthesizer 选择器生成器
type Synthesizer struct {
	TrackingAttributes []string
	MaxDepth           int
}

// New 创建选择器生成器，attrs 为空时使用默认追踪属性
func New(attrs ...string) *Synthesizer {
	if len(attrs) == 0 {
		attrs = DefaultTrackingAttributes
	}
	return &Synthesizer{TrackingAttributes: attrs, MaxDepth: DefaultMaxDepth}
}

// Synthesize 为元素生成稳定的定位字符串
func (s *Synthesizer) Synthesize(el Element) string {
	if isNil(el) {
		return ""
	}
	if id := el.ID(); id != "" {
		return "#" + escapeIdent(id)
	}
	for _, attr := range s.TrackingAttributes {
		if v, ok := el.Attr(attr); ok && v != "" {
			return fmt.Sprintf(`[%s="%s"]`, attr, escapeValue(v))
		}
	}
	if name, ok := el.Attr("name"); ok && name != "" {
		return fmt.Sprintf(`%s[name="%s"]`, el.Tag(), escapeValue(name))
	}

	depth := s.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	var path []string
	for cur := el; !isNil(cur) && len(path) < depth; cur = cur.Parent() {
		tag := cur.Tag()
		if tag == "" || tag == "html" || tag == "body" {
			break
		}
		if id := cur.ID(); id != "" {
			path = append(path, "#"+escapeIdent(id))
			break
		}
		path = append(path, segment(cur))
	}
	reverse(path)
	return strings.Join(path, " > ")
}

// segment 生成单层路径片段：tag、最多两个类名、必要时 nth-of-type
func segment(el Element) string {
	var b strings.Builder
	b.WriteString(el.Tag())
	n := 0
	for _, c := range el.Classes() {
		if c == "" {
			continue
		}
		b.WriteByte('.')
		b.WriteString(escapeIdent(c))
		n++
		if n == 2 {
			break
		}
	}
	if nth := NthOfType(el); nth > 1 {
		fmt.Fprintf(&b, ":nth-of-type(%d)", nth)
	}
	return b.String()
}

// NthOfType 返回元素在同标签兄弟中的序号（从 1 开始）
func NthOfType(el Element) int {
	nth := 1
	tag := el.Tag()
	for sib := el.PrevSibling(); !isNil(sib); sib = sib.PrevSibling() {
		if sib.Tag() == tag {
			nth++
		}
	}
	return nth
}

// Within 判断元素自身或祖先是否带有给定 id 之一
func Within(el Element, ids ...string) bool {
	if len(ids) == 0 {
		return false
	}
	for cur := el; !isNil(cur); cur = cur.Parent() {
		id := cur.ID()
		if id == "" {
			continue
		}
		for _, want := range ids {
			if id == want {
				return true
			}
		}
	}
	return false
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// escapeIdent 转义 CSS 标识符中的特殊字符
func escapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r >= 0x80:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, "\\%x ", r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeValue(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// isNil 兼容接口内含 nil 指针的情况
func isNil(el Element) bool {
	if el == nil {
		return true
	}
	if n, ok := el.(interface{ IsNil() bool }); ok {
		return n.IsNil()
	}
	return false
}
