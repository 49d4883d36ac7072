package capture

import (
	"strconv"
	"strings"
	"time"

	"evtrack/internal/selector"
	"evtrack/pkg/model"
)

// Classify 将原始信号类型映射为事件类型
func Classify(signalType string) (model.Kind, bool) {
	switch strings.ToLower(signalType) {
	case "click":
		return model.KindClick, true
	case "submit", "form_submit":
		return model.KindFormSubmit, true
	case "change", "input", "input_change":
		return model.KindInputChange, true
	case "scroll":
		return model.KindScroll, true
	case "custom":
		return model.KindCustom, true
	case "hover", "mouseenter":
		return model.KindHover, true
	}
	return "", false
}

// Builder 从信号构造候选事件
type Builder struct {
	Synth *selector.Synthesizer
	// Now 可替换的时钟
	Now func() time.Time
}

// NewBuilder 创建构造器
func NewBuilder(s *selector.Synthesizer) *Builder {
	if s == nil {
		s = selector.New()
	}
	return &Builder{Synth: s, Now: time.Now}
}

// Build 构造候选事件。scrollDepth 仅对滚动事件有效，为已跨越的阈值。
// 无法识别的信号返回 false。
func (b *Builder) Build(sig model.Signal, kind model.Kind, scrollDepth int, session model.SessionID) (model.CandidateEvent, bool) {
	now := b.Now()
	ev := model.CandidateEvent{
		ID:        model.NewEventID(now),
		Kind:      kind,
		SessionID: session,
		Timestamp: now,
	}

	detail := map[string]any{}
	if sig.URL != "" {
		detail["url"] = sig.URL
	}

	switch kind {
	case model.KindScroll:
		ev.DisplayName = ScrollName(scrollDepth)
		detail["depth"] = scrollDepth
	case model.KindCustom:
		if sig.Name == "" {
			return model.CandidateEvent{}, false
		}
		ev.DisplayName = sig.Name
		for k, v := range sig.Properties {
			detail[k] = v
		}
	default:
		if sig.Target == nil {
			return model.CandidateEvent{}, false
		}
		ev.Selector = b.Synth.Synthesize(sig.Target)
		if ev.Selector == "" {
			return model.CandidateEvent{}, false
		}
		ev.DisplayName = displayName(sig, kind, ev.Selector)
		describe(detail, sig)
		detail["selector"] = ev.Selector
	}

	ev.Detail = model.CapDetail(detail)
	ev.Fingerprint = model.Fingerprint(ev.Kind, ev.Locator())
	return ev, true
}

// ScrollName 滚动深度事件名
func ScrollName(depth int) string {
	return "scroll_depth_" + strconv.Itoa(depth)
}

func displayName(sig model.Signal, kind model.Kind, sel string) string {
	el := sig.Target
	switch kind {
	case model.KindFormSubmit:
		if v, ok := el.Attr("name"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if id := el.ID(); id != "" {
			return id
		}
		if sig.Name != "" {
			return sig.Name
		}
		return sel
	case model.KindInputChange:
		for _, attr := range []string{"name", "aria-label", "placeholder"} {
			if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return model.TruncateText(v)
			}
		}
	default:
		if t := model.TruncateText(firstNonEmpty(sig.Text, el.Text())); t != "" {
			return t
		}
		if v, ok := el.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
			return model.TruncateText(v)
		}
		if v, ok := el.Attr("title"); ok && strings.TrimSpace(v) != "" {
			return model.TruncateText(v)
		}
	}
	if id := el.ID(); id != "" {
		return id
	}
	return el.Tag()
}

func describe(detail map[string]any, sig model.Signal) {
	el := sig.Target
	detail["tag"] = el.Tag()
	if id := el.ID(); id != "" {
		detail["id"] = id
	}
	if cls := el.Classes(); len(cls) > 0 {
		detail["classes"] = strings.Join(cls, " ")
	}
	if t := model.TruncateText(firstNonEmpty(sig.Text, el.Text())); t != "" {
		detail["text"] = t
	}
	href := sig.Href
	if href == "" {
		href, _ = el.Attr("href")
	}
	if href != "" {
		detail["href"] = href
	}
	if sig.Value != "" {
		if typ, _ := el.Attr("type"); !strings.EqualFold(typ, "password") {
			detail["value"] = model.TruncateText(sig.Value)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
