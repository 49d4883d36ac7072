package service

import (
	"fmt"

	"github.com/tidwall/gjson"

	"evtrack/internal/capture"
	"evtrack/internal/dom"
	"evtrack/pkg/model"
)

// TestEvent 沙盒：解析用户提供的事件描述并报告是否会被转发，不计入统计、不持久化。
//
// 载荷格式：
//
//	{"type":"custom","name":"kb-search","properties":{...}}
//	{"type":"click","html":"<nav><a id=\"buy\">Buy</a></nav>","target":"buy"}
//	{"type":"scroll","percent":60}
func (s *Service) TestEvent(payload []byte) (model.SandboxResult, error) {
	sig, kind, err := sandboxSignal(payload)
	if err != nil {
		return model.SandboxResult{}, err
	}
	depth := 0
	if kind == model.KindScroll {
		var mark capture.ScrollMark
		var ok bool
		if depth, ok = mark.Cross(sig.ScrollPercent); !ok {
			return model.SandboxResult{}, fmt.Errorf("%w: percent below first scroll threshold", ErrInvalidArgument)
		}
	}
	ev, ok := s.builder.Build(sig, kind, depth, "")
	if !ok {
		return model.SandboxResult{}, fmt.Errorf("%w: event cannot be identified", ErrInvalidArgument)
	}
	res := model.SandboxResult{
		Kind:        ev.Kind,
		Name:        ev.DisplayName,
		Selector:    ev.Selector,
		Fingerprint: ev.Fingerprint,
	}
	res.ForwardName, res.Matched = s.engine.Evaluate(ev)
	return res, nil
}

func sandboxSignal(payload []byte) (model.Signal, model.Kind, error) {
	if !gjson.ValidBytes(payload) {
		return model.Signal{}, "", fmt.Errorf("%w: payload is not valid JSON", ErrInvalidArgument)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return model.Signal{}, "", fmt.Errorf("%w: payload must be an object", ErrInvalidArgument)
	}

	typ := root.Get("type").String()
	if typ == "" {
		typ = "custom"
	}
	kind, ok := capture.Classify(typ)
	if !ok {
		return model.Signal{}, "", fmt.Errorf("%w: unknown event type %q", ErrInvalidArgument, typ)
	}

	sig := model.Signal{
		Type:          typ,
		Name:          root.Get("name").String(),
		Text:          root.Get("text").String(),
		Value:         root.Get("value").String(),
		URL:           root.Get("url").String(),
		ScrollPercent: root.Get("percent").Float(),
	}
	if props := root.Get("properties"); props.IsObject() {
		if m, ok := props.Value().(map[string]any); ok {
			sig.Properties = m
		}
	}

	if kind.BySelector() || kind == model.KindFormSubmit {
		doc, err := dom.ParseString(root.Get("html").String())
		if err != nil {
			return model.Signal{}, "", fmt.Errorf("%w: parse html: %v", ErrInvalidArgument, err)
		}
		id := root.Get("target").String()
		el := doc.ByID(id)
		if id == "" || el == nil {
			return model.Signal{}, "", fmt.Errorf("%w: target element %q not found in html", ErrInvalidArgument, id)
		}
		sig.Target = el
	}
	return sig, kind, nil
}
