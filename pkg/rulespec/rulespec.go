package rulespec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// ErrInvalidRule 规则无法编译或类型未知
var ErrInvalidRule = errors.New("invalid rule")

// Type 规则类型
type Type string

const (
	TypePrefix   Type = "prefix"
	TypeContains Type = "contains"
	TypeExact    Type = "exact"
	TypeRegex    Type = "regex"
	TypePattern  Type = "pattern"
)

// Rule 自定义事件名匹配规则
type Rule struct {
	Type        Type   `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Key 规则的统计键
func (r Rule) Key() string { return string(r.Type) + ":" + r.Value }

// Expression 返回 regex/pattern 规则对应的正则表达式，其他类型返回空串
func (r Rule) Expression() string {
	switch r.Type {
	case TypeRegex:
		return r.Value
	case TypePattern:
		return "^" + strings.ReplaceAll(r.Value, "*", ".*") + "$"
	}
	return ""
}

// UnmarshalJSON 兼容旧配置：裸字符串视为前缀规则
func (r *Rule) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = Rule{Type: TypePrefix, Value: s}
		return nil
	}
	type plain Rule
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Type == "" {
		p.Type = TypePrefix
	}
	p.Type = Type(strings.ToLower(string(p.Type)))
	*r = Rule(p)
	return nil
}

// Parse 解析 JSON 规则数组
func Parse(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return rules, nil
}

// Normalize 将配置中的原始值（字符串或 map）统一为 Rule
func Normalize(raw []any) ([]Rule, error) {
	out := make([]Rule, 0, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case string:
			out = append(out, Rule{Type: TypePrefix, Value: x})
		case Rule:
			out = append(out, x)
		case map[string]any:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			var r Rule
			if err := json.Unmarshal(b, &r); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			out = append(out, r)
		default:
			return nil, fmt.Errorf("rule %d: unsupported value %T: %w", i, v, ErrInvalidRule)
		}
	}
	return out, nil
}

// Validate 检查规则类型与正则是否可编译
func Validate(rules []Rule) error {
	var errs []error
	for i, r := range rules {
		switch r.Type {
		case TypePrefix, TypeContains, TypeExact:
		case TypeRegex, TypePattern:
			if _, err := regexp2.Compile(r.Expression(), regexp2.ECMAScript); err != nil {
				errs = append(errs, fmt.Errorf("rule %d (%s %q): %w: %v", i, r.Type, r.Value, ErrInvalidRule, err))
			}
		default:
			errs = append(errs, fmt.Errorf("rule %d: unknown type %q: %w", i, r.Type, ErrInvalidRule))
		}
	}
	return errors.Join(errs...)
}
