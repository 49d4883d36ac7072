package rules

import (
	"strings"
	"sync"

	"evtrack/pkg/model"
	"evtrack/pkg/rulespec"
)

// Engine 规则引擎：自定义事件名规则 + 管理员追踪的元素记录
type Engine struct {
	mu      sync.RWMutex
	rs      []rulespec.Rule
	managed []model.TrackedEvent

	statsMu sync.Mutex
	stats   model.EngineStats
}

// New 创建规则引擎
func New(rs []rulespec.Rule) *Engine {
	return &Engine{rs: rs, stats: model.EngineStats{ByRule: make(map[string]int64)}}
}

// Update 替换自定义事件名规则
func (e *Engine) Update(rs []rulespec.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs = rs
}

// SetManaged 替换追踪记录集合，只保留 tracked 状态的记录
func (e *Engine) SetManaged(events []model.TrackedEvent) {
	tracked := make([]model.TrackedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Status == model.StatusTracked {
			tracked = append(tracked, ev)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.managed = tracked
}

// Rules 当前自定义事件名规则
func (e *Engine) Rules() []rulespec.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]rulespec.Rule, len(e.rs))
	copy(out, e.rs)
	return out
}

// Matches 判断事件名是否命中自定义规则
func (e *Engine) Matches(name string) bool {
	e.mu.RLock()
	rs := e.rs
	e.mu.RUnlock()
	r := First(name, rs)
	e.record(r)
	return r != nil
}

// MatchManaged 查找命中的追踪记录
func (e *Engine) MatchManaged(c model.CandidateEvent) *model.TrackedEvent {
	e.mu.RLock()
	managed := e.managed
	e.mu.RUnlock()
	return MatchManaged(c, managed)
}

// Decide 决定候选事件是否转发及转发名称
func (e *Engine) Decide(c model.CandidateEvent) (string, bool) {
	if t := e.MatchManaged(c); t != nil {
		e.recordKey(t.Fingerprint)
		return ForwardName(t), true
	}
	if c.Kind == model.KindCustom && c.DisplayName != "" {
		if e.Matches(c.DisplayName) {
			return c.DisplayName, true
		}
		return "", false
	}
	e.record(nil)
	return "", false
}

// Evaluate 与 Decide 相同，但不计入统计（沙盒测试使用）
func (e *Engine) Evaluate(c model.CandidateEvent) (string, bool) {
	if t := e.MatchManaged(c); t != nil {
		return ForwardName(t), true
	}
	if c.Kind == model.KindCustom && c.DisplayName != "" {
		e.mu.RLock()
		rs := e.rs
		e.mu.RUnlock()
		if Matches(c.DisplayName, rs) {
			return c.DisplayName, true
		}
	}
	return "", false
}

// Stats 匹配统计
func (e *Engine) Stats() model.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := model.EngineStats{Total: e.stats.Total, Matched: e.stats.Matched, ByRule: make(map[string]int64, len(e.stats.ByRule))}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

func (e *Engine) record(r *rulespec.Rule) {
	if r == nil {
		e.statsMu.Lock()
		e.stats.Total++
		e.statsMu.Unlock()
		return
	}
	e.recordKey(r.Key())
}

func (e *Engine) recordKey(key string) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Total++
	e.stats.Matched++
	e.stats.ByRule[key]++
}

// Matches 按顺序评估规则，任一命中即返回 true
func Matches(name string, rs []rulespec.Rule) bool {
	return First(name, rs) != nil
}

// First 返回第一条命中的规则
func First(name string, rs []rulespec.Rule) *rulespec.Rule {
	for i := range rs {
		if match(name, rs[i]) {
			return &rs[i]
		}
	}
	return nil
}

func match(name string, r rulespec.Rule) bool {
	switch r.Type {
	case rulespec.TypePrefix:
		return strings.HasPrefix(name, r.Value)
	case rulespec.TypeContains:
		return strings.Contains(name, r.Value)
	case rulespec.TypeExact:
		return name == r.Value
	case rulespec.TypeRegex, rulespec.TypePattern:
		return matchRegex(name, r.Expression())
	default:
		return false
	}
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	ok, err := re.MatchString(s)
	if err != nil {
		return false
	}
	return ok
}

// MatchManaged 结构化事件的追踪记录匹配：
// 选择器类事件按选择器包含关系匹配，其余按名称相等匹配
func MatchManaged(c model.CandidateEvent, managed []model.TrackedEvent) *model.TrackedEvent {
	for i := range managed {
		t := &managed[i]
		if t.Status != model.StatusTracked || t.Kind != c.Kind {
			continue
		}
		if c.Kind.BySelector() {
			if t.Selector != "" && strings.Contains(c.Selector, t.Selector) {
				return t
			}
			continue
		}
		if t.Name != "" && c.DisplayName == t.Name {
			return t
		}
	}
	return nil
}

// ForwardName 转发使用的名称：优先别名
func ForwardName(t *model.TrackedEvent) string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}
