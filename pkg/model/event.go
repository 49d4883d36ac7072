package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTextRunes    = 100
	maxDetailKeys   = 16
	maxDetailBytes  = 4096
	maxDetailString = 512
)

// Fingerprint 由类型和定位值计算事件指纹
func Fingerprint(kind Kind, locator string) string {
	return string(kind) + ":" + locator
}

// NewEventID 生成进程内唯一的事件 ID（毫秒时间戳 + 随机后缀）
func NewEventID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// NewSessionID 生成录制会话 ID
func NewSessionID() SessionID {
	return SessionID("session_" + uuid.NewString())
}

// TruncateText 截断文本并去除多余空白
func TruncateText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxTextRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxTextRunes])
}

// CapDetail 限制 detail 的键数量、字符串长度和序列化大小
func CapDetail(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, min(len(keys), maxDetailKeys))
	size := 2
	for _, k := range keys {
		if len(out) >= maxDetailKeys {
			break
		}
		v := in[k]
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > maxDetailString {
			v = string([]rune(s)[:maxDetailString])
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		entry := len(k) + len(b) + 4
		if size+entry > maxDetailBytes {
			continue
		}
		size += entry
		out[k] = v
	}
	return out
}
