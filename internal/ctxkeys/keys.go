package ctxkeys

import "context"

// SessionIDKey 录制会话 ID 在 context 中的键
type SessionIDKey struct{}

// WithSessionID 将录制会话 ID 写入 context
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, SessionIDKey{}, id)
}

// SessionID 读取 context 中的录制会话 ID
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(SessionIDKey{}).(string)
	return id
}
