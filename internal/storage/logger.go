package storage

import (
	"context"
	"time"

	"evtrack/internal/ctxkeys"
	elog "evtrack/internal/logger"

	"gorm.io/gorm/logger"
)

// slowThreshold 超过该耗时的 SQL 记为慢查询
const slowThreshold = time.Second

// GormLogger 将 GORM 日志转发到项目日志器
type GormLogger struct {
	elog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger 创建 GormLogger，默认只输出告警与错误
func NewGormLogger(l elog.Logger) *GormLogger {
	if l == nil {
		l = elog.NewNop()
	}
	return &GormLogger{
		Logger:   l,
		LogLevel: logger.Warn,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, withSession(ctx, data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, withSession(ctx, data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error(msg, withSession(ctx, data)...)
	}
}

// Trace 记录 SQL 执行情况
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := withSession(ctx, []any{
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	})

	switch {
	case err != nil && !isNotFound(err) && l.LogLevel >= logger.Error:
		l.Logger.Error("SQL执行错误", append(fields, "error", err)...)
	case elapsed > slowThreshold && l.LogLevel >= logger.Warn:
		l.Logger.Warn("慢SQL查询", append(fields, "threshold", slowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}

func withSession(ctx context.Context, kv []any) []any {
	id := ctxkeys.SessionID(ctx)
	if id == "" {
		return kv
	}
	return append([]any{"sessionId", id}, kv...)
}
