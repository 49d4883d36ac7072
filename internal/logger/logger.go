package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 键值对风格的日志接口
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志选项
type Options struct {
	Level string
	// Writer 可选 console、file
	Writer []string
	File   string
	// Output 非空时替代 console 输出（测试使用）
	Output io.Writer
}

type zlogger struct {
	z zerolog.Logger
}

// New 创建基于 zerolog 的日志器
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			out := opts.Output
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
		case "file":
			name := opts.File
			if name == "" {
				name = "logs/evtrack.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   name,
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			})
		case "json":
			out := opts.Output
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, out)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zlogger{z: z}
}

// NewNop 不输出任何内容的日志器
func NewNop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

func (l *zlogger) Debug(msg string, kv ...any) { emit(l.z.Debug(), msg, kv) }
func (l *zlogger) Info(msg string, kv ...any)  { emit(l.z.Info(), msg, kv) }
func (l *zlogger) Warn(msg string, kv ...any)  { emit(l.z.Warn(), msg, kv) }
func (l *zlogger) Error(msg string, kv ...any) { emit(l.z.Error(), msg, kv) }

func (l *zlogger) With(kv ...any) Logger {
	return &zlogger{z: l.z.With().Fields(kv).Logger()}
}

func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	if len(kv) > 0 {
		e = e.Fields(kv)
	}
	e.Msg(msg)
}
