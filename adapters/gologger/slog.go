package gologger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

type contextFieldsKey struct{}

// ContextWithFields attaches fields that WithContext loggers append to every
// record.
func ContextWithFields(ctx context.Context, fields map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := map[string]any{}
	if existing, ok := ctx.Value(contextFieldsKey{}).(map[string]any); ok {
		for key, value := range existing {
			merged[key] = value
		}
	}
	for key, value := range fields {
		merged[key] = value
	}
	return context.WithValue(ctx, contextFieldsKey{}, merged)
}

// SlogLogger exposes a log/slog logger through the glog contracts.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

// NewJSONLogger writes JSON lines at or above level to w (stderr when nil).
func NewJSONLogger(w io.Writer, level string) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key != slog.LevelKey {
				return attr
			}
			if lvl, ok := attr.Value.Any().(slog.Level); ok {
				attr.Value = slog.StringValue(levelName(lvl))
			}
			return attr
		},
	})
	return NewSlogLogger(slog.New(handler))
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger, ctx: context.Background()}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

func levelName(level slog.Level) string {
	switch {
	case level <= LevelTrace:
		return "trace"
	case level >= LevelFatal:
		return "fatal"
	default:
		return strings.ToLower(level.String())
	}
}

func (l *SlogLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Fatal logs at fatal level. It does not exit; the caller owns shutdown.
func (l *SlogLogger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args...) }

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

func (l *SlogLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	return &SlogLogger{logger: l.logger.With(fieldArgs(fields)...), ctx: l.ctx}
}

func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}
	if fields, ok := ctx.Value(contextFieldsKey{}).(map[string]any); ok && len(fields) > 0 {
		args = append(fieldArgs(fields), args...)
	}
	l.logger.Log(ctx, level, msg, args...)
}

func fieldArgs(fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return args
}

// SlogProvider hands out named children of one root logger.
type SlogProvider struct {
	root *SlogLogger
}

func NewSlogProvider(root *SlogLogger) *SlogProvider {
	if root == nil {
		root = NewSlogLogger(nil)
	}
	return &SlogProvider{root: root}
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return p.root
	}
	return &SlogLogger{logger: p.root.logger.With("logger", name), ctx: p.root.ctx}
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.FieldsLogger   = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogProvider)(nil)
)
