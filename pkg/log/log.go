// Package log wraps log/slog with the level and format switches used in
// engram configuration, and carries request-scoped loggers in contexts.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is a configured log level name.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format is a configured output format.
type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Config selects the level and format of the engine logger.
type Config struct {
	Level  Level  `yaml:"level"`
	Format Format `yaml:"format"`
}

// DefaultConfig logs text at info.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Format: TextFormat}
}

type loggerKey struct{}

// ParseLevel maps a configured level name onto a slog level.
// Unknown names fall back to info.
func ParseLevel(l Level) slog.Level {
	switch strings.ToLower(string(l)) {
	case string(DebugLevel):
		return slog.LevelDebug
	case string(WarnLevel), "warning":
		return slog.LevelWarn
	case string(ErrorLevel):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a logger writing to stdout as the slog default.
func Setup(cfg Config) *slog.Logger {
	logger := SetupWithOutput(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// SetupWithOutput builds a logger writing to w without installing it.
func SetupWithOutput(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(string(cfg.Format), string(JSONFormat)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the slog default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRecord tags every later log line on ctx with the record id.
func WithRecord(ctx context.Context, id string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(slog.String("record_id", id)))
}

// WithComponent tags every later log line on ctx with the emitting
// component, e.g. "consolidator" or "working_set".
func WithComponent(ctx context.Context, component string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(slog.String("component", component)))
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}
