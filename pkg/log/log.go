// Package log carries a slog logger through contexts so the planner, the
// Home Assistant bridge and the server all log with whatever attributes the
// caller attached, falling back to a JSON logger on stdout.
package log

import (
	"context"
	"log/slog"
	"os"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger carried by ctx, or the default logger when none was
// attached.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a child context carrying logger; Ctx further down the call
// chain returns it.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// SetDefaultLogLevel adjusts the level of the fallback logger.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
