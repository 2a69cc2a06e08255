// Package logging provides the orchestrator's package-level structured
// logger: a log/slog default logger, string level parsing, and a
// filtering handler that suppresses third-party noise below debug.
// Grounded on pkg/logger/logger.go's same three responsibilities,
// narrowed from hector's package-prefix filter to this module's prefix.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

const modulePrefix = "github.com/flowforge/orchestrator"

// ParseLevel converts a string log level ("debug", "info", "warn",
// "error") to a slog.Level, defaulting to warn on an unrecognized value.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler wraps a slog.Handler and, below debug level, drops
// log lines whose caller isn't inside this module — so an embedding
// application's own third-party dependencies don't pollute output at
// info/warn/error.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if h.isModuleFrame(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) isModuleFrame(pc uintptr) bool {
	if pc == 0 {
		return true
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	return strings.Contains(frame.Function, modulePrefix)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// Configure installs a new default logger writing to w at the given
// level, wrapped in the third-party-noise filter.
func Configure(w interface{ Write([]byte) (int, error) }, level slog.Level) {
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	defaultLogger = slog.New(&filteringHandler{handler: base, minLevel: level})
}

// Default returns the package's current default logger.
func Default() *slog.Logger { return defaultLogger }
