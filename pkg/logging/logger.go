// Package logging provides structured logging for boutinf.
//
// Logger wraps log/slog with consistent field names for the index engine:
// message ids, attribute names, motor names, snapshot tags and query text.
//
// Usage:
//
//	log := logging.New("info", "json", os.Stderr)
//	log.LogSee(ctx, "xml", 42, err)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with boutinf-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from textual settings as they appear in config.
//
// level is one of debug, info, warn, error (case-insensitive, default info).
// format is "json" or "text" (default text). A nil writer means stderr.
func New(level, format string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that writes human-readable lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// Noop returns a Logger that discards everything.
func Noop() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)})),
	}
}

// OrNoop returns l, or a discarding logger when l is nil.
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// ParseLevel maps a level name to slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent tags every record with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogSee logs the outcome of one motor observing one message.
func (l *Logger) LogSee(ctx context.Context, motor string, id uint64, err error) {
	if err != nil {
		l.WarnContext(ctx, "motor failed to see message",
			"motor", motor,
			"msg", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "motor saw message",
		"motor", motor,
		"msg", id,
	)
}

// LogMotorPanic logs a recovered panic inside a motor.
func (l *Logger) LogMotorPanic(ctx context.Context, motor string, id uint64, recovered any) {
	l.ErrorContext(ctx, "motor panicked",
		"motor", motor,
		"msg", id,
		"panic", recovered,
	)
}

// LogQuery logs one evaluated query.
func (l *Logger) LogQuery(ctx context.Context, query string, found int, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "query rejected",
			"query", query,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query evaluated",
		"query", query,
		"found", found,
		"elapsed", elapsed,
	)
}

// LogFlush logs a snapshot flush.
func (l *Logger) LogFlush(ctx context.Context, tag string, attributes, ids int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"snapshot", tag,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot flushed",
		"snapshot", tag,
		"attributes", attributes,
		"ids", ids,
	)
}

// LogLoad logs a snapshot load.
func (l *Logger) LogLoad(ctx context.Context, tag string, ids int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot load failed",
			"snapshot", tag,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot loaded",
		"snapshot", tag,
		"ids", ids,
	)
}
