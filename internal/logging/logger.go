// Package logging defines the structured-logging interface used across the
// messenger. Two implementations are provided: one over log/slog and one over
// zap. New picks between them by format name.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "message sent", "peer", peerID, "seq", seq)
type Logger interface {
	// Debug logs low-level diagnostics such as feed events and retries.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}

// New builds a Logger writing to w. Supported formats are "json" (default),
// "text" and "zap".
func New(format string, w io.Writer) Logger {
	switch strings.ToLower(format) {
	case "zap":
		return NewZapLoggerTo(w)
	case "text":
		return NewSlogLoggerTo(w, true, slog.LevelInfo)
	default:
		return NewSlogLoggerTo(w, false, slog.LevelInfo)
	}
}

// Nop returns a Logger that discards everything. Handy in tests.
func Nop() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
