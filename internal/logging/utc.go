// Package logging configures the process-wide slog default handler. It
// reproduces the original Python collector's UTCFormatter habit of
// stamping every log line with a UTC timestamp regardless of the host's
// local zone, wrapped the way the teacher configures slog.HandlerOptions
// inline in main().
package logging

import (
	"context"
	"io"
	"log/slog"
)

// utcHandler wraps another slog.Handler and rewrites every record's Time
// to UTC before handing it off.
type utcHandler struct {
	next slog.Handler
}

// NewUTCTextHandler returns a TextHandler-backed slog.Handler whose
// records always carry a UTC timestamp, at the given level.
func NewUTCTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return &utcHandler{next: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})}
}

func (h *utcHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *utcHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Time = r.Time.UTC()
	return h.next.Handle(ctx, r)
}

func (h *utcHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &utcHandler{next: h.next.WithAttrs(attrs)}
}

func (h *utcHandler) WithGroup(name string) slog.Handler {
	return &utcHandler{next: h.next.WithGroup(name)}
}

// Setup installs a UTC-stamped text handler as the slog default, at
// slog.LevelDebug when debug is true, slog.LevelInfo otherwise — matching
// the teacher's habit of toggling verbosity from a single CLI flag.
func Setup(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(NewUTCTextHandler(w, level)))
}
