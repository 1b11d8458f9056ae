// Package obslog wires up structured logging (C10), named to avoid
// colliding with the stdlib log package. It mirrors the teacher's
// slog.NewTextHandler console setup in main.go, plus a small bounded
// ring buffer of recent records — a trimmed-down version of the
// teacher's telemetry queue, without the OTLP/HTTP shipping half, since
// the transport that would carry it off-device is out of scope here.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// ringHandler fans every record out to an underlying handler and also
// appends a one-line rendering to a bounded in-memory ring, the same
// "keep the last N" shape as the teacher's LogQueue circular buffer.
type ringHandler struct {
	next slog.Handler

	mu    *sync.Mutex
	ring  *[]string
	limit int
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	line := r.Level.String() + " " + r.Message
	r.Attrs(func(a slog.Attr) bool {
		line += " " + a.Key + "=" + a.Value.String()
		return true
	})
	*h.ring = append(*h.ring, line)
	if len(*h.ring) > h.limit {
		*h.ring = (*h.ring)[len(*h.ring)-h.limit:]
	}
	h.mu.Unlock()
	return h.next.Handle(ctx, r)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ringHandler{next: h.next.WithAttrs(attrs), mu: h.mu, ring: h.ring, limit: h.limit}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{next: h.next.WithGroup(name), mu: h.mu, ring: h.ring, limit: h.limit}
}

// Logger wraps a *slog.Logger with access to its recent-events ring.
type Logger struct {
	*slog.Logger
	mu   *sync.Mutex
	ring *[]string
}

// New returns a Logger that writes text-formatted records to w (grounded
// on main.go's slog.New(slog.NewTextHandler(machine.Serial, ...))) and
// retains the last `ringSize` rendered lines for RecentEvents.
func New(w io.Writer, ringSize int) *Logger {
	if ringSize <= 0 {
		ringSize = 64
	}
	var mu sync.Mutex
	ring := make([]string, 0, ringSize)
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := &ringHandler{next: base, mu: &mu, ring: &ring, limit: ringSize}
	return &Logger{Logger: slog.New(h), mu: &mu, ring: &ring}
}

// RecentEvents returns a snapshot of the most recently logged lines,
// oldest first.
func (l *Logger) RecentEvents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(*l.ring))
	copy(out, *l.ring)
	return out
}
