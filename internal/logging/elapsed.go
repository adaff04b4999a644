package logging

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ElapsedKey is the attribute key carrying seconds since run start.
const ElapsedKey = "t"

// ElapsedHandler prefixes every record's attributes with the elapsed run
// time, formatted with two decimals. The elapsed attribute always stays at
// the top level, so groups opened with WithGroup are tracked here and
// applied to the record's attributes rather than to the inner handler.
type ElapsedHandler struct {
	inner slog.Handler
	since func() time.Duration

	groups []string
	attrs  [][]slog.Attr // attrs[i] were added inside groups[:i+1]
}

// NewElapsedHandler wraps inner. since is called once per record.
func NewElapsedHandler(inner slog.Handler, since func() time.Duration) *ElapsedHandler {
	return &ElapsedHandler{inner: inner, since: since}
}

// Enabled reports whether the inner handler handles level.
func (h *ElapsedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds the elapsed attribute and forwards to the inner handler.
func (h *ElapsedHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	nr.AddAttrs(slog.String(ElapsedKey, FormatElapsed(h.since())))

	cur := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		cur = append(cur, a)
		return true
	})
	for i := len(h.groups) - 1; i >= 0; i-- {
		inGroup := append(append([]slog.Attr(nil), h.attrs[i]...), cur...)
		cur = []slog.Attr{{Key: h.groups[i], Value: slog.GroupValue(inGroup...)}}
	}
	nr.AddAttrs(cur...)
	return h.inner.Handle(ctx, nr)
}

// WithAttrs returns a handler carrying attrs. Top-level attrs go to the
// inner handler; attrs inside a group are kept until Handle.
func (h *ElapsedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	if len(h.groups) == 0 {
		return &ElapsedHandler{inner: h.inner.WithAttrs(attrs), since: h.since}
	}
	nh := h.clone()
	last := len(nh.attrs) - 1
	nh.attrs[last] = append(append([]slog.Attr(nil), nh.attrs[last]...), attrs...)
	return nh
}

// WithGroup returns a handler that nests later attributes under name.
func (h *ElapsedHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	nh.attrs = append(nh.attrs, nil)
	return nh
}

func (h *ElapsedHandler) clone() *ElapsedHandler {
	return &ElapsedHandler{
		inner:  h.inner,
		since:  h.since,
		groups: append([]string(nil), h.groups...),
		attrs:  append([][]slog.Attr(nil), h.attrs...),
	}
}

// FormatElapsed renders d as seconds with two decimals.
func FormatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Seconds())
}
