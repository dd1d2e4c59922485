package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RedactionMarker replaces every occurrence of a redacted secret.
const RedactionMarker = "********"

// RedactingHandler wraps another slog.Handler and removes a secret from the
// record message and from every attribute before the record reaches the
// wrapped handler.
//
// Attribute values that are exactly the secret are cleared rather than
// masked, so the log line does not even reveal the secret's presence by
// position.
type RedactingHandler struct {
	inner  slog.Handler
	secret string
}

// NewRedactingHandler returns a handler that strips secret from records
// before passing them to inner. An empty secret disables redaction.
func NewRedactingHandler(inner slog.Handler, secret string) *RedactingHandler {
	return &RedactingHandler{inner: inner, secret: secret}
}

// NewRedactingLogger wraps base's handler with a RedactingHandler.
// A nil base uses slog.Default.
func NewRedactingLogger(base *slog.Logger, secret string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.New(NewRedactingHandler(base.Handler(), secret))
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.secret == "" {
		return h.inner.Handle(ctx, r)
	}

	out := slog.NewRecord(r.Time, r.Level, h.RedactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		redacted = append(redacted, h.redactAttr(a))
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted), secret: h.secret}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), secret: h.secret}
}

// RedactString replaces every occurrence of the secret in s.
func (h *RedactingHandler) RedactString(s string) string {
	if h.secret == "" {
		return s
	}
	return strings.ReplaceAll(s, h.secret, RedactionMarker)
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		if v.String() == h.secret {
			return slog.String(a.Key, "")
		}
		return slog.String(a.Key, h.RedactString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]any, 0, len(group))
		for _, ga := range group {
			redacted = append(redacted, h.redactAttr(ga))
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		text := fmt.Sprint(v.Any())
		if text == h.secret {
			return slog.String(a.Key, "")
		}
		if strings.Contains(text, h.secret) {
			return slog.String(a.Key, h.RedactString(text))
		}
		return slog.Attr{Key: a.Key, Value: v}
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}
