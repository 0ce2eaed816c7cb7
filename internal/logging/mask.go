package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// Secret-bearing substrings that must never reach a log sink. Bot tokens are
// three dot-separated base64url groups, LLM API keys start with a vendor
// prefix, and recording URLs carry a per-recording access key as a query
// parameter.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9_-]{23,28}\.[A-Za-z0-9_-]{6,7}\.[A-Za-z0-9_-]{27,}`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`([?&]key=)[A-Za-z0-9_-]+`),
}

var secretReplacements = []string{
	"***",
	"sk-***",
	"${1}***",
}

// Redact replaces bot tokens, LLM API keys, and recording access keys in s
// with placeholders.
func Redact(s string) string {
	for i, re := range secretPatterns {
		s = re.ReplaceAllString(s, secretReplacements[i])
	}
	return s
}

// maskHandler wraps a slog.Handler and redacts secrets from the message and
// all string-valued attributes before they are written.
type maskHandler struct {
	inner slog.Handler
}

// NewMaskingHandler returns a handler that redacts secrets before delegating
// to inner.
func NewMaskingHandler(inner slog.Handler) slog.Handler {
	return &maskHandler{inner: inner}
}

func (h *maskHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *maskHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *maskHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &maskHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *maskHandler) WithGroup(name string) slog.Handler {
	return &maskHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		redacted := make([]any, 0, len(group))
		for _, g := range group {
			redacted = append(redacted, redactAttr(g))
		}
		return slog.Group(a.Key, redacted...)
	default:
		return a
	}
}
