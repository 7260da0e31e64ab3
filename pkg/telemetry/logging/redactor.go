package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks credential-shaped values in log attributes. It matches both
// by key name (anything that looks like a secret field) and by value shape
// (provider key prefixes, bearer tokens).
type Redactor struct {
	valuePatterns []valuePattern
}

type valuePattern struct {
	regex       *regexp.Regexp
	replacement string
}

// Attribute keys treated as secrets regardless of value shape.
var sensitiveKeys = []string{
	"material", "key_material", "api_key", "apikey",
	"secret", "token", "password", "passwd",
	"authorization", "auth_token", "bearer",
	"master_key", "private_key",
}

// NewRedactor builds a redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	compile := func(pattern, replacement string) valuePattern {
		return valuePattern{regex: regexp.MustCompile(pattern), replacement: replacement}
	}
	return &Redactor{
		valuePatterns: []valuePattern{
			// Provider API keys (sk- and similar prefixed credentials).
			compile(`\b(sk|pk|rk)-[a-zA-Z0-9_-]{8,}`, "$1-***"),
			// Bearer tokens in header-shaped strings.
			compile(`(?i)bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"),
			// key=value and key: value forms naming a secret field.
			compile(`(?i)(api[-_]?key|token|secret|password)[:=]\s*\S+`, "$1=***"),
		},
	}
}

// RedactString masks every credential pattern in s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.valuePatterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactValue masks a value attached to a sensitive key, keeping a short
// prefix so operators can still distinguish credentials.
func RedactValue(v string) string {
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}

// IsSensitiveKey reports whether the attribute key names a secret field.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactArgs masks secrets in alternating key/value log arguments.
func (r *Redactor) RedactArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}
	out := make([]any, len(args))
	copy(out, args)
	for i := 1; i < len(out); i += 2 {
		key, _ := out[i-1].(string)
		if IsSensitiveKey(key) {
			if s, ok := out[i].(string); ok {
				out[i] = RedactValue(s)
			} else {
				out[i] = "***"
			}
			continue
		}
		if s, ok := out[i].(string); ok {
			out[i] = r.RedactString(s)
		}
	}
	return out
}

// WrapHandler returns a handler that redacts every record's attributes
// before passing it on.
func (r *Redactor) WrapHandler(next slog.Handler) slog.Handler {
	return &redactHandler{next: next, redactor: r}
}

type redactHandler struct {
	next     slog.Handler
	redactor *Redactor
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redactor.RedactString(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, g := range attrs {
			redacted[i] = h.redactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}
	if IsSensitiveKey(a.Key) {
		if a.Value.Kind() == slog.KindString {
			return slog.String(a.Key, RedactValue(a.Value.String()))
		}
		return slog.String(a.Key, "***")
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, h.redactor.RedactString(a.Value.String()))
	}
	return a
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}
