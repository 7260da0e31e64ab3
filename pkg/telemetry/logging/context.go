package logging

import "context"

type contextKey string

const (
	// RequestIDKey carries the per-request id.
	RequestIDKey contextKey = "request_id"

	// CorrelationIDKey carries the id that links every log line and event
	// emitted while handling one logical request.
	CorrelationIDKey contextKey = "correlation_id"

	// ProviderKey carries the provider id being routed to.
	ProviderKey contextKey = "provider_id"

	// KeyIDKey carries the selected credential id. Only the id; material
	// never enters a context.
	KeyIDKey contextKey = "key_id"
)

// WithRequestID returns ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id from ctx, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithCorrelationID returns ctx carrying the correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// CorrelationID returns the correlation id from ctx, or "".
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(CorrelationIDKey).(string)
	return v
}

// WithProvider returns ctx carrying the provider id.
func WithProvider(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, ProviderKey, providerID)
}

// Provider returns the provider id from ctx, or "".
func Provider(ctx context.Context) string {
	v, _ := ctx.Value(ProviderKey).(string)
	return v
}

// WithKeyID returns ctx carrying the selected key id.
func WithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, KeyIDKey, keyID)
}

// KeyID returns the key id from ctx, or "".
func KeyID(ctx context.Context) string {
	v, _ := ctx.Value(KeyIDKey).(string)
	return v
}

// ContextFields returns the log fields found in ctx as alternating
// key/value pairs, ready to splice into slog arguments.
func ContextFields(ctx context.Context) []any {
	var fields []any
	if v := RequestID(ctx); v != "" {
		fields = append(fields, string(RequestIDKey), v)
	}
	if v := CorrelationID(ctx); v != "" {
		fields = append(fields, string(CorrelationIDKey), v)
	}
	if v := Provider(ctx); v != "" {
		fields = append(fields, string(ProviderKey), v)
	}
	if v := KeyID(ctx); v != "" {
		fields = append(fields, string(KeyIDKey), v)
	}
	return fields
}
