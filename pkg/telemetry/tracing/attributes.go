package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span Attribute Helpers
//
// These functions set common attributes on spans with consistent naming.
// Custom attribute keys use the "polaris.*" namespace:
//   - polaris.provider: provider id the request routed to
//   - polaris.key_id: selected key id
//   - polaris.strategy: routing strategy name
//   - polaris.cost.*: cost amounts in USD

// Common attribute keys used throughout the system
const (
	// Routing attributes
	AttrProvider   = "polaris.provider"
	AttrStrategy   = "polaris.strategy"
	AttrKeyID      = "polaris.key_id"
	AttrScore      = "polaris.score"
	AttrCandidates = "polaris.candidates"

	// Request attributes
	AttrRequestID     = "polaris.request_id"
	AttrCorrelationID = "polaris.correlation_id"
	AttrModel         = "polaris.model"
	AttrAttempt       = "polaris.attempt"

	// Cost attributes
	AttrCostEstimated = "polaris.cost.estimated"
	AttrCostActual    = "polaris.cost.actual"
	AttrCostCurrency  = "polaris.cost.currency"

	// Token attributes
	AttrTokensPrompt     = "polaris.tokens.prompt"
	AttrTokensCompletion = "polaris.tokens.completion"
	AttrTokensTotal      = "polaris.tokens.total"

	// Quota attributes
	AttrQuotaState = "polaris.quota.state"

	// Error attributes
	AttrErrorCategory = "polaris.error.category"
	AttrErrorMessage  = "error.message"
)

// SetRoutingAttributes sets routing decision attributes on a span.
//
// Example:
//
//	SetRoutingAttributes(span, "openai", "cost_optimized", 4)
func SetRoutingAttributes(span trace.Span, provider, strategy string, candidates int) {
	span.SetAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrStrategy, strategy),
		attribute.Int(AttrCandidates, candidates),
	)
}

// SetSelectionAttributes sets the selected key and its score on a span.
func SetSelectionAttributes(span trace.Span, keyID string, score float64) {
	span.SetAttributes(
		attribute.String(AttrKeyID, keyID),
		attribute.Float64(AttrScore, score),
	)
}

// SetRequestAttributes sets request identity attributes on a span.
// The correlation id joins spans against the audit event stream.
//
// Example:
//
//	SetRequestAttributes(span, "req-123", "corr-456", "gpt-4")
func SetRequestAttributes(span trace.Span, requestID, correlationID, model string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRequestID, requestID),
	}
	if correlationID != "" {
		attrs = append(attrs, attribute.String(AttrCorrelationID, correlationID))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrModel, model))
	}
	span.SetAttributes(attrs...)
}

// SetAttemptAttribute records which execution attempt a span covers.
func SetAttemptAttribute(span trace.Span, attempt int) {
	span.SetAttributes(attribute.Int(AttrAttempt, attempt))
}

// SetTokenAttributes sets token count attributes on a span.
//
// Example:
//
//	SetTokenAttributes(span, 1500, 500)
func SetTokenAttributes(span trace.Span, promptTokens, completionTokens int) {
	span.SetAttributes(
		attribute.Int(AttrTokensPrompt, promptTokens),
		attribute.Int(AttrTokensCompletion, completionTokens),
		attribute.Int(AttrTokensTotal, promptTokens+completionTokens),
	)
}

// SetCostAttributes sets estimated and actual cost attributes on a span.
// Pass a negative value to omit either amount.
//
// Example:
//
//	SetCostAttributes(span, 0.012, 0.0135)
func SetCostAttributes(span trace.Span, estimatedUSD, actualUSD float64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCostCurrency, "USD"),
	}
	if estimatedUSD >= 0 {
		attrs = append(attrs, attribute.Float64(AttrCostEstimated, estimatedUSD))
	}
	if actualUSD >= 0 {
		attrs = append(attrs, attribute.Float64(AttrCostActual, actualUSD))
	}
	span.SetAttributes(attrs...)
}

// SetQuotaAttribute sets the capacity state observed for the selected key.
func SetQuotaAttribute(span trace.Span, capacityState string) {
	if capacityState != "" {
		span.SetAttributes(attribute.String(AttrQuotaState, capacityState))
	}
}

// SetErrorAttributes sets error attributes on a span, records the error,
// and sets the span status to Error.
//
// Example:
//
//	SetErrorAttributes(span, err, "rate_limit")
func SetErrorAttributes(span trace.Span, err error, category string) {
	if err == nil {
		return
	}

	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String(AttrErrorCategory, category),
		attribute.String(AttrErrorMessage, err.Error()),
	)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds a named event to the span with optional attributes.
// Events mark interesting points in the span's lifetime, such as a
// failover hop or a budget rejection.
//
// Example:
//
//	AddEvent(span, "failover",
//	    attribute.String("from_key_id", "key-1"),
//	    attribute.String("to_key_id", "key-2"),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
