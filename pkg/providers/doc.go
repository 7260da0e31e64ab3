// Package providers defines the adapter contract between the routing core
// and LLM providers.
//
// # Overview
//
// The core never speaks a provider wire protocol. Each provider is
// represented by an Adapter: a value registered under a string id that
// executes requests, normalizes responses, maps provider errors into the
// SystemError taxonomy, and reports capabilities, cost estimates, and
// health. Dispatch is a registry map lookup.
//
// # The Adapter contract
//
//	type Adapter interface {
//		ID() string
//		ExecuteRequest(ctx, intent, credential) (*Response, error)
//		NormalizeResponse(raw []byte) (*Response, error)
//		MapError(err error) *SystemError
//		Capabilities() Capabilities
//		EstimateCost(intent *RequestIntent) (state.CostEstimate, error)
//		Health() HealthState
//	}
//
// Adapters own their wire protocol and credential format; the core hands
// them a validated RequestIntent plus the decrypted key material and
// consumes only the normalized Response.
//
// # Error taxonomy
//
// Errors crossing the adapter boundary are SystemError values carrying a
// category that determines retryability:
//
//	Authentication  non-retryable
//	Validation      non-retryable
//	RateLimit       retryable, may carry a retry-after duration
//	Timeout         retryable
//	Network         retryable
//	Provider        retryable when the status code is 5xx
//	Unknown         non-retryable
//
// Errors an adapter fails to map are normalized by Normalize, which
// recognizes context deadline expiry and common transport failures.
//
// # Health
//
// Adapters self-report HealthState. The HealthTracker helper implements
// the bookkeeping (consecutive failures, success rates) for adapters that
// derive health from request outcomes rather than a dedicated probe.
package providers
