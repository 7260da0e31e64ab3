package providers

import (
	"context"

	"northstar-hq/polaris/pkg/state"
)

// Adapter is the contract every provider integration implements. The core
// consumes only this interface; adapters own their wire protocol and
// credential format.
//
// All blocking methods accept a context.Context for cancellation and
// deadline control. Implementations must respect cancellation and return
// promptly when the context is done.
//
// Example usage:
//
//	adapter, err := registry.Get("openai")
//	if err != nil {
//	    return err
//	}
//	resp, err := adapter.ExecuteRequest(ctx, intent, credential)
//	if err != nil {
//	    sysErr := adapter.MapError(err)
//	    if sysErr.Retryable() {
//	        // failover to another key
//	    }
//	}
type Adapter interface {
	// ID returns the provider id this adapter is registered under,
	// for example "openai" or "anthropic". Ids must match
	// ^[a-z0-9_-]{1,100}$.
	ID() string

	// ExecuteRequest sends the intent to the provider using the supplied
	// credential and returns the normalized response.
	//
	// The returned error is either a *SystemError or a raw transport
	// error the caller passes through MapError. Exceeding the context
	// deadline must surface as a Timeout-category error.
	ExecuteRequest(ctx context.Context, intent *RequestIntent, credential Credential) (*Response, error)

	// NormalizeResponse converts a raw provider payload into the
	// provider-agnostic Response. ExecuteRequest implementations call
	// this internally; it is exposed so replayed or recorded payloads
	// can be normalized outside a live request.
	NormalizeResponse(raw []byte) (*Response, error)

	// MapError converts a provider or transport error into the
	// SystemError taxonomy. Passing nil returns nil. Errors that are
	// already *SystemError are returned unchanged.
	MapError(err error) *SystemError

	// Capabilities reports what the provider supports. The routing core
	// uses this to reject intents the provider cannot serve before
	// spending a routing decision on them.
	Capabilities() Capabilities

	// EstimateCost predicts the cost of executing the intent. Adapters
	// with pricing knowledge return an adapter-method estimate; the cost
	// controller falls back to a token heuristic when this returns an
	// error or a zero-confidence estimate.
	EstimateCost(intent *RequestIntent) (state.CostEstimate, error)

	// Health returns the adapter's current self-reported health. This is
	// a non-blocking read of tracked state, not a live probe.
	Health() HealthState
}

// Credential carries the decrypted key material an adapter authenticates
// with, plus the key id for audit correlation. Adapters must never log
// the material.
type Credential struct {
	// KeyID is the managed key's id, for audit trails only.
	KeyID string

	// Material is the decrypted provider API key.
	Material string
}
