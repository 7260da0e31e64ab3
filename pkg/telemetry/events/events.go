// Package events defines the audit events the routing core emits and the
// sinks that receive them. Emission is fire-and-forget: a failing sink is
// logged at WARN by the caller and never fails the primary operation.
package events

import (
	"context"
	"time"
)

// Audit event names. Every mutation of routing-relevant state emits exactly
// one of these.
const (
	KeyRegistered          = "key_registered"
	KeyRotated             = "key_rotated"
	KeyRevoked             = "key_revoked"
	KeyAccess              = "key_access"
	StateTransition        = "state_transition"
	QuotaStateChanged      = "quota_state_changed"
	BudgetViolation        = "budget_violation"
	BudgetThresholdCrossed = "budget_threshold_crossed"
	RoutingDecisionMade    = "routing_decision_made"
	RequestCompleted       = "request_completed"
	RequestFailed          = "request_failed"
	ConfigurationLoaded    = "configuration_loaded"
	ConfigurationRollback  = "configuration_rollback"
	PolicyUpdated          = "policy_updated"
	KeyConfigUpdated       = "key_config_updated"
	ProviderRegistered     = "provider_registered"
)

// Event is one structured audit record.
type Event struct {
	// Name is one of the event name constants above.
	Name string `json:"name"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links the event to the logical request that produced
	// it, when one exists.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Fields carries event-specific detail. Values must be loggable;
	// key material never appears here.
	Fields map[string]any `json:"fields,omitempty"`
}

// Emitter receives audit events. Implementations must be safe for
// concurrent use and must never block the caller for long; emission sits on
// the hot routing path.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, event Event)

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// Discard drops every event. Components treat a nil emitter as Discard, so
// this exists mostly for explicit wiring in tests.
var Discard Emitter = EmitterFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ctx context.Context, event Event) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(ctx, event)
			}
		}
	})
}
