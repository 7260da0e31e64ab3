package state

import "time"

// EntityType names a persisted entity family for queries and transitions.
type EntityType string

const (
	EntityKey        EntityType = "key"
	EntityQuota      EntityType = "quota_state"
	EntityDecision   EntityType = "routing_decision"
	EntityTransition EntityType = "state_transition"
)

// Alternative is a candidate the router scored but did not select.
type Alternative struct {
	KeyID      string  `json:"key_id"`
	ProviderID string  `json:"provider_id"`
	Score      float64 `json:"score"`

	// Reason says why this candidate lost (lower score, budget penalty,
	// quota downgrade).
	Reason string `json:"reason"`
}

// RoutingDecision is the append-only audit record of one selection. Stores
// never mutate a saved decision.
type RoutingDecision struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`

	// CorrelationID links the decision to every log line and event emitted
	// for the same logical request.
	CorrelationID string `json:"correlation_id,omitempty"`

	SelectedKeyID      string `json:"selected_key_id"`
	SelectedProviderID string `json:"selected_provider_id"`

	Timestamp time.Time `json:"timestamp"`

	// Objective is the full objective the decision was made under.
	Objective Objective `json:"objective"`

	// EligibleKeys lists every key id that survived filtering and was
	// scored. The selected key is always a member.
	EligibleKeys []string `json:"eligible_keys"`

	// Scores holds the final per-key score after multipliers and budget
	// adjustments, in [0, 1].
	Scores map[string]float64 `json:"scores"`

	// Explanation is the strategy's human-readable account of the choice.
	// Always non-empty.
	Explanation string `json:"explanation"`

	// Confidence is the selected key's normalized score, in [0, 1].
	Confidence float64 `json:"confidence"`

	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Clone returns a deep copy.
func (d *RoutingDecision) Clone() *RoutingDecision {
	if d == nil {
		return nil
	}
	out := *d
	out.Objective = d.Objective.Clone()
	if d.EligibleKeys != nil {
		out.EligibleKeys = append([]string(nil), d.EligibleKeys...)
	}
	if d.Scores != nil {
		out.Scores = make(map[string]float64, len(d.Scores))
		for k, v := range d.Scores {
			out.Scores[k] = v
		}
	}
	if d.Alternatives != nil {
		out.Alternatives = append([]Alternative(nil), d.Alternatives...)
	}
	return &out
}

// StateTransition is the append-only audit record of one lifecycle change.
type StateTransition struct {
	ID string `json:"id"`

	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`

	Timestamp time.Time `json:"timestamp"`

	// Trigger is a short tag naming what caused the transition
	// (rate_limit, cooldown_elapsed, manual_revocation, quota_exhausted,
	// quota_reset, key_rotation, noop).
	Trigger string `json:"trigger"`

	// Context carries bounded supplemental detail.
	Context map[string]string `json:"context,omitempty"`
}

// Clone returns a deep copy.
func (t *StateTransition) Clone() *StateTransition {
	if t == nil {
		return nil
	}
	out := *t
	if t.Context != nil {
		out.Context = make(map[string]string, len(t.Context))
		for k, v := range t.Context {
			out.Context[k] = v
		}
	}
	return &out
}
