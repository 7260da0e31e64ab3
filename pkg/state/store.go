package state

import (
	"context"
	"time"
)

// Query selects entities from a StateStore. EntityType is required; the
// remaining filters narrow the result and combine with AND. Zero-valued
// filters are ignored.
type Query struct {
	EntityType EntityType

	// KeyID matches Key.ID, QuotaState.KeyID, RoutingDecision.SelectedKeyID,
	// or StateTransition.EntityID depending on EntityType.
	KeyID string

	// ProviderID matches Key.ProviderID or RoutingDecision.SelectedProviderID.
	ProviderID string

	// State matches Key.State, QuotaState.CapacityState, or
	// StateTransition.ToState.
	State string

	// Since and Until bound the entity's natural timestamp: created_at for
	// keys, updated_at for quota states, the decision or transition
	// timestamp for audit records. Zero values leave the bound open;
	// both bounds are inclusive.
	Since time.Time
	Until time.Time

	// Limit caps the result size; 0 means no cap. Offset skips matches
	// after ordering.
	Limit  int
	Offset int
}

// QueryResult carries matches for one entity family. Only the slice for the
// queried EntityType is populated.
type QueryResult struct {
	Keys        []*Key
	QuotaStates []*QuotaState
	Decisions   []*RoutingDecision
	Transitions []*StateTransition
}

// Len returns the number of matched entities.
func (r *QueryResult) Len() int {
	return len(r.Keys) + len(r.QuotaStates) + len(r.Decisions) + len(r.Transitions)
}

// StateStore is the persistence contract every backing implements. Save
// operations upsert for keys and quota states and append for decisions and
// transitions. Implementations return entities as independent copies; a
// caller mutating a returned value never changes the stored one.
//
// Ordering: ListKeys and key/quota queries return oldest-first by the natural
// timestamp with id as tiebreak; decision and transition queries return
// newest-first.
type StateStore interface {
	// SaveKey upserts a key by id.
	SaveKey(ctx context.Context, key *Key) error

	// GetKey returns the key or ErrNotFound.
	GetKey(ctx context.Context, id string) (*Key, error)

	// ListKeys returns keys for the provider, or all keys when providerID
	// is empty.
	ListKeys(ctx context.Context, providerID string) ([]*Key, error)

	// SaveQuotaState upserts by KeyID. At most one state exists per key.
	SaveQuotaState(ctx context.Context, qs *QuotaState) error

	// GetQuotaState returns the state for the key or ErrNotFound.
	GetQuotaState(ctx context.Context, keyID string) (*QuotaState, error)

	// SaveRoutingDecision appends an audit decision.
	SaveRoutingDecision(ctx context.Context, d *RoutingDecision) error

	// SaveStateTransition appends an audit transition.
	SaveStateTransition(ctx context.Context, t *StateTransition) error

	// QueryState returns entities matching q.
	QueryState(ctx context.Context, q Query) (*QueryResult, error)

	// Close releases backing resources.
	Close() error
}
