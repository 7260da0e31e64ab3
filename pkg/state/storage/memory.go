package storage

import (
	"context"
	"sort"
	"sync"

	"northstar-hq/polaris/pkg/state"
)

const backendMemory = "memory"

// DefaultAuditCap bounds the in-memory decision and transition logs. The
// oldest entries are evicted first once the cap is reached.
const DefaultAuditCap = 1000

// MemoryConfig tunes the in-memory store.
type MemoryConfig struct {
	// DecisionCap bounds the routing-decision log. 0 means unlimited;
	// negative means the default cap.
	DecisionCap int

	// TransitionCap bounds the state-transition log. Same semantics.
	TransitionCap int
}

// MemoryStore keeps all entities in process memory. One writer lock per
// entity family; every read and write works on copies so callers never
// share backing data with the store.
type MemoryStore struct {
	keysMu sync.RWMutex
	keys   map[string]*state.Key

	quotaMu sync.RWMutex
	quota   map[string]*state.QuotaState

	decisionsMu sync.RWMutex
	decisions   []*state.RoutingDecision
	decisionCap int

	transitionsMu sync.RWMutex
	transitions   []*state.StateTransition
	transitionCap int

	closedMu sync.RWMutex
	closed   bool
}

// NewMemoryStore creates an in-memory store with the default audit caps.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryConfig{DecisionCap: -1, TransitionCap: -1})
}

// NewMemoryStoreWithConfig creates an in-memory store with explicit caps.
func NewMemoryStoreWithConfig(cfg MemoryConfig) *MemoryStore {
	dc := cfg.DecisionCap
	if dc < 0 {
		dc = DefaultAuditCap
	}
	tc := cfg.TransitionCap
	if tc < 0 {
		tc = DefaultAuditCap
	}
	return &MemoryStore{
		keys:          make(map[string]*state.Key),
		quota:         make(map[string]*state.QuotaState),
		decisionCap:   dc,
		transitionCap: tc,
	}
}

func (s *MemoryStore) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// SaveKey upserts a key by id.
func (s *MemoryStore) SaveKey(ctx context.Context, key *state.Key) error {
	if s.isClosed() {
		return state.NewStoreError(backendMemory, "save_key", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return state.NewStoreError(backendMemory, "save_key", err)
	}

	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	s.keys[key.ID] = key.Clone()
	return nil
}

// GetKey returns the key or state.ErrNotFound.
func (s *MemoryStore) GetKey(ctx context.Context, id string) (*state.Key, error) {
	if s.isClosed() {
		return nil, state.NewStoreError(backendMemory, "get_key", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, state.NewStoreError(backendMemory, "get_key", err)
	}

	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, state.ErrNotFound
	}
	return k.Clone(), nil
}

// ListKeys returns keys for the provider, oldest-first by creation time with
// id tiebreak. An empty providerID returns all keys.
func (s *MemoryStore) ListKeys(ctx context.Context, providerID string) ([]*state.Key, error) {
	if s.isClosed() {
		return nil, state.NewStoreError(backendMemory, "list_keys", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, state.NewStoreError(backendMemory, "list_keys", err)
	}

	s.keysMu.RLock()
	defer s.keysMu.RUnlock()

	out := make([]*state.Key, 0, len(s.keys))
	for _, k := range s.keys {
		if providerID != "" && k.ProviderID != providerID {
			continue
		}
		out = append(out, k.Clone())
	}
	sortKeys(out)
	return out, nil
}

// SaveQuotaState upserts by key id.
func (s *MemoryStore) SaveQuotaState(ctx context.Context, qs *state.QuotaState) error {
	if s.isClosed() {
		return state.NewStoreError(backendMemory, "save_quota_state", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return state.NewStoreError(backendMemory, "save_quota_state", err)
	}

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	s.quota[qs.KeyID] = qs.Clone()
	return nil
}

// GetQuotaState returns the quota state for the key or state.ErrNotFound.
func (s *MemoryStore) GetQuotaState(ctx context.Context, keyID string) (*state.QuotaState, error) {
	if s.isClosed() {
		return nil, state.NewStoreError(backendMemory, "get_quota_state", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, state.NewStoreError(backendMemory, "get_quota_state", err)
	}

	s.quotaMu.RLock()
	defer s.quotaMu.RUnlock()
	qs, ok := s.quota[keyID]
	if !ok {
		return nil, state.ErrNotFound
	}
	return qs.Clone(), nil
}

// SaveRoutingDecision appends to the decision log, evicting the oldest entry
// once the cap is reached.
func (s *MemoryStore) SaveRoutingDecision(ctx context.Context, d *state.RoutingDecision) error {
	if s.isClosed() {
		return state.NewStoreError(backendMemory, "save_routing_decision", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return state.NewStoreError(backendMemory, "save_routing_decision", err)
	}

	s.decisionsMu.Lock()
	defer s.decisionsMu.Unlock()
	s.decisions = append(s.decisions, d.Clone())
	if s.decisionCap > 0 && len(s.decisions) > s.decisionCap {
		over := len(s.decisions) - s.decisionCap
		s.decisions = append(s.decisions[:0:0], s.decisions[over:]...)
	}
	return nil
}

// SaveStateTransition appends to the transition log, evicting the oldest
// entry once the cap is reached.
func (s *MemoryStore) SaveStateTransition(ctx context.Context, tr *state.StateTransition) error {
	if s.isClosed() {
		return state.NewStoreError(backendMemory, "save_state_transition", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return state.NewStoreError(backendMemory, "save_state_transition", err)
	}

	s.transitionsMu.Lock()
	defer s.transitionsMu.Unlock()
	s.transitions = append(s.transitions, tr.Clone())
	if s.transitionCap > 0 && len(s.transitions) > s.transitionCap {
		over := len(s.transitions) - s.transitionCap
		s.transitions = append(s.transitions[:0:0], s.transitions[over:]...)
	}
	return nil
}

// QueryState filters one entity family per the query.
func (s *MemoryStore) QueryState(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	if s.isClosed() {
		return nil, state.NewStoreError(backendMemory, "query_state", state.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, state.NewStoreError(backendMemory, "query_state", err)
	}

	switch q.EntityType {
	case state.EntityKey:
		return s.queryKeys(q), nil
	case state.EntityQuota:
		return s.queryQuota(q), nil
	case state.EntityDecision:
		return s.queryDecisions(q), nil
	case state.EntityTransition:
		return s.queryTransitions(q), nil
	default:
		return nil, state.NewStoreError(backendMemory, "query_state", errUnknownEntityType(q.EntityType))
	}
}

func (s *MemoryStore) queryKeys(q state.Query) *state.QueryResult {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()

	var matched []*state.Key
	for _, k := range s.keys {
		if !matchKey(k, q) {
			continue
		}
		matched = append(matched, k.Clone())
	}
	sortKeys(matched)
	matched = paginate(matched, q.Offset, q.Limit)
	return &state.QueryResult{Keys: matched}
}

func (s *MemoryStore) queryQuota(q state.Query) *state.QueryResult {
	s.quotaMu.RLock()
	defer s.quotaMu.RUnlock()

	var matched []*state.QuotaState
	for _, qs := range s.quota {
		if !matchQuota(qs, q) {
			continue
		}
		matched = append(matched, qs.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].KeyID < matched[j].KeyID
	})
	matched = paginate(matched, q.Offset, q.Limit)
	return &state.QueryResult{QuotaStates: matched}
}

func (s *MemoryStore) queryDecisions(q state.Query) *state.QueryResult {
	s.decisionsMu.RLock()
	defer s.decisionsMu.RUnlock()

	var matched []*state.RoutingDecision
	for _, d := range s.decisions {
		if !matchDecision(d, q) {
			continue
		}
		matched = append(matched, d.Clone())
	}
	// Newest first for audit reads.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})
	matched = paginate(matched, q.Offset, q.Limit)
	return &state.QueryResult{Decisions: matched}
}

func (s *MemoryStore) queryTransitions(q state.Query) *state.QueryResult {
	s.transitionsMu.RLock()
	defer s.transitionsMu.RUnlock()

	var matched []*state.StateTransition
	for _, tr := range s.transitions {
		if !matchTransition(tr, q) {
			continue
		}
		matched = append(matched, tr.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})
	matched = paginate(matched, q.Offset, q.Limit)
	return &state.QueryResult{Transitions: matched}
}

// Close drops all stored entities. Further calls fail with state.ErrClosed.
func (s *MemoryStore) Close() error {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.keysMu.Lock()
	s.keys = make(map[string]*state.Key)
	s.keysMu.Unlock()

	s.quotaMu.Lock()
	s.quota = make(map[string]*state.QuotaState)
	s.quotaMu.Unlock()

	s.decisionsMu.Lock()
	s.decisions = nil
	s.decisionsMu.Unlock()

	s.transitionsMu.Lock()
	s.transitions = nil
	s.transitionsMu.Unlock()
	return nil
}

// Clear removes all entities without closing the store (for testing).
func (s *MemoryStore) Clear() {
	s.keysMu.Lock()
	s.keys = make(map[string]*state.Key)
	s.keysMu.Unlock()

	s.quotaMu.Lock()
	s.quota = make(map[string]*state.QuotaState)
	s.quotaMu.Unlock()

	s.decisionsMu.Lock()
	s.decisions = nil
	s.decisionsMu.Unlock()

	s.transitionsMu.Lock()
	s.transitions = nil
	s.transitionsMu.Unlock()
}

// Sizes returns the entity counts per family (for testing).
func (s *MemoryStore) Sizes() (keys, quota, decisions, transitions int) {
	s.keysMu.RLock()
	keys = len(s.keys)
	s.keysMu.RUnlock()

	s.quotaMu.RLock()
	quota = len(s.quota)
	s.quotaMu.RUnlock()

	s.decisionsMu.RLock()
	decisions = len(s.decisions)
	s.decisionsMu.RUnlock()

	s.transitionsMu.RLock()
	transitions = len(s.transitions)
	s.transitionsMu.RUnlock()
	return
}
