package providers

import (
	"context"
	"sort"
	"sync"

	"northstar-hq/polaris/pkg/telemetry/events"
)

// Registry holds the adapters available for routing, keyed by provider id.
// Registration happens at bootstrap; lookups happen on every routed
// request, so reads take only a shared lock.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	emitter  events.Emitter
}

// NewRegistry creates an empty adapter registry. A nil emitter discards
// registration audit events.
func NewRegistry(emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		emitter:  emitter,
	}
}

// Register adds an adapter under its id. The id must match the canonical
// provider id pattern and must not already be registered.
func (r *Registry) Register(adapter Adapter) error {
	id := adapter.ID()
	if err := ValidateProviderID(id); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.adapters[id]; exists {
		r.mu.Unlock()
		return &DuplicateAdapterError{ProviderID: id}
	}
	r.adapters[id] = adapter
	r.mu.Unlock()

	r.emitter.Emit(context.Background(), events.Event{
		Name: events.ProviderRegistered,
		Fields: map[string]any{
			"provider_id": id,
		},
	})
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{ProviderID: id}
	}
	return adapter, nil
}

// Has reports whether an adapter is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// List returns the registered provider ids in lexicographic order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
