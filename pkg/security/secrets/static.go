package secrets

import (
	"context"
	"sort"
	"sync"
)

// StaticProvider serves secrets from an in-memory map. Used by tests and by
// configurations that inline non-production secrets.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticProvider creates a static provider from the given values.
func NewStaticProvider(values map[string]string) *StaticProvider {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticProvider{values: copied}
}

// GetSecret returns the mapped value.
func (p *StaticProvider) GetSecret(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[name]
	if !ok || value == "" {
		return "", &LookupError{Name: name, Source: p.Source(), Err: ErrSecretNotFound}
	}
	return value, nil
}

// ListSecrets returns the mapped names, sorted.
func (p *StaticProvider) ListSecrets(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *StaticProvider) Source() string { return "static" }

// Supports reports whether the name is mapped.
func (p *StaticProvider) Supports(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[name]
	return ok && value != ""
}

// Set adds or replaces a value (for tests).
func (p *StaticProvider) Set(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[name] = value
}
