package secrets

import (
	"context"
	"sort"
)

// Chain queries providers in order and serves each secret from the first
// provider that supports it.
type Chain struct {
	providers []Provider
}

// NewChain creates a chain over the given providers. Order is precedence.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// GetSecret fetches from the first supporting provider.
func (c *Chain) GetSecret(ctx context.Context, name string) (string, error) {
	for _, p := range c.providers {
		if !p.Supports(name) {
			continue
		}
		return p.GetSecret(ctx, name)
	}
	return "", &LookupError{Name: name, Source: c.Source(), Err: ErrSecretNotFound}
}

// ListSecrets merges the names of all providers, deduplicated and sorted.
func (c *Chain) ListSecrets(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, p := range c.providers {
		names, err := p.ListSecrets(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Chain) Source() string { return "chain" }

// Supports reports whether any provider supports the name.
func (c *Chain) Supports(name string) bool {
	for _, p := range c.providers {
		if p.Supports(name) {
			return true
		}
	}
	return false
}
