// Package secrets loads sensitive configuration values (the envelope master
// secret, management tokens) from pluggable sources. Providers are chained;
// the first provider that supports a name serves it.
package secrets

import "context"

// Provider retrieves secrets from one backend.
type Provider interface {
	// GetSecret retrieves a secret by name. Returns ErrSecretNotFound
	// (possibly wrapped) when the backend has no value for it.
	GetSecret(ctx context.Context, name string) (string, error)

	// ListSecrets returns the names available from this provider. Values
	// are never included.
	ListSecrets(ctx context.Context) ([]string, error)

	// Source returns the provider name (env, file, static).
	Source() string

	// Supports reports whether this provider can serve the given name,
	// used by the chain to pick a provider before fetching.
	Supports(name string) bool
}
