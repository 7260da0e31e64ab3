package secrets

import (
	"context"
	"os"
	"strings"
)

// DefaultEnvPrefix namespaces secret environment variables.
const DefaultEnvPrefix = "POLARIS_SECRET_"

// EnvProvider reads secrets from environment variables. A secret name is
// uppercased, hyphens become underscores, and the prefix is prepended:
// "master-key" reads POLARIS_SECRET_MASTER_KEY.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider. An empty prefix uses the
// default.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) envVar(name string) string {
	return p.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// GetSecret reads the mapped environment variable.
func (p *EnvProvider) GetSecret(ctx context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(p.envVar(name))
	if !ok || value == "" {
		return "", &LookupError{Name: name, Source: p.Source(), Err: ErrSecretNotFound}
	}
	return value, nil
}

// ListSecrets returns the names of all prefixed environment variables,
// mapped back to secret form.
func (p *EnvProvider) ListSecrets(ctx context.Context) ([]string, error) {
	var names []string
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, p.prefix) {
			continue
		}
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, p.prefix))
		names = append(names, strings.ReplaceAll(name, "_", "-"))
	}
	return names, nil
}

func (p *EnvProvider) Source() string { return "env" }

// Supports reports whether the mapped variable is set.
func (p *EnvProvider) Supports(name string) bool {
	value, ok := os.LookupEnv(p.envVar(name))
	return ok && value != ""
}
