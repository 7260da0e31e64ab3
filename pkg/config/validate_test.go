package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a configuration that passes validation, for tests
// to break one field at a time.
func validConfig() *Config {
	cfg := &Config{
		Keys: []KeyConfig{
			{ID: "k1", Provider: "openai", MaterialEnv: "OPENAI_KEY_1"},
		},
		Policies: []PolicyConfig{
			{Name: "p", Type: "routing"},
		},
		Providers: map[string]ProviderConfig{
			"openai": {},
		},
		Cost: CostConfig{
			Budgets: []BudgetConfig{
				{Scope: "global", Limit: "100"},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %T, want ValidationError", err)
	}
	return verr.Errors
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "bad listen address",
			mutate:    func(c *Config) { c.Server.ListenAddress = "no-port" },
			wantField: "server.listen_address",
		},
		{
			name:      "negative read timeout",
			mutate:    func(c *Config) { c.Server.ReadTimeout = -1 },
			wantField: "server.read_timeout",
		},
		{
			name:      "cors without origins",
			mutate:    func(c *Config) { c.Server.CORS.Enabled = true },
			wantField: "server.cors.allowed_origins",
		},
		{
			name:      "unknown store backend",
			mutate:    func(c *Config) { c.Store.Backend = "etcd" },
			wantField: "store.backend",
		},
		{
			name:      "key without provider",
			mutate:    func(c *Config) { c.Keys[0].Provider = "" },
			wantField: "keys[0].provider",
		},
		{
			name:      "key without material",
			mutate:    func(c *Config) { c.Keys[0].MaterialEnv = "" },
			wantField: "keys[0].material",
		},
		{
			name: "key with both material sources",
			mutate: func(c *Config) {
				c.Keys[0].Material = "sk-live"
			},
			wantField: "keys[0].material",
		},
		{
			name: "duplicate key ids",
			mutate: func(c *Config) {
				c.Keys = append(c.Keys, KeyConfig{ID: "k1", Provider: "openai", MaterialEnv: "X"})
			},
			wantField: "keys[1].id",
		},
		{
			name:      "policy without name",
			mutate:    func(c *Config) { c.Policies[0].Name = "" },
			wantField: "policies[0].name",
		},
		{
			name:      "unknown policy type",
			mutate:    func(c *Config) { c.Policies[0].Type = "firewall" },
			wantField: "policies[0].type",
		},
		{
			name: "global policy with scope id",
			mutate: func(c *Config) {
				c.Policies[0].ScopeID = "openai"
			},
			wantField: "policies[0].scope_id",
		},
		{
			name: "provider cost not decimal",
			mutate: func(c *Config) {
				p := c.Providers["openai"]
				p.CostPerRequest = "cheap"
				c.Providers["openai"] = p
			},
			wantField: "providers.openai.cost_per_request",
		},
		{
			name:      "unknown objective",
			mutate:    func(c *Config) { c.Routing.DefaultObjective = "speed" },
			wantField: "routing.default_objective",
		},
		{
			name:      "unknown quota window",
			mutate:    func(c *Config) { c.Quota.Window = "weekly" },
			wantField: "quota.window",
		},
		{
			name: "custom quota window without length",
			mutate: func(c *Config) {
				c.Quota.Window = "custom"
				c.Quota.CustomWindow = 0
			},
			wantField: "quota.custom_window",
		},
		{
			name:      "budget without limit",
			mutate:    func(c *Config) { c.Cost.Budgets[0].Limit = "" },
			wantField: "cost.budgets[0].limit",
		},
		{
			name:      "budget limit not positive",
			mutate:    func(c *Config) { c.Cost.Budgets[0].Limit = "0" },
			wantField: "cost.budgets[0].limit",
		},
		{
			name: "non-global budget without scope id",
			mutate: func(c *Config) {
				c.Cost.Budgets[0].Scope = "per_provider"
			},
			wantField: "cost.budgets[0].scope_id",
		},
		{
			name: "alert threshold out of range",
			mutate: func(c *Config) {
				c.Cost.Budgets[0].AlertThreshold = 1.5
			},
			wantField: "cost.budgets[0].alert_threshold",
		},
		{
			name:      "unknown enforcement",
			mutate:    func(c *Config) { c.Cost.Budgets[0].Enforcement = "strict" },
			wantField: "cost.budgets[0].enforcement",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name: "tracing enabled without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
			},
			wantField: "telemetry.tracing.endpoint",
		},
		{
			name: "tls without cert",
			mutate: func(c *Config) {
				c.Security.TLS.Enabled = true
				c.Security.TLS.KeyFile = "key.pem"
			},
			wantField: "security.tls.cert_file",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() accepted invalid config")
			}
			for _, fe := range fieldErrors(t, err) {
				if fe.Field == tc.wantField {
					return
				}
			}
			t.Errorf("no error for field %q in %v", tc.wantField, err)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ListenAddress = "bad"
	cfg.Store.Backend = "etcd"
	cfg.Keys[0].Provider = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() accepted invalid config")
	}
	if errs := fieldErrors(t, err); len(errs) < 3 {
		t.Errorf("errors = %d, want all 3 collected: %v", len(errs), err)
	}
	if msg := err.Error(); !strings.Contains(msg, "errors:") {
		t.Errorf("multi-error message = %q", msg)
	}
}
