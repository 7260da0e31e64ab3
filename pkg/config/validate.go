package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g. "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every validation error found in a
// configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

var (
	validBackends     = map[string]bool{"memory": true, "redis": true, "sqlite": true}
	validObjectives   = map[string]bool{"cost": true, "reliability": true, "fairness": true, "multi": true}
	validPolicyTypes  = map[string]bool{"routing": true, "cost_control": true, "key_selection": true}
	validScopes       = map[string]bool{"global": true, "per_provider": true, "per_team": true, "per_key": true}
	validUnits        = map[string]bool{"requests": true, "tokens": true, "mixed": true}
	validWindows      = map[string]bool{"hourly": true, "daily": true, "monthly": true, "custom": true}
	validEnforcements = map[string]bool{"hard": true, "soft": true, "advisory": true}
	validLogLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats   = map[string]bool{"json": true, "text": true, "console": true}
	validSamplers     = map[string]bool{"always": true, "never": true, "ratio": true}
)

// Validate checks the entire configuration and returns a ValidationError
// listing every violation, or nil when the configuration is valid.
// Run ApplyDefaults first; validation assumes defaulted values.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateKeys(cfg.Keys)...)
	errs = append(errs, validatePolicies(cfg.Policies)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateRouting(&cfg.Routing)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateCost(&cfg.Cost)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("must be host:port: %v", err)})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "must not be negative"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "must not be negative"})
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, FieldError{Field: "server.rate_limit.requests_per_minute", Message: "must be positive"})
		}
		if cfg.RateLimit.Burst <= 0 {
			errs = append(errs, FieldError{Field: "server.rate_limit.burst", Message: "must be positive"})
		}
	}

	if cfg.CORS.Enabled && len(cfg.CORS.AllowedOrigins) == 0 {
		errs = append(errs, FieldError{Field: "server.cors.allowed_origins", Message: "at least one origin is required when CORS is enabled"})
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend %q (memory, redis, sqlite)", cfg.Backend),
		})
	}
	switch cfg.Backend {
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{Field: "store.redis.addr", Message: "addr is required for the redis backend"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "store.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	}

	return errs
}

func validateKeys(keys []KeyConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool)

	for i, k := range keys {
		field := func(name string) string { return fmt.Sprintf("keys[%d].%s", i, name) }

		if k.Provider == "" {
			errs = append(errs, FieldError{Field: field("provider"), Message: "provider is required"})
		}
		if k.Material == "" && k.MaterialEnv == "" {
			errs = append(errs, FieldError{Field: field("material"), Message: "one of material and material_env is required"})
		}
		if k.Material != "" && k.MaterialEnv != "" {
			errs = append(errs, FieldError{Field: field("material"), Message: "material and material_env are mutually exclusive"})
		}
		if k.ID != "" {
			if seen[k.ID] {
				errs = append(errs, FieldError{Field: field("id"), Message: fmt.Sprintf("duplicate key id %q", k.ID)})
			}
			seen[k.ID] = true
		}
	}

	return errs
}

func validatePolicies(policies []PolicyConfig) []FieldError {
	var errs []FieldError

	for i, p := range policies {
		field := func(name string) string { return fmt.Sprintf("policies[%d].%s", i, name) }

		if p.Name == "" {
			errs = append(errs, FieldError{Field: field("name"), Message: "name is required"})
		}
		if !validPolicyTypes[p.Type] {
			errs = append(errs, FieldError{
				Field:   field("type"),
				Message: fmt.Sprintf("unknown type %q (routing, cost_control, key_selection)", p.Type),
			})
		}
		if !validScopes[p.Scope] {
			errs = append(errs, FieldError{
				Field:   field("scope"),
				Message: fmt.Sprintf("unknown scope %q (global, per_provider, per_team, per_key)", p.Scope),
			})
		}
		if p.Scope == "global" && p.ScopeID != "" {
			errs = append(errs, FieldError{Field: field("scope_id"), Message: "must be empty for global scope"})
		}
	}

	return errs
}

func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	for name, p := range providers {
		field := func(f string) string { return fmt.Sprintf("providers.%s.%s", name, f) }

		if name == "" {
			errs = append(errs, FieldError{Field: "providers", Message: "provider id must not be empty"})
		}
		if p.Timeout < 0 {
			errs = append(errs, FieldError{Field: field("timeout"), Message: "must not be negative"})
		}
		if p.CostPerRequest != "" {
			d, err := decimal.NewFromString(p.CostPerRequest)
			if err != nil {
				errs = append(errs, FieldError{Field: field("cost_per_request"), Message: "must be a decimal string"})
			} else if d.IsNegative() {
				errs = append(errs, FieldError{Field: field("cost_per_request"), Message: "must not be negative"})
			}
		}
	}

	return errs
}

func validateRouting(cfg *RoutingConfig) []FieldError {
	var errs []FieldError

	if !validObjectives[cfg.DefaultObjective] {
		errs = append(errs, FieldError{
			Field:   "routing.default_objective",
			Message: fmt.Sprintf("unknown objective %q (cost, reliability, fairness, multi)", cfg.DefaultObjective),
		})
	}
	if cfg.MaxAlternatives < 0 {
		errs = append(errs, FieldError{Field: "routing.max_alternatives", Message: "must not be negative"})
	}
	if cfg.MaxAttempts <= 0 {
		errs = append(errs, FieldError{Field: "routing.max_attempts", Message: "must be positive"})
	}

	return errs
}

func validateQuota(cfg *QuotaConfig) []FieldError {
	var errs []FieldError

	if !validUnits[cfg.Unit] {
		errs = append(errs, FieldError{
			Field:   "quota.unit",
			Message: fmt.Sprintf("unknown unit %q (requests, tokens, mixed)", cfg.Unit),
		})
	}
	if !validWindows[cfg.Window] {
		errs = append(errs, FieldError{
			Field:   "quota.window",
			Message: fmt.Sprintf("unknown window %q (hourly, daily, monthly, custom)", cfg.Window),
		})
	}
	if cfg.Window == "custom" && cfg.CustomWindow <= 0 {
		errs = append(errs, FieldError{Field: "quota.custom_window", Message: "required when window is custom"})
	}

	return errs
}

func validateCost(cfg *CostConfig) []FieldError {
	var errs []FieldError

	for i, b := range cfg.Budgets {
		field := func(name string) string { return fmt.Sprintf("cost.budgets[%d].%s", i, name) }

		if !validScopes[b.Scope] {
			errs = append(errs, FieldError{
				Field:   field("scope"),
				Message: fmt.Sprintf("unknown scope %q (global, per_provider, per_key, per_team)", b.Scope),
			})
		}
		if b.Scope == "global" && b.ScopeID != "" {
			errs = append(errs, FieldError{Field: field("scope_id"), Message: "must be empty for global scope"})
		}
		if b.Scope != "global" && validScopes[b.Scope] && b.ScopeID == "" {
			errs = append(errs, FieldError{Field: field("scope_id"), Message: "required for non-global scopes"})
		}

		if b.Limit == "" {
			errs = append(errs, FieldError{Field: field("limit"), Message: "limit is required"})
		} else {
			d, err := decimal.NewFromString(b.Limit)
			if err != nil {
				errs = append(errs, FieldError{Field: field("limit"), Message: "must be a decimal string"})
			} else if !d.IsPositive() {
				errs = append(errs, FieldError{Field: field("limit"), Message: "must be positive"})
			}
		}

		if !validWindows[b.Period] {
			errs = append(errs, FieldError{
				Field:   field("period"),
				Message: fmt.Sprintf("unknown period %q (hourly, daily, monthly, custom)", b.Period),
			})
		}
		if b.Period == "custom" && b.CustomPeriod <= 0 {
			errs = append(errs, FieldError{Field: field("custom_period"), Message: "required when period is custom"})
		}
		if !validEnforcements[b.Enforcement] {
			errs = append(errs, FieldError{
				Field:   field("enforcement"),
				Message: fmt.Sprintf("unknown enforcement %q (hard, soft, advisory)", b.Enforcement),
			})
		}
		if b.AlertThreshold <= 0 || b.AlertThreshold >= 1 {
			errs = append(errs, FieldError{Field: field("alert_threshold"), Message: "must be strictly between 0 and 1"})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q (debug, info, warn, error)", cfg.Logging.Level),
		})
	}
	if !validLogFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q (json, text, console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	t := &cfg.Tracing
	if t.Enabled && t.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
	}
	if !validSamplers[t.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("unknown sampler %q (always, never, ratio)", t.Sampler),
		})
	}
	if t.Sampler == "ratio" && (t.SampleRatio < 0 || t.SampleRatio > 1) {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.MasterKeyEnv == "" && cfg.MasterKeyFile == "" {
		errs = append(errs, FieldError{Field: "security.master_key_env", Message: "one of master_key_env and master_key_file is required"})
	}

	tls := &cfg.TLS
	if tls.Enabled {
		if tls.CertFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if tls.KeyFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.key_file", Message: "required when TLS is enabled"})
		}
	}

	return errs
}
