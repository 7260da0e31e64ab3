package config

import "time"

// Config is the root configuration structure for Polaris. It carries the
// bootstrap inventory (keys, policies, providers) and the ambient sections
// for the management server, state store, routing, quota, cost, telemetry,
// and security settings.
type Config struct {
	// Server contains management HTTP server configuration including
	// listen address, timeouts, auth, and rate limiting.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the state store backing.
	Store StoreConfig `yaml:"store"`

	// Keys is the bootstrap key inventory registered at startup. Keys
	// created later through the management API are not written back here.
	Keys []KeyConfig `yaml:"keys"`

	// Policies is the bootstrap policy set loaded at startup.
	Policies []PolicyConfig `yaml:"policies"`

	// Providers configures the provider adapters. Map keys are provider
	// ids (e.g. "openai", "anthropic").
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Routing contains routing engine and recovery task configuration.
	Routing RoutingConfig `yaml:"routing"`

	// Quota contains quota engine window and unit configuration.
	Quota QuotaConfig `yaml:"quota"`

	// Cost contains the cost controller settings and bootstrap budgets.
	Cost CostConfig `yaml:"cost"`

	// Telemetry contains logging, metrics, and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security contains master-secret sourcing and TLS settings.
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains configuration for the management HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port". Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size. Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// AuthTokenEnv names the environment variable holding the management
	// bearer token. Default: "POLARIS_API_TOKEN". When the variable is
	// unset the management API refuses all requests except health and
	// metrics.
	AuthTokenEnv string `yaml:"auth_token_env"`

	// RateLimit configures per-client request limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// RateLimitConfig contains per-client rate limiting for the management
// server.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is applied. Default: true
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the sustained per-client allowance.
	// Default: 300
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the instantaneous allowance above the sustained rate.
	// Default: 50
	Burst int `yaml:"burst"`

	// FailureThreshold is the count of auth failures from one client
	// after which it is blocked. Default: 10
	FailureThreshold int `yaml:"failure_threshold"`

	// BlockDuration is how long a blocked client stays blocked.
	// Default: 15m
	BlockDuration time.Duration `yaml:"block_duration"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted. Default: false
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is the origin allow-list. Use ["*"] to allow all
	// origins (not recommended for production).
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is the allowed HTTP methods.
	// Default: ["GET", "POST", "PUT", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is the allowed request headers.
	// Default: ["Authorization", "Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the preflight cache lifetime in seconds. Default: 3600
	MaxAge int `yaml:"max_age"`
}

// StoreConfig selects the state store backing and its settings.
type StoreConfig struct {
	// Backend selects the backing: "memory", "redis", or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Memory configures the in-memory backing.
	Memory MemoryStoreConfig `yaml:"memory"`

	// Redis configures the Redis backing.
	Redis RedisStoreConfig `yaml:"redis"`

	// SQLite configures the SQLite backing.
	SQLite SQLiteStoreConfig `yaml:"sqlite"`

	// AuditRetention is how long audit records are kept by backings
	// without native TTLs. Default: 720h (30 days)
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// MemoryStoreConfig contains caps for the in-memory backing.
type MemoryStoreConfig struct {
	// DecisionCap bounds retained routing decisions, oldest evicted
	// first. Zero keeps everything; negative means the default cap.
	DecisionCap int `yaml:"decision_cap"`

	// TransitionCap bounds retained state transitions the same way.
	TransitionCap int `yaml:"transition_cap"`
}

// RedisStoreConfig contains connection settings for the Redis backing.
type RedisStoreConfig struct {
	// Addr is the host:port of the Redis server. Default: "127.0.0.1:6379"
	Addr string `yaml:"addr"`

	// Password authenticates the connection, empty for none.
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db"`
}

// SQLiteStoreConfig contains settings for the SQLite backing.
type SQLiteStoreConfig struct {
	// Path is the database file. ":memory:" gives an ephemeral database.
	// Default: "./polaris.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// KeyConfig describes one bootstrap key.
type KeyConfig struct {
	// ID assigns a stable id to the key. Empty generates one.
	ID string `yaml:"id"`

	// Provider is the provider id the key belongs to. Required.
	Provider string `yaml:"provider"`

	// Material is the literal key material. Prefer MaterialEnv; a
	// literal here ends up on disk in plaintext.
	Material string `yaml:"material"`

	// MaterialEnv names the environment variable holding the material.
	// Exactly one of Material and MaterialEnv must be set.
	MaterialEnv string `yaml:"material_env"`

	// Metadata is attached to the key verbatim. Routing reads
	// "cost_per_request", "region", and "tier" when present.
	Metadata map[string]any `yaml:"metadata"`
}

// PolicyConfig describes one bootstrap policy. Fields mirror the policy
// engine's Policy type; wiring converts at startup.
type PolicyConfig struct {
	// ID assigns a stable id. Empty generates one.
	ID string `yaml:"id"`

	// Name is the human-readable policy name. Required.
	Name string `yaml:"name"`

	// Type is "routing", "cost_control", or "key_selection". Required.
	Type string `yaml:"type"`

	// Scope is "global", "per_provider", "per_team", or "per_key".
	// Default: "global"
	Scope string `yaml:"scope"`

	// ScopeID narrows a non-global scope to one provider, team, or key.
	ScopeID string `yaml:"scope_id"`

	// Priority orders evaluation; higher evaluates first.
	Priority int `yaml:"priority"`

	// Rules holds the constraint fields, passed through to the engine.
	Rules map[string]any `yaml:"rules"`

	// Enabled controls whether the policy participates in evaluation.
	// Default: true (set explicitly to false to load disabled).
	Enabled *bool `yaml:"enabled"`
}

// ProviderConfig contains configuration for a single provider adapter.
type ProviderConfig struct {
	// Enabled controls whether the adapter is registered. Default: true
	Enabled *bool `yaml:"enabled"`

	// BaseURL overrides the adapter's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request deadline for this provider.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// CostPerRequest is a heuristic per-request cost used when neither
	// the adapter nor key metadata supplies one. Decimal string.
	CostPerRequest string `yaml:"cost_per_request"`
}

// RoutingConfig contains routing engine and recovery task settings.
type RoutingConfig struct {
	// DefaultObjective is the objective used when a request names none:
	// "cost", "reliability", "fairness", or "multi". Default: "fairness"
	DefaultObjective string `yaml:"default_objective"`

	// MaxAlternatives bounds the alternatives recorded per decision.
	// Default: 3
	MaxAlternatives int `yaml:"max_alternatives"`

	// MaxAttempts bounds attempts per request, first try included.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RecoverySchedule is the cron expression or descriptor driving the
	// background recovery pass. Default: "@every 1m"
	RecoverySchedule string `yaml:"recovery_schedule"`
}

// QuotaConfig contains quota engine settings.
type QuotaConfig struct {
	// Unit is the default capacity unit for new quota state: "requests",
	// "tokens", or "mixed". Default: "requests"
	Unit string `yaml:"unit"`

	// Window is the default reset window: "hourly", "daily", "monthly",
	// or "custom". Default: "daily"
	Window string `yaml:"window"`

	// CustomWindow is the window length when Window is "custom".
	CustomWindow time.Duration `yaml:"custom_window"`

	// RecoveringWindow is how long before reset an exhausted key moves
	// to recovering. Default: 5m
	RecoveringWindow time.Duration `yaml:"recovering_window"`

	// PredictionWindow is how far ahead exhaustion prediction looks.
	// Default: 10m
	PredictionWindow time.Duration `yaml:"prediction_window"`
}

// CostConfig contains cost controller settings and bootstrap budgets.
type CostConfig struct {
	// ReconciliationCap bounds the retained reconciliation records.
	// Default: 1000
	ReconciliationCap int `yaml:"reconciliation_cap"`

	// Budgets is the bootstrap budget set created at startup.
	Budgets []BudgetConfig `yaml:"budgets"`
}

// BudgetConfig describes one bootstrap budget.
type BudgetConfig struct {
	// ID assigns a stable id. Empty generates one.
	ID string `yaml:"id"`

	// Scope is "global", "per_provider", "per_key", or "per_team".
	// Required.
	Scope string `yaml:"scope"`

	// ScopeID is the provider, key, or team the budget binds to.
	// Required for every scope except global.
	ScopeID string `yaml:"scope_id"`

	// Limit is the spend ceiling for one period as a decimal string.
	// Required.
	Limit string `yaml:"limit"`

	// Currency is the ISO currency code. Default: "USD"
	Currency string `yaml:"currency"`

	// Period is "hourly", "daily", "monthly", or "custom".
	// Default: "monthly"
	Period string `yaml:"period"`

	// CustomPeriod is the period length when Period is "custom".
	CustomPeriod time.Duration `yaml:"custom_period"`

	// Enforcement is "hard", "soft", or "advisory". Default: "hard"
	Enforcement string `yaml:"enforcement"`

	// AlertThreshold is the utilization fraction at which the threshold
	// event fires, strictly between 0 and 1. Default: 0.8
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json", "text", or "console". Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line on every record.
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks key material and tokens in log attributes.
	// Default: true
	RedactSecrets *bool `yaml:"redact_secrets"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled controls whether the endpoint is served. Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the endpoint path. Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled toggles tracing. Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure"`

	// Sampler is "always", "never", or "ratio". Default: "always"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the sampled fraction when Sampler is "ratio".
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName identifies this process in trace backends.
	// Default: "polaris"
	ServiceName string `yaml:"service_name"`
}

// SecurityConfig contains master-secret sourcing and TLS settings.
type SecurityConfig struct {
	// MasterKeyEnv names the environment variable holding the envelope
	// master secret. Default: "POLARIS_MASTER_KEY"
	MasterKeyEnv string `yaml:"master_key_env"`

	// MasterKeyFile is a file holding the master secret, used when the
	// environment variable is unset.
	MasterKeyFile string `yaml:"master_key_file"`

	// TLS configures TLS termination on the management server.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the management server.
type TLSConfig struct {
	// Enabled controls whether the server terminates TLS.
	Enabled bool `yaml:"enabled"`

	// CertFile is the PEM certificate path. Required when enabled.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM private key path. Required when enabled.
	KeyFile string `yaml:"key_file"`
}
