package config

import "time"

// Default values applied by ApplyDefaults. Zero-valued fields in a loaded
// configuration take these; explicit values always win.
const (
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20

	DefaultAuthTokenEnv = "POLARIS_API_TOKEN"

	DefaultRequestsPerMinute = 300
	DefaultRateLimitBurst    = 50
	DefaultFailureThreshold  = 10
	DefaultBlockDuration     = 15 * time.Minute

	DefaultStoreBackend   = "memory"
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultSQLitePath     = "./polaris.db"
	DefaultBusyTimeout    = 5 * time.Second
	DefaultAuditRetention = 30 * 24 * time.Hour

	DefaultObjective        = "fairness"
	DefaultMaxAlternatives  = 3
	DefaultMaxAttempts      = 3
	DefaultRecoverySchedule = "@every 1m"

	DefaultQuotaUnit        = "requests"
	DefaultQuotaWindow      = "daily"
	DefaultRecoveringWindow = 5 * time.Minute
	DefaultPredictionWindow = 10 * time.Minute

	DefaultReconciliationCap = 1000
	DefaultBudgetCurrency    = "USD"
	DefaultBudgetPeriod      = "monthly"
	DefaultBudgetEnforcement = "hard"
	DefaultAlertThreshold    = 0.8

	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultMetricsPath = "/metrics"
	DefaultSampler     = "always"
	DefaultServiceName = "polaris"

	DefaultMasterKeyEnv = "POLARIS_MASTER_KEY"

	DefaultProviderTimeout = 30 * time.Second
)

// ApplyDefaults fills zero-valued fields with defaults. It is called by
// Load before validation; calling it again is harmless.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyRoutingDefaults(&cfg.Routing)
	applyQuotaDefaults(&cfg.Quota)
	applyCostDefaults(&cfg.Cost)
	applyTelemetryDefaults(&cfg.Telemetry)
	applySecurityDefaults(&cfg.Security)

	for name, p := range cfg.Providers {
		if p.Enabled == nil {
			enabled := true
			p.Enabled = &enabled
		}
		if p.Timeout <= 0 {
			p.Timeout = DefaultProviderTimeout
		}
		cfg.Providers[name] = p
	}

	for i := range cfg.Policies {
		p := &cfg.Policies[i]
		if p.Scope == "" {
			p.Scope = "global"
		}
		if p.Enabled == nil {
			enabled := true
			p.Enabled = &enabled
		}
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.AuthTokenEnv == "" {
		cfg.AuthTokenEnv = DefaultAuthTokenEnv
	}

	rl := &cfg.RateLimit
	if rl.RequestsPerMinute <= 0 {
		rl.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if rl.Burst <= 0 {
		rl.Burst = DefaultRateLimitBurst
	}
	if rl.FailureThreshold <= 0 {
		rl.FailureThreshold = DefaultFailureThreshold
	}
	if rl.BlockDuration <= 0 {
		rl.BlockDuration = DefaultBlockDuration
	}

	c := &cfg.CORS
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 3600
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStoreBackend
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.BusyTimeout <= 0 {
		cfg.SQLite.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = DefaultAuditRetention
	}
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg.DefaultObjective == "" {
		cfg.DefaultObjective = DefaultObjective
	}
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = DefaultMaxAlternatives
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RecoverySchedule == "" {
		cfg.RecoverySchedule = DefaultRecoverySchedule
	}
}

func applyQuotaDefaults(cfg *QuotaConfig) {
	if cfg.Unit == "" {
		cfg.Unit = DefaultQuotaUnit
	}
	if cfg.Window == "" {
		cfg.Window = DefaultQuotaWindow
	}
	if cfg.RecoveringWindow <= 0 {
		cfg.RecoveringWindow = DefaultRecoveringWindow
	}
	if cfg.PredictionWindow <= 0 {
		cfg.PredictionWindow = DefaultPredictionWindow
	}
}

func applyCostDefaults(cfg *CostConfig) {
	if cfg.ReconciliationCap <= 0 {
		cfg.ReconciliationCap = DefaultReconciliationCap
	}
	for i := range cfg.Budgets {
		b := &cfg.Budgets[i]
		if b.Currency == "" {
			b.Currency = DefaultBudgetCurrency
		}
		if b.Period == "" {
			b.Period = DefaultBudgetPeriod
		}
		if b.Enforcement == "" {
			b.Enforcement = DefaultBudgetEnforcement
		}
		if b.AlertThreshold == 0 {
			b.AlertThreshold = DefaultAlertThreshold
		}
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.RedactSecrets == nil {
		redact := true
		cfg.Logging.RedactSecrets = &redact
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultSampler
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.MasterKeyEnv == "" {
		cfg.MasterKeyEnv = DefaultMasterKeyEnv
	}
}
