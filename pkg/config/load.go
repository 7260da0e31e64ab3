package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults, and
// validates. Unknown fields anywhere in the document are rejected.
// Environment variables are not consulted; use LoadWithEnvOverrides for
// that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults, and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads configuration from a YAML file and applies
// POLARIS_SECTION_FIELD environment overrides (e.g.
// POLARIS_SERVER_LISTEN_ADDRESS). Environment variables take precedence
// over file values.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Re-validate the final configuration
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies POLARIS_* environment variables to cfg.
// Malformed values are ignored; the file value stands.
func applyEnvOverrides(cfg *Config) {
	setString("POLARIS_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("POLARIS_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("POLARIS_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("POLARIS_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	setDuration("POLARIS_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	setString("POLARIS_SERVER_AUTH_TOKEN_ENV", &cfg.Server.AuthTokenEnv)
	setBool("POLARIS_SERVER_RATE_LIMIT_ENABLED", &cfg.Server.RateLimit.Enabled)
	setInt("POLARIS_SERVER_RATE_LIMIT_REQUESTS_PER_MINUTE", &cfg.Server.RateLimit.RequestsPerMinute)

	setString("POLARIS_STORE_BACKEND", &cfg.Store.Backend)
	setString("POLARIS_STORE_REDIS_ADDR", &cfg.Store.Redis.Addr)
	setString("POLARIS_STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	setInt("POLARIS_STORE_REDIS_DB", &cfg.Store.Redis.DB)
	setString("POLARIS_STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	setDuration("POLARIS_STORE_AUDIT_RETENTION", &cfg.Store.AuditRetention)

	setString("POLARIS_ROUTING_DEFAULT_OBJECTIVE", &cfg.Routing.DefaultObjective)
	setInt("POLARIS_ROUTING_MAX_ATTEMPTS", &cfg.Routing.MaxAttempts)
	setString("POLARIS_ROUTING_RECOVERY_SCHEDULE", &cfg.Routing.RecoverySchedule)

	setString("POLARIS_QUOTA_UNIT", &cfg.Quota.Unit)
	setString("POLARIS_QUOTA_WINDOW", &cfg.Quota.Window)
	setDuration("POLARIS_QUOTA_RECOVERING_WINDOW", &cfg.Quota.RecoveringWindow)

	setString("POLARIS_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("POLARIS_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	setString("POLARIS_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	setBool("POLARIS_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	setString("POLARIS_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	setFloat("POLARIS_TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	setString("POLARIS_SECURITY_MASTER_KEY_ENV", &cfg.Security.MasterKeyEnv)
	setString("POLARIS_SECURITY_MASTER_KEY_FILE", &cfg.Security.MasterKeyFile)
	setBool("POLARIS_SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	setString("POLARIS_SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	setString("POLARIS_SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)

	if v := os.Getenv("POLARIS_TELEMETRY_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
}

func setString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
