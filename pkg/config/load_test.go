package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
keys:
  - provider: openai
    material_env: OPENAI_KEY_1
    metadata:
      cost_per_request: "0.01"

providers:
  openai: {}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polaris.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// ---- loading and defaults ----

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("listen_address = %q, want %q", cfg.Server.ListenAddress, DefaultListenAddress)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("read_timeout = %v, want %v", cfg.Server.ReadTimeout, DefaultReadTimeout)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("store backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Routing.DefaultObjective != "fairness" {
		t.Errorf("default objective = %q, want fairness", cfg.Routing.DefaultObjective)
	}
	if cfg.Routing.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.Routing.MaxAttempts)
	}
	if cfg.Quota.Window != "daily" {
		t.Errorf("quota window = %q, want daily", cfg.Quota.Window)
	}
	if cfg.Telemetry.Logging.Level != "info" || cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("logging = %s/%s, want info/json",
			cfg.Telemetry.Logging.Level, cfg.Telemetry.Logging.Format)
	}
	if cfg.Telemetry.Logging.RedactSecrets == nil || !*cfg.Telemetry.Logging.RedactSecrets {
		t.Error("redact_secrets should default to true")
	}
	if cfg.Security.MasterKeyEnv != DefaultMasterKeyEnv {
		t.Errorf("master_key_env = %q, want %q", cfg.Security.MasterKeyEnv, DefaultMasterKeyEnv)
	}

	if len(cfg.Keys) != 1 || cfg.Keys[0].Provider != "openai" {
		t.Fatalf("keys = %+v, want one openai key", cfg.Keys)
	}
	p, ok := cfg.Providers["openai"]
	if !ok {
		t.Fatal("openai provider missing")
	}
	if p.Enabled == nil || !*p.Enabled {
		t.Error("provider enabled should default to true")
	}
	if p.Timeout != DefaultProviderTimeout {
		t.Errorf("provider timeout = %v, want %v", p.Timeout, DefaultProviderTimeout)
	}
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: 5s

store:
  backend: sqlite
  sqlite:
    path: /tmp/state.db

routing:
  default_objective: cost
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("listen_address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("read_timeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLite.Path != "/tmp/state.db" {
		t.Errorf("store = %q/%q", cfg.Store.Backend, cfg.Store.SQLite.Path)
	}
	if cfg.Routing.DefaultObjective != "cost" {
		t.Errorf("objective = %q, want cost", cfg.Routing.DefaultObjective)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() accepted a missing file")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown top-level", minimalYAML + "\nproxies:\n  x: 1\n"},
		{"unknown nested", minimalYAML + "\nserver:\n  listen_adress: \"1.2.3.4:80\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Error("Parse() accepted unknown field")
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("empty document did not pick up defaults")
	}
}

// ---- environment overrides ----

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("POLARIS_SERVER_LISTEN_ADDRESS", "127.0.0.1:7777")
	t.Setenv("POLARIS_STORE_BACKEND", "redis")
	t.Setenv("POLARIS_STORE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("POLARIS_TELEMETRY_LOGGING_LEVEL", "debug")
	t.Setenv("POLARIS_SERVER_READ_TIMEOUT", "45s")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides() error = %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7777" {
		t.Errorf("listen_address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.Redis.Addr != "redis.internal:6379" {
		t.Errorf("store = %q/%q", cfg.Store.Backend, cfg.Store.Redis.Addr)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("read_timeout = %v, want 45s", cfg.Server.ReadTimeout)
	}
}

func TestEnvOverrideMalformedValueIgnored(t *testing.T) {
	t.Setenv("POLARIS_SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides() error = %v", err)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("read_timeout = %v, want file value %v", cfg.Server.ReadTimeout, DefaultReadTimeout)
	}
}

func TestEnvOverrideRevalidates(t *testing.T) {
	t.Setenv("POLARIS_STORE_BACKEND", "cassandra")

	_, err := LoadWithEnvOverrides(writeConfig(t, minimalYAML))
	if err == nil {
		t.Fatal("invalid override accepted")
	}
	if !strings.Contains(err.Error(), "store.backend") {
		t.Errorf("error = %v, want store.backend named", err)
	}
}
