package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/security/envelope"
)

// ---- master secret resolution ----

func testKeyHex(t *testing.T) (string, []byte) {
	t.Helper()
	raw, err := envelope.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return hex.EncodeToString(raw), raw
}

func TestNewEnvelopeFromHexKey(t *testing.T) {
	keyHex, _ := testKeyHex(t)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	t.Setenv(cfg.Security.MasterKeyEnv, keyHex)

	env, err := newEnvelope(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	roundTrip(t, env)
}

func TestNewEnvelopeFromBase64Key(t *testing.T) {
	_, raw := testKeyHex(t)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	t.Setenv(cfg.Security.MasterKeyEnv, base64.StdEncoding.EncodeToString(raw))

	env, err := newEnvelope(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	roundTrip(t, env)
}

func TestNewEnvelopeFromPassphrase(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	t.Setenv(cfg.Security.MasterKeyEnv, "correct horse battery staple")

	env, err := newEnvelope(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	roundTrip(t, env)

	// Same passphrase derives the same key across restarts.
	again, err := newEnvelope(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newEnvelope again: %v", err)
	}
	sealed, err := env.Seal([]byte("sealed-on-first-boot"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := again.Open(sealed)
	if err != nil {
		t.Fatalf("Open after rederive: %v", err)
	}
	if string(opened) != "sealed-on-first-boot" {
		t.Errorf("opened %q", opened)
	}
}

func TestMasterSecretFileFallback(t *testing.T) {
	keyHex, _ := testKeyHex(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	if err := os.WriteFile(path, []byte(keyHex+"\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Security.MasterKeyFile = path
	t.Setenv(cfg.Security.MasterKeyEnv, "")

	secret, err := masterSecret(context.Background(), cfg)
	if err != nil {
		t.Fatalf("masterSecret: %v", err)
	}
	if secret != keyHex {
		t.Errorf("secret = %q, want file contents", secret)
	}
}

func TestMasterSecretMissing(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	t.Setenv(cfg.Security.MasterKeyEnv, "")

	if _, err := masterSecret(context.Background(), cfg); err == nil {
		t.Fatal("expected error with no secret source")
	}
}

func roundTrip(t *testing.T, env *envelope.Envelope) {
	t.Helper()
	sealed, err := env.Seal([]byte("sk-test-material"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := env.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "sk-test-material" {
		t.Errorf("opened %q", opened)
	}
}

// ---- config conversion ----

func TestConfigRules(t *testing.T) {
	rules, err := configRules(map[string]any{
		"blocked_providers": []any{"legacy"},
		"min_reliability":   0.9,
	})
	if err != nil {
		t.Fatalf("configRules: %v", err)
	}
	if len(rules.BlockedProviders) != 1 || rules.BlockedProviders[0] != "legacy" {
		t.Errorf("BlockedProviders = %v", rules.BlockedProviders)
	}
	if rules.MinReliability == nil || *rules.MinReliability != 0.9 {
		t.Errorf("MinReliability = %v", rules.MinReliability)
	}
}

func TestConfigRulesRejectsUnknownField(t *testing.T) {
	if _, err := configRules(map[string]any{"blocked_provider": []any{"typo"}}); err == nil {
		t.Fatal("expected error for unknown rule field")
	}
}

func TestConfigPolicyDefaults(t *testing.T) {
	p, err := configPolicy(config.PolicyConfig{
		Name: "basic",
		Type: "routing",
	})
	if err != nil {
		t.Fatalf("configPolicy: %v", err)
	}
	if string(p.Scope) != "global" {
		t.Errorf("Scope = %q, want global", p.Scope)
	}
	if !p.Enabled {
		t.Error("Enabled = false, want default true")
	}
}

func TestConfigBudget(t *testing.T) {
	b, err := configBudget(config.BudgetConfig{
		Scope:       "per_provider",
		ScopeID:     "openai",
		Limit:       "250.00",
		Period:      "monthly",
		Enforcement: "hard",
	})
	if err != nil {
		t.Fatalf("configBudget: %v", err)
	}
	if b.Limit.StringFixed(2) != "250.00" {
		t.Errorf("Limit = %s", b.Limit)
	}
	if b.ScopeID != "openai" {
		t.Errorf("ScopeID = %q", b.ScopeID)
	}
}

func TestConfigBudgetBadLimit(t *testing.T) {
	if _, err := configBudget(config.BudgetConfig{Scope: "global", Limit: "lots"}); err == nil {
		t.Fatal("expected error for non-decimal limit")
	}
}

// ---- full wiring ----

func bootstrapConfig(t *testing.T) *config.Config {
	t.Helper()
	keyHex, _ := testKeyHex(t)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	t.Setenv(cfg.Security.MasterKeyEnv, keyHex)

	cfg.Providers = map[string]config.ProviderConfig{
		"openai": {CostPerRequest: "0.002"},
	}
	cfg.Keys = []config.KeyConfig{
		{ID: "boot-1", Provider: "openai", Material: "sk-bootstrap-material-1"},
		{Provider: "openai", Material: "sk-bootstrap-material-2"},
	}
	cfg.Policies = []config.PolicyConfig{
		{Name: "no-legacy", Type: "routing", Rules: map[string]any{"blocked_providers": []any{"legacy"}}},
	}
	cfg.Cost.Budgets = []config.BudgetConfig{
		{Scope: "global", Limit: "100.00", Period: "monthly", Enforcement: "hard"},
	}
	return cfg
}

func TestBuildApplication(t *testing.T) {
	cfg := bootstrapConfig(t)
	ctx := context.Background()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		t.Fatalf("buildApplication: %v", err)
	}
	defer app.Close()

	if got := app.registry.List(); len(got) != 1 || got[0] != "openai" {
		t.Errorf("registered adapters = %v", got)
	}

	key, err := app.keys.Get(ctx, "boot-1")
	if err != nil {
		t.Fatalf("bootstrap key missing: %v", err)
	}
	if key.ProviderID != "openai" {
		t.Errorf("ProviderID = %q", key.ProviderID)
	}
	material, err := app.keys.Material(ctx, "boot-1")
	if err != nil {
		t.Fatalf("Material: %v", err)
	}
	if material != "sk-bootstrap-material-1" {
		t.Errorf("material = %q", material)
	}

	all, err := app.keys.List(ctx, "openai")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("keys = %d, want 2", len(all))
	}

	if got := app.policies.List(ctx); len(got) != 1 || got[0].Name != "no-legacy" {
		t.Errorf("policies = %v", got)
	}
	if got := app.costs.ListBudgets(ctx); len(got) != 1 {
		t.Errorf("budgets = %d, want 1", len(got))
	}
	if app.orch == nil || app.recovery == nil {
		t.Error("orchestrator wiring incomplete")
	}
}

func TestBuildApplicationBootstrapIdempotent(t *testing.T) {
	cfg := bootstrapConfig(t)
	// Only the id-bearing key: generated-id keys would duplicate on a
	// shared store, which memory backings never share anyway.
	cfg.Keys = cfg.Keys[:1]
	ctx := context.Background()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		t.Fatalf("buildApplication: %v", err)
	}
	defer app.Close()

	if _, err := app.registerBootstrapKey(ctx, cfg.Keys[0]); err != nil {
		t.Fatalf("second registration: %v", err)
	}
	all, err := app.keys.List(ctx, "openai")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("keys = %d, want 1 after re-registration", len(all))
	}
}

func TestBuildApplicationMissingMaterialEnv(t *testing.T) {
	cfg := bootstrapConfig(t)
	cfg.Keys = []config.KeyConfig{{Provider: "openai", MaterialEnv: "POLARIS_TEST_UNSET_MATERIAL"}}
	t.Setenv("POLARIS_TEST_UNSET_MATERIAL", "")

	if _, err := buildApplication(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unset material env var")
	}
}
