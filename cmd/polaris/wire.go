package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/internal/providertest"
	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/orchestrator"
	"northstar-hq/polaris/pkg/policy"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/quota"
	"northstar-hq/polaris/pkg/routing"
	"northstar-hq/polaris/pkg/security/envelope"
	"northstar-hq/polaris/pkg/security/secrets"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/state/storage"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
	"northstar-hq/polaris/pkg/telemetry/tracing"
)

// passphraseSalt is the fixed argon2id salt used when the master secret is
// a passphrase rather than a raw key. It must stay stable across restarts
// or previously sealed key material becomes unopenable.
var passphraseSalt = []byte("polaris/envelope/master-key/v1")

// application holds every wired component for one process. Admin
// subcommands build a partial application (store and envelope only); run
// builds all of it.
type application struct {
	cfg    *config.Config
	logger *logging.Logger

	store    state.StateStore
	envelope *envelope.Envelope
	emitter  events.Emitter
	metrics  *metrics.Collector
	tracer   *tracing.Tracer

	registry *providers.Registry
	keys     *keys.Manager
	policies *policy.Engine
	quota    *quota.Engine
	costs    *cost.Controller
	router   *routing.Engine
	orch     *orchestrator.Orchestrator
	recovery *orchestrator.Recovery
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := cfg.Telemetry.Logging
	redact := lc.RedactSecrets == nil || *lc.RedactSecrets
	return logging.New(logging.Config{
		Level:         lc.Level,
		Format:        lc.Format,
		AddSource:     lc.AddSource,
		RedactSecrets: redact,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (state.StateStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return storage.NewMemoryStoreWithConfig(storage.MemoryConfig{
			DecisionCap:   cfg.Store.Memory.DecisionCap,
			TransitionCap: cfg.Store.Memory.TransitionCap,
		}), nil
	case "redis":
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	case "sqlite":
		return storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:        cfg.Store.SQLite.Path,
			BusyTimeout: cfg.Store.SQLite.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// masterSecret resolves the envelope master secret: the configured
// environment variable first, then the configured secret file through the
// provider chain.
func masterSecret(ctx context.Context, cfg *config.Config) (string, error) {
	if v := os.Getenv(cfg.Security.MasterKeyEnv); v != "" {
		return strings.TrimSpace(v), nil
	}
	if cfg.Security.MasterKeyFile == "" {
		return "", fmt.Errorf("master secret not found: set %s or security.master_key_file", cfg.Security.MasterKeyEnv)
	}

	dir, name := filepath.Split(cfg.Security.MasterKeyFile)
	chain := secrets.NewChain(
		secrets.NewEnvProvider(""),
		secrets.NewFileProvider(dir),
	)
	value, err := chain.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("reading master secret: %w", err)
	}
	return value, nil
}

// newEnvelope builds the sealing envelope from the master secret. A secret
// that decodes (hex or base64) to exactly 32 bytes is used as the raw key;
// anything else is treated as a passphrase and run through argon2id.
func newEnvelope(ctx context.Context, cfg *config.Config) (*envelope.Envelope, error) {
	secret, err := masterSecret(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if raw, err := hex.DecodeString(secret); err == nil && len(raw) == envelope.KeySize {
		return envelope.New(raw)
	}
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == envelope.KeySize {
		return envelope.New(raw)
	}
	return envelope.NewFromPassphrase(secret, passphraseSalt)
}

// configRules converts the open rules map from the configuration file into
// the engine's closed rule set, rejecting unknown rule fields.
func configRules(m map[string]any) (policy.Rules, error) {
	var r policy.Rules
	if len(m) == 0 {
		return r, nil
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return r, err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return r, err
	}
	return r, nil
}

func configPolicy(pc config.PolicyConfig) (*policy.Policy, error) {
	rules, err := configRules(pc.Rules)
	if err != nil {
		return nil, fmt.Errorf("policy %q rules: %w", pc.Name, err)
	}
	scope := pc.Scope
	if scope == "" {
		scope = string(policy.ScopeGlobal)
	}
	return &policy.Policy{
		ID:       pc.ID,
		Name:     pc.Name,
		Type:     policy.Type(pc.Type),
		Scope:    policy.Scope(scope),
		ScopeID:  pc.ScopeID,
		Priority: pc.Priority,
		Rules:    rules,
		Enabled:  pc.Enabled == nil || *pc.Enabled,
	}, nil
}

func configBudget(bc config.BudgetConfig) (*cost.Budget, error) {
	limit, err := decimal.NewFromString(bc.Limit)
	if err != nil {
		return nil, fmt.Errorf("budget limit %q: %w", bc.Limit, err)
	}
	return &cost.Budget{
		ID:             bc.ID,
		Scope:          cost.Scope(bc.Scope),
		ScopeID:        bc.ScopeID,
		Limit:          limit,
		Currency:       bc.Currency,
		Period:         state.TimeWindow(bc.Period),
		CustomPeriod:   bc.CustomPeriod,
		Enforcement:    cost.Enforcement(bc.Enforcement),
		AlertThreshold: bc.AlertThreshold,
	}, nil
}

// registerBootstrapKey registers one configured key. A configured id is
// honored by writing the sealed record directly; without one the manager
// assigns a fresh id. Keys already present in a persistent store are left
// alone so restarts do not duplicate inventory.
func (a *application) registerBootstrapKey(ctx context.Context, kc config.KeyConfig) (string, error) {
	material := kc.Material
	if kc.MaterialEnv != "" {
		material = os.Getenv(kc.MaterialEnv)
		if material == "" {
			return "", fmt.Errorf("key for provider %q: %s is unset", kc.Provider, kc.MaterialEnv)
		}
	}

	if kc.ID == "" {
		key, err := a.keys.Register(ctx, material, kc.Provider, kc.Metadata)
		if err != nil {
			return "", err
		}
		return key.ID, nil
	}

	if _, err := a.keys.Get(ctx, kc.ID); err == nil {
		return kc.ID, nil
	}
	if err := keys.ValidateMaterial(material); err != nil {
		return "", fmt.Errorf("key %q: %w", kc.ID, err)
	}
	sealed, err := a.envelope.Seal([]byte(material))
	if err != nil {
		return "", fmt.Errorf("key %q: sealing material: %w", kc.ID, err)
	}
	now := clock.Real{}.Now()
	key := &state.Key{
		ID:                kc.ID,
		ProviderID:        kc.Provider,
		EncryptedMaterial: sealed,
		State:             state.KeyStateAvailable,
		StateChangedAt:    now,
		CreatedAt:         now,
		Metadata:          kc.Metadata,
	}
	if err := a.store.SaveKey(ctx, key); err != nil {
		return "", fmt.Errorf("key %q: %w", kc.ID, err)
	}
	return kc.ID, nil
}

// buildApplication wires every engine from the configuration. It does not
// start the recovery task or the server; run does that.
func buildApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}

	app := &application{cfg: cfg, logger: logger}

	app.envelope, err = newEnvelope(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	app.emitter = events.NewSlogEmitter(logger.Slog())

	mc := cfg.Telemetry.Metrics
	if mc.Enabled == nil || *mc.Enabled {
		app.metrics = metrics.NewCollector(metrics.Config{Enabled: true}, nil)
	}

	tc := cfg.Telemetry.Tracing
	app.tracer, err = tracing.New(tracing.Config{
		Enabled:        tc.Enabled,
		ServiceName:    tc.ServiceName,
		ServiceVersion: Version,
		Exporter:       "otlp",
		Endpoint:       tc.Endpoint,
		Insecure:       tc.Insecure,
		Sampler:        tc.Sampler,
		SampleRatio:    tc.SampleRatio,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	app.keys, err = keys.NewManager(keys.Options{
		Store:    app.store,
		Envelope: app.envelope,
		Emitter:  app.emitter,
		Logger:   logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.policies = policy.NewEngine(policy.Options{
		Emitter: app.emitter,
		Logger:  logger,
	})

	app.quota, err = quota.NewEngine(quota.Options{
		Store:            app.store,
		Emitter:          app.emitter,
		Logger:           logger,
		Metrics:          app.metrics,
		Listener:         orchestrator.NewKeyLifecycle(app.keys, logger),
		Unit:             state.CapacityUnit(cfg.Quota.Unit),
		Window:           state.TimeWindow(cfg.Quota.Window),
		CustomWindow:     cfg.Quota.CustomWindow,
		RecoveringWindow: cfg.Quota.RecoveringWindow,
		PredictionWindow: cfg.Quota.PredictionWindow,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.registry = providers.NewRegistry(app.emitter)
	if err := app.registerAdapters(); err != nil {
		app.Close()
		return nil, err
	}

	app.costs = cost.NewController(cost.Options{
		Emitter:           app.emitter,
		Logger:            logger,
		Metrics:           app.metrics,
		Registry:          app.registry,
		ReconciliationCap: cfg.Cost.ReconciliationCap,
	})

	app.router, err = routing.NewEngine(routing.Options{
		Keys:            app.keys,
		Policies:        app.policies,
		Quota:           app.quota,
		Costs:           app.costs,
		Logger:          logger,
		Metrics:         app.metrics,
		MaxAlternatives: cfg.Routing.MaxAlternatives,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.orch, err = orchestrator.New(orchestrator.Options{
		Router:      app.router,
		Keys:        app.keys,
		Registry:    app.registry,
		Store:       app.store,
		Quota:       app.quota,
		Costs:       app.costs,
		Emitter:     app.emitter,
		Logger:      logger,
		Metrics:     app.metrics,
		Tracer:      app.tracer,
		MaxAttempts: cfg.Routing.MaxAttempts,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	rcfg := orchestrator.RecoveryConfig{
		Schedule:       cfg.Routing.RecoverySchedule,
		AuditRetention: cfg.Store.AuditRetention,
	}
	if rec, ok := app.store.(orchestrator.OrphanReconciler); ok {
		rcfg.Reconciler = rec
	}
	if pr, ok := app.store.(orchestrator.AuditPruner); ok {
		rcfg.Pruner = pr
	}
	app.recovery = orchestrator.NewRecovery(app.keys, rcfg, nil, logger, app.metrics)

	if err := app.bootstrap(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// registerAdapters registers one static in-process adapter per enabled
// provider. A configured cost_per_request becomes the adapter's estimate.
func (a *application) registerAdapters() error {
	for id, pc := range a.cfg.Providers {
		if pc.Enabled != nil && !*pc.Enabled {
			continue
		}
		adapter := providertest.New(id)
		if pc.CostPerRequest != "" {
			perRequest, err := decimal.NewFromString(pc.CostPerRequest)
			if err != nil {
				return fmt.Errorf("provider %q cost_per_request: %w", id, err)
			}
			adapter.SetEstimate(state.NewCostEstimate(perRequest, 1, state.CostMethodAdapter), nil)
		}
		if err := a.registry.Register(adapter); err != nil {
			return err
		}
	}
	return nil
}

// bootstrap loads the configured key, policy, and budget inventory.
func (a *application) bootstrap(ctx context.Context) error {
	for _, kc := range a.cfg.Keys {
		id, err := a.registerBootstrapKey(ctx, kc)
		if err != nil {
			return fmt.Errorf("registering bootstrap key: %w", err)
		}
		a.logger.Debug("bootstrap key loaded", "key_id", id, "provider_id", kc.Provider)
	}

	for _, pc := range a.cfg.Policies {
		p, err := configPolicy(pc)
		if err != nil {
			return err
		}
		if _, err := a.policies.Create(ctx, p); err != nil {
			return fmt.Errorf("loading policy %q: %w", pc.Name, err)
		}
	}

	for _, bc := range a.cfg.Cost.Budgets {
		b, err := configBudget(bc)
		if err != nil {
			return err
		}
		if _, err := a.costs.CreateBudget(ctx, b); err != nil {
			return fmt.Errorf("creating budget: %w", err)
		}
	}
	return nil
}

// Close releases everything Build opened, tolerating partial wiring.
func (a *application) Close() {
	if a.recovery != nil {
		a.recovery.Stop()
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
