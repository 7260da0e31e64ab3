package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

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
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/state/storage"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/metrics"
)

type fixture struct {
	server   *Server
	handler  http.Handler
	adapter  *providertest.Adapter
	keys     *keys.Manager
	store    *storage.MemoryStore
	clock    *clock.Fake
	envelope *envelope.Envelope
	costs    *cost.Controller
	config   *config.Config
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	master, err := envelope.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	env, err := envelope.New(master)
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}

	store := storage.NewMemoryStore()
	fake := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	emitter := events.NewMemoryEmitter(0)

	km, err := keys.NewManager(keys.Options{
		Store:    store,
		Envelope: env,
		Clock:    fake,
		IDs:      clock.NewSequence("key"),
		Emitter:  emitter,
	})
	if err != nil {
		t.Fatalf("keys.NewManager: %v", err)
	}

	pe := policy.NewEngine(policy.Options{
		Clock:   fake,
		IDs:     clock.NewSequence("pol"),
		Emitter: emitter,
	})

	qe, err := quota.NewEngine(quota.Options{
		Store:    store,
		Clock:    fake,
		IDs:      clock.NewSequence("qs"),
		Emitter:  emitter,
		Listener: orchestrator.NewKeyLifecycle(km, nil),
	})
	if err != nil {
		t.Fatalf("quota.NewEngine: %v", err)
	}

	registry := providers.NewRegistry(emitter)
	adapter := providertest.New("openai")
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("registry.Register: %v", err)
	}

	cc := cost.NewController(cost.Options{
		Clock:    fake,
		IDs:      clock.NewSequence("budget"),
		Emitter:  emitter,
		Registry: registry,
	})

	router, err := routing.NewEngine(routing.Options{
		Keys:     km,
		Policies: pe,
		Quota:    qe,
		Costs:    cc,
		Clock:    fake,
		IDs:      clock.NewSequence("dec"),
	})
	if err != nil {
		t.Fatalf("routing.NewEngine: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Router:   router,
		Keys:     km,
		Registry: registry,
		Store:    store,
		Quota:    qe,
		Costs:    cc,
		Clock:    fake,
		IDs:      clock.NewSequence("req"),
		Emitter:  emitter,
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	opts := Options{
		Config:       cfg,
		Orchestrator: orch,
		Keys:         km,
		Store:        store,
		Policies:     pe,
		Budgets:      cc,
		Quota:        qe,
		Clock:        fake,
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return &fixture{
		server:   srv,
		handler:  srv.Handler(),
		adapter:  adapter,
		keys:     km,
		store:    store,
		clock:    fake,
		envelope: env,
		costs:    cc,
		config:   cfg,
	}
}

// seedKey writes a key with envelope-sealed material straight to the
// store so tests control the id.
func (f *fixture) seedKey(t *testing.T, id, providerID string, metadata map[string]any) {
	t.Helper()
	sealed, err := f.envelope.Seal([]byte("material-" + id))
	if err != nil {
		t.Fatalf("Seal %s: %v", id, err)
	}
	now := f.clock.Now()
	k := &state.Key{
		ID:                id,
		ProviderID:        providerID,
		EncryptedMaterial: sealed,
		State:             state.KeyStateAvailable,
		StateChangedAt:    now,
		CreatedAt:         now,
		Metadata:          metadata,
	}
	if err := f.store.SaveKey(context.Background(), k); err != nil {
		t.Fatalf("SaveKey %s: %v", id, err)
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func routeBody(providerID string) map[string]any {
	return map[string]any{
		"intent": map[string]any{
			"model":       "gpt-4o",
			"messages":    []map[string]any{{"role": "user", "content": "hello"}},
			"provider_id": providerID,
		},
	}
}

// ---- construction ----

func TestNewRequiresWiring(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New accepted empty options")
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Error("New accepted options without orchestrator")
	}
}

// ---- routing ----

func TestRouteEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "openai", nil)

	rec := f.do(t, http.MethodPost, "/v1/route", routeBody("openai"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp providers.Response
	decodeBody(t, rec, &resp)
	if resp.KeyUsed != "k1" {
		t.Errorf("key_used = %q, want k1", resp.KeyUsed)
	}
	if resp.Content == "" {
		t.Error("empty response content")
	}
	if f.adapter.CallCount() != 1 {
		t.Errorf("adapter calls = %d, want 1", f.adapter.CallCount())
	}
}

func TestRouteEndpointRejectsBadBody(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name string
		body any
	}{
		{"missing intent", map[string]any{"objective": "cost"}},
		{"unknown field", map[string]any{"intent": map[string]any{}, "bogus": 1}},
		{"intent without model", map[string]any{"intent": map[string]any{"provider_id": "openai"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/route", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRouteEndpointNoEligibleKeys(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/route", routeBody("openai"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error.Type != "no_eligible_keys" {
		t.Errorf("error type = %q", body.Error.Type)
	}
}

func TestRouteEndpointUnknownProvider(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "mystery", nil)

	rec := f.do(t, http.MethodPost, "/v1/route", routeBody("mystery"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRouteEndpointBudgetExceeded(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "openai", nil)
	f.adapter.SetEstimate(state.NewCostEstimate(
		decimal.RequireFromString("2.00"), 0.9, state.CostMethodAdapter), nil)

	rec := f.do(t, http.MethodPost, "/v1/budgets", map[string]any{
		"scope":           "global",
		"limit":           "1.00",
		"period":          "monthly",
		"enforcement":     "hard",
		"alert_threshold": 0.9,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating budget: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/route", routeBody("openai"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body = %s", rec.Code, rec.Body.String())
	}

	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error.Type != "budget_exceeded" {
		t.Errorf("error type = %q", body.Error.Type)
	}
	if body.Error.Detail == nil {
		t.Error("budget rejection carries no detail")
	}
}

// ---- keys ----

func TestKeyLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	// Register.
	rec := f.do(t, http.MethodPost, "/v1/keys", map[string]any{
		"provider_id": "openai",
		"material":    "sk-test-0123456789abcdef",
		"metadata":    map[string]any{"region": "us-east"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created keyView
	decodeBody(t, rec, &created)
	if created.ID == "" || created.State != "available" {
		t.Fatalf("created = %+v", created)
	}
	if strings.Contains(rec.Body.String(), "material") {
		t.Error("key material leaked into the response")
	}

	// List.
	rec = f.do(t, http.MethodGet, "/v1/keys?provider=openai", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var listed struct {
		Keys []keyView `json:"keys"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(listed.Keys))
	}

	// Get.
	rec = f.do(t, http.MethodGet, "/v1/keys/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	// Rotate.
	rec = f.do(t, http.MethodPost, "/v1/keys/"+created.ID+"/rotate", map[string]any{
		"material": "sk-test-fedcba9876543210",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Manual state transition.
	rec = f.do(t, http.MethodPut, "/v1/keys/"+created.ID+"/state", map[string]any{
		"state":            "throttled",
		"cooldown_seconds": 60,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("state: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var transition state.StateTransition
	decodeBody(t, rec, &transition)
	if transition.ToState != "throttled" {
		t.Errorf("to_state = %q", transition.ToState)
	}

	// Revoke.
	rec = f.do(t, http.MethodDelete, "/v1/keys/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/keys/"+created.ID, nil)
	var revoked keyView
	decodeBody(t, rec, &revoked)
	if revoked.State != "disabled" {
		t.Errorf("state after revoke = %q, want disabled", revoked.State)
	}
}

func TestKeyEndpointsNotFound(t *testing.T) {
	f := newFixture(t, nil)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/v1/keys/absent", nil},
		{http.MethodDelete, "/v1/keys/absent", nil},
		{http.MethodGet, "/v1/keys/absent/quota", nil},
	} {
		rec := f.do(t, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestKeyStateInvalidTransition(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "openai", nil)

	// Available -> recovering is not a legal edge.
	rec := f.do(t, http.MethodPut, "/v1/keys/k1/state", map[string]any{"state": "recovering"})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}
}

func TestKeyQuotaEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "openai", nil)

	rec := f.do(t, http.MethodGet, "/v1/keys/k1/quota", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var qs state.QuotaState
	decodeBody(t, rec, &qs)
	if qs.KeyID != "k1" {
		t.Errorf("key_id = %q, want k1", qs.KeyID)
	}
}

// ---- policies ----

func TestPolicyEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/policies", map[string]any{
		"name":    "block-openai",
		"type":    "routing",
		"scope":   "global",
		"enabled": true,
		"rules":   map[string]any{"blocked_providers": []string{"openai"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created policy.Policy
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("created policy has no id")
	}

	rec = f.do(t, http.MethodGet, "/v1/policies", nil)
	var listed struct {
		Policies []*policy.Policy `json:"policies"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Policies) != 1 {
		t.Fatalf("policies = %d, want 1", len(listed.Policies))
	}

	created.Priority = 10
	rec = f.do(t, http.MethodPut, "/v1/policies/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated policy.Policy
	decodeBody(t, rec, &updated)
	if updated.Priority != 10 {
		t.Errorf("priority = %d, want 10", updated.Priority)
	}

	rec = f.do(t, http.MethodDelete, "/v1/policies/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/policies/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

// ---- budgets ----

func TestBudgetEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/budgets", map[string]any{
		"scope":           "per_provider",
		"scope_id":        "openai",
		"limit":           "250.00",
		"period":          "monthly",
		"enforcement":     "soft",
		"alert_threshold": 0.8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created cost.Budget
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Scope != cost.ScopePerProvider {
		t.Fatalf("created = %+v", created)
	}

	rec = f.do(t, http.MethodGet, "/v1/budgets/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/budgets", map[string]any{
		"scope":  "global",
		"limit":  "not-a-number",
		"period": "monthly",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/budgets/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/budgets/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

// ---- decisions ----

func TestDecisionQueryAndExport(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "openai", nil)

	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodPost, "/v1/route", routeBody("openai")); rec.Code != http.StatusOK {
			t.Fatalf("route %d: status = %d", i, rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/v1/decisions?provider=openai", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query: status = %d", rec.Code)
	}
	var listed struct {
		Decisions []*state.RoutingDecision `json:"decisions"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(listed.Decisions))
	}
	if listed.Decisions[0].SelectedKeyID != "k1" {
		t.Errorf("selected key = %q", listed.Decisions[0].SelectedKeyID)
	}

	rec = f.do(t, http.MethodGet, "/v1/decisions/export?format=csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("csv lines = %d, want header + 2 rows", len(lines))
	}

	rec = f.do(t, http.MethodGet, "/v1/decisions/export?format=xml", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format: status = %d, want 400", rec.Code)
	}
}

// ---- configuration ----

func TestConfigHistoryEndpoints(t *testing.T) {
	history := config.NewHistory(0)
	f := newFixture(t, func(o *Options) { o.History = history })

	first := &config.Config{}
	config.ApplyDefaults(first)
	history.Push(first, "initial", time.Now().UTC())

	rec := f.do(t, http.MethodGet, "/v1/config/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status = %d", rec.Code)
	}
	var listed struct {
		Snapshots []snapshotView `json:"snapshots"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Snapshots) != 1 || listed.Snapshots[0].Source != "initial" {
		t.Fatalf("snapshots = %+v", listed.Snapshots)
	}

	// A single snapshot cannot be rolled back.
	rec = f.do(t, http.MethodPost, "/v1/config/rollback", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("rollback: status = %d, want 409", rec.Code)
	}

	second := &config.Config{}
	config.ApplyDefaults(second)
	history.Push(second, "reload", time.Now().UTC())

	rec = f.do(t, http.MethodPost, "/v1/config/rollback", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("rollback: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

// ---- health ----

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.seedKey(t, "k1", "openai", nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/v1/route", routeBody("openai")); rec.Code != http.StatusOK {
		t.Fatalf("route: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/health/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("provider health: status = %d", rec.Code)
	}
	var body struct {
		Healthy   bool                             `json:"healthy"`
		Providers map[string]providers.HealthState `json:"providers"`
	}
	decodeBody(t, rec, &body)
	if !body.Healthy {
		t.Error("healthy = false after a successful route")
	}
	if _, ok := body.Providers["openai"]; !ok {
		t.Errorf("providers = %v, want openai present", body.Providers)
	}
}

// ---- authentication wiring ----

func TestAuthProtectsAPI(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AuthToken = "secret-token" })

	rec := f.do(t, http.MethodGet, "/v1/keys", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer secret-token")
	auth := httptest.NewRecorder()
	f.handler.ServeHTTP(auth, req)
	if auth.Code != http.StatusOK {
		t.Errorf("authenticated: status = %d, want 200", auth.Code)
	}

	// Health stays reachable without credentials.
	rec = f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)
	f := newFixture(t, func(o *Options) { o.Metrics = collector })

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID on response")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}
