package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/internal/providertest"
	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/policy"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/quota"
	"northstar-hq/polaris/pkg/routing"
	"northstar-hq/polaris/pkg/security/envelope"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/state/storage"
	"northstar-hq/polaris/pkg/telemetry/events"
)

type fixture struct {
	orch     *Orchestrator
	adapter  *providertest.Adapter
	registry *providers.Registry
	keys     *keys.Manager
	policies *policy.Engine
	quota    *quota.Engine
	costs    *cost.Controller
	store    *storage.MemoryStore
	clock    *clock.Fake
	emitter  *events.MemoryEmitter
	envelope *envelope.Envelope
}

func newFixture(t *testing.T) *fixture {
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
		Listener: NewKeyLifecycle(km, nil),
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

	orch, err := New(Options{
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
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return &fixture{
		orch:     orch,
		adapter:  adapter,
		registry: registry,
		keys:     km,
		policies: pe,
		quota:    qe,
		costs:    cc,
		store:    store,
		clock:    fake,
		emitter:  emitter,
		envelope: env,
	}
}

// seedKey writes a key with envelope-sealed material straight to the
// store so tests control the id.
func (f *fixture) seedKey(t *testing.T, id, providerID string, metadata map[string]any) *state.Key {
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
	return k
}

func (f *fixture) decisions(t *testing.T) []*state.RoutingDecision {
	t.Helper()
	res, err := f.store.QueryState(context.Background(), state.Query{EntityType: state.EntityDecision})
	if err != nil {
		t.Fatalf("QueryState decisions: %v", err)
	}
	return res.Decisions
}

func testIntent(providerID string) *providers.RequestIntent {
	return &providers.RequestIntent{
		Model:      "gpt-4o",
		Messages:   []providers.MessageTurn{{Role: "user", Content: "hello"}},
		ProviderID: providerID,
	}
}

func costHint(amount string) map[string]any {
	return map[string]any{"cost_per_request": amount}
}

// ---- end-to-end scenarios ----

func TestRouteCostPreferred(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", costHint("0.01"))
	f.seedKey(t, "k2", "openai", costHint("0.02"))
	f.seedKey(t, "k3", "openai", costHint("0.03"))

	resp, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	if resp.KeyUsed != "k1" {
		t.Errorf("key_used = %s, want k1", resp.KeyUsed)
	}
	if resp.RequestID == "" || resp.Metadata.CorrelationID == "" {
		t.Error("response ids not stamped")
	}

	decisions := f.decisions(t)
	if len(decisions) != 1 {
		t.Fatalf("decisions persisted = %d, want 1", len(decisions))
	}
	d := decisions[0]
	if d.SelectedKeyID != "k1" {
		t.Errorf("selected = %s, want k1", d.SelectedKeyID)
	}
	wantEligible := []string{"k1", "k2", "k3"}
	if len(d.EligibleKeys) != 3 {
		t.Fatalf("eligible = %v, want %v", d.EligibleKeys, wantEligible)
	}
	for i, id := range wantEligible {
		if d.EligibleKeys[i] != id {
			t.Errorf("eligible[%d] = %s, want %s", i, d.EligibleKeys[i], id)
		}
	}
	if !strings.Contains(d.Explanation, "$0.01") {
		t.Errorf("explanation = %q, want $0.01 mentioned", d.Explanation)
	}

	// Usage landed on the winner only.
	k1, _ := f.keys.Get(context.Background(), "k1")
	if k1.UsageCount != 1 {
		t.Errorf("k1 usage = %d, want 1", k1.UsageCount)
	}
	if k1.LastUsedAt == nil {
		t.Error("k1 last_used_at not stamped")
	}
	if f.emitter.Count(events.RequestCompleted) != 1 {
		t.Errorf("request_completed events = %d, want 1", f.emitter.Count(events.RequestCompleted))
	}
}

func TestRouteFailoverOnRateLimit(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.seedKey(t, "k2", "openai", nil)
	f.adapter.Script(providertest.RateLimited("openai", 60*time.Second))

	resp, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "reliability")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	if f.adapter.CallCount() != 2 {
		t.Errorf("adapter calls = %d, want 2", f.adapter.CallCount())
	}
	if resp.KeyUsed != "k2" {
		t.Errorf("key_used = %s, want k2", resp.KeyUsed)
	}

	k1, _ := f.keys.Get(context.Background(), "k1")
	if k1.State != state.KeyStateThrottled {
		t.Errorf("k1 state = %s, want throttled", k1.State)
	}
	wantUntil := f.clock.Now().Add(60 * time.Second)
	if k1.CooldownUntil == nil || !k1.CooldownUntil.Equal(wantUntil) {
		t.Errorf("k1 cooldown_until = %v, want %v", k1.CooldownUntil, wantUntil)
	}
	if k1.FailureCount != 1 {
		t.Errorf("k1 failures = %d, want 1", k1.FailureCount)
	}

	if n := f.emitter.Count(events.RequestFailed); n != 1 {
		t.Errorf("request_failed events = %d, want 1", n)
	}
	if n := f.emitter.Count(events.RequestCompleted); n != 1 {
		t.Errorf("request_completed events = %d, want 1", n)
	}
	failed := f.emitter.Named(events.RequestFailed)[0]
	if failed.Fields["key_id"] != "k1" {
		t.Errorf("failed key = %v, want k1", failed.Fields["key_id"])
	}
}

func TestRouteHardBudgetRejects(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.adapter.SetEstimate(state.NewCostEstimate(
		decimal.RequireFromString("2"), 0.9, state.CostMethodAdapter), nil)

	b, err := f.costs.CreateBudget(context.Background(), &cost.Budget{
		Scope:          cost.ScopeGlobal,
		Limit:          decimal.RequireFromString("100"),
		Period:         state.WindowMonthly,
		Enforcement:    cost.EnforcementHard,
		AlertThreshold: 0.9,
	})
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	// Spend the budget to $99 before the request.
	if _, err := f.costs.RecordActualCost(context.Background(), "seed",
		decimal.RequireFromString("99"), cost.ScopeRef{ProviderID: "openai"}); err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}

	_, err = f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost")
	var berr *cost.BudgetExceededError
	if !errors.As(err, &berr) {
		t.Fatalf("err = %v, want *BudgetExceededError", err)
	}
	if !berr.Remaining.Equal(decimal.RequireFromString("1")) {
		t.Errorf("remaining = %s, want 1", berr.Remaining)
	}
	if len(berr.BudgetIDs) != 1 || berr.BudgetIDs[0] != b.ID {
		t.Errorf("violated = %v, want [%s]", berr.BudgetIDs, b.ID)
	}
	if f.adapter.CallCount() != 0 {
		t.Errorf("adapter calls = %d, want 0", f.adapter.CallCount())
	}
	if len(f.decisions(t)) != 0 {
		t.Error("decision persisted for refused request")
	}
}

func TestRouteQuotaExhaustionReroutes(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.seedKey(t, "k2", "openai", nil)

	total := int64(100)
	qs := &state.QuotaState{
		ID:            "qs-k1",
		KeyID:         "k1",
		CapacityState: state.CapacityExhausted,
		Unit:          state.UnitRequests,
		Remaining:     state.Exact(0, 1.0, state.MethodProviderReported),
		Total:         &total,
		Used:          100,
		Window:        state.WindowHourly,
		ResetAt:       f.clock.Now().Add(45 * time.Minute),
		UpdatedAt:     f.clock.Now(),
	}
	if err := f.store.SaveQuotaState(context.Background(), qs); err != nil {
		t.Fatalf("SaveQuotaState: %v", err)
	}

	resp, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "fairness")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.KeyUsed != "k2" {
		t.Errorf("key_used = %s, want k2", resp.KeyUsed)
	}

	d := f.decisions(t)[0]
	for _, id := range d.EligibleKeys {
		if id == "k1" {
			t.Error("exhausted k1 still in eligible list")
		}
	}
	if !strings.Contains(d.Explanation, "exhausted") {
		t.Errorf("explanation = %q, want exhausted mentioned", d.Explanation)
	}
}

func TestRouteFairnessRoundRobin(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.seedKey(t, "k2", "openai", nil)
	f.seedKey(t, "k3", "openai", nil)

	counts := make(map[string]int)
	var order []string
	for i := 0; i < 6; i++ {
		resp, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "fairness")
		if err != nil {
			t.Fatalf("Route %d: %v", i, err)
		}
		counts[resp.KeyUsed]++
		order = append(order, resp.KeyUsed)
	}

	for _, id := range []string{"k1", "k2", "k3"} {
		if counts[id] != 2 {
			t.Errorf("key %s selected %d times, want 2 (order %v)", id, counts[id], order)
		}
	}
	// No key repeats within either cycle of three.
	for _, cycle := range [][]string{order[:3], order[3:]} {
		seen := make(map[string]bool)
		for _, id := range cycle {
			if seen[id] {
				t.Errorf("key %s selected twice in one cycle (order %v)", id, order)
			}
			seen[id] = true
		}
	}
}

func TestRoutePolicyFilter(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	anthropic := providertest.New("anthropic")
	if err := f.registry.Register(anthropic); err != nil {
		t.Fatalf("register anthropic: %v", err)
	}
	f.seedKey(t, "k2", "anthropic", nil)

	pol, err := f.policies.Create(context.Background(), &policy.Policy{
		Name:    "block anthropic",
		Type:    policy.TypeRouting,
		Scope:   policy.ScopeGlobal,
		Rules:   policy.Rules{BlockedProviders: []string{"anthropic"}},
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("policies.Create: %v", err)
	}

	resp, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "reliability")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.KeyUsed != "k1" {
		t.Errorf("key_used = %s, want k1", resp.KeyUsed)
	}

	d := f.decisions(t)[0]
	for _, id := range d.EligibleKeys {
		if id == "k2" {
			t.Error("anthropic key in eligible list")
		}
	}
	if !strings.Contains(d.Explanation, pol.ID) {
		t.Errorf("explanation = %q, want policy %s cited", d.Explanation, pol.ID)
	}
}

// ---- failover behavior ----

func TestRouteNonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.seedKey(t, "k2", "openai", nil)
	f.adapter.Script(providertest.AuthFailure("openai"))

	_, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "reliability")
	var sysErr *providers.SystemError
	if !errors.As(err, &sysErr) {
		t.Fatalf("err = %v, want *SystemError", err)
	}
	if sysErr.Category != providers.CategoryAuthentication {
		t.Errorf("category = %s, want authentication", sysErr.Category)
	}
	if f.adapter.CallCount() != 1 {
		t.Errorf("adapter calls = %d, want 1", f.adapter.CallCount())
	}

	// The rejected credential is marked invalid.
	k1, _ := f.keys.Get(context.Background(), "k1")
	if k1.State != state.KeyStateInvalid {
		t.Errorf("k1 state = %s, want invalid", k1.State)
	}
	if k1.FailureCount != 1 {
		t.Errorf("k1 failures = %d, want 1", k1.FailureCount)
	}
}

func TestRouteAttemptsAreBounded(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"k1", "k2", "k3", "k4"} {
		f.seedKey(t, id, "openai", nil)
	}
	f.adapter.Script(
		providertest.ServerError("openai"),
		providertest.ServerError("openai"),
		providertest.ServerError("openai"),
		providertest.ServerError("openai"),
	)

	_, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "reliability")
	if err == nil {
		t.Fatal("want error after exhausting attempts")
	}
	if f.adapter.CallCount() != 3 {
		t.Errorf("adapter calls = %d, want 3", f.adapter.CallCount())
	}
	if n := f.emitter.Count(events.RequestFailed); n != 3 {
		t.Errorf("request_failed events = %d, want 3", n)
	}
}

func TestRouteSingleKeyNoFailoverTarget(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.adapter.Script(providertest.ServerError("openai"))

	_, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost")
	var sysErr *providers.SystemError
	if !errors.As(err, &sysErr) {
		t.Fatalf("err = %v, want *SystemError", err)
	}
	if f.adapter.CallCount() != 1 {
		t.Errorf("adapter calls = %d, want 1", f.adapter.CallCount())
	}
}

func TestRouteCancellationSkipsUsageWrites(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.adapter.Script(providertest.Outcome{Delay: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.orch.RouteNamed(ctx, testIntent("openai"), "cost")
	if err == nil {
		t.Fatal("want error after cancellation")
	}

	// The decision stands in the audit trail; no usage write happened.
	if len(f.decisions(t)) != 1 {
		t.Errorf("decisions = %d, want 1", len(f.decisions(t)))
	}
	k1, _ := f.keys.Get(context.Background(), "k1")
	if k1.UsageCount != 0 {
		t.Errorf("k1 usage = %d, want 0", k1.UsageCount)
	}
	if f.emitter.Count(events.RequestCompleted) != 0 {
		t.Error("request_completed emitted for abandoned call")
	}
}

func TestRouteNoEligibleKeys(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost")
	if !errors.Is(err, routing.ErrNoEligibleKeys) {
		t.Fatalf("err = %v, want ErrNoEligibleKeys", err)
	}
	if f.adapter.CallCount() != 0 {
		t.Errorf("adapter calls = %d, want 0", f.adapter.CallCount())
	}
}

func TestRouteUnknownProvider(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "mistral", nil)

	_, err := f.orch.RouteNamed(context.Background(), testIntent("mistral"), "cost")
	var uerr *providers.UnknownProviderError
	if !errors.As(err, &uerr) {
		t.Fatalf("err = %v, want *UnknownProviderError", err)
	}
}

func TestRouteValidatesIntent(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		intent *providers.RequestIntent
	}{
		{"nil", nil},
		{"no model", &providers.RequestIntent{
			Messages: []providers.MessageTurn{{Role: "user", Content: "x"}}, ProviderID: "openai"}},
		{"no messages", &providers.RequestIntent{Model: "gpt-4o", ProviderID: "openai"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.orch.RouteNamed(context.Background(), tc.intent, "cost"); err == nil {
				t.Error("invalid intent accepted")
			}
		})
	}
}

// ---- accounting ----

func TestRouteReconcilesActualCost(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.adapter.Script(providertest.Outcome{Response: &providers.Response{
		Content: "ok",
		Cost:    &providers.CostReport{Amount: "0.0135", Currency: "USD"},
		Metadata: providers.ResponseMetadata{
			TokensUsed: providers.TokenUsage{Input: 10, Output: 20, Total: 30},
		},
	}})

	if _, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost"); err != nil {
		t.Fatalf("Route: %v", err)
	}

	recs := f.costs.Reconciliations()
	if len(recs) != 1 {
		t.Fatalf("reconciliations = %d, want 1", len(recs))
	}
	if !recs[0].Actual.Equal(decimal.RequireFromString("0.0135")) {
		t.Errorf("actual = %s, want 0.0135", recs[0].Actual)
	}
	if recs[0].KeyID != "k1" {
		t.Errorf("reconciliation key = %s, want k1", recs[0].KeyID)
	}

	// Tokens reached the quota window.
	qs, err := f.quota.State(context.Background(), "k1")
	if err != nil {
		t.Fatalf("quota.State: %v", err)
	}
	if qs.Used != 1 {
		t.Errorf("quota used = %d, want 1", qs.Used)
	}
}

func TestRouteOrderedWritesOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)

	if _, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost"); err != nil {
		t.Fatalf("Route: %v", err)
	}

	// Decision persisted, then adapter invoked, then accounting.
	if len(f.decisions(t)) != 1 {
		t.Fatalf("decisions = %d, want 1", len(f.decisions(t)))
	}
	if f.adapter.CallCount() != 1 {
		t.Fatalf("adapter calls = %d, want 1", f.adapter.CallCount())
	}
	var names []string
	for _, ev := range f.emitter.Events() {
		switch ev.Name {
		case events.RoutingDecisionMade, events.RequestCompleted:
			names = append(names, ev.Name)
		}
	}
	want := []string{events.RoutingDecisionMade, events.RequestCompleted}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("event order = %v, want %v", names, want)
	}
}

// ---- provider health ----

func TestProviderHealthTracksOutcomes(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)
	f.adapter.Script(
		providertest.ServerError("openai"),
		providertest.ServerError("openai"),
		providertest.ServerError("openai"),
	)

	// Three failed requests in a row, each exhausting its single key.
	for i := 0; i < 3; i++ {
		if _, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost"); err == nil {
			t.Fatalf("Route %d: want error", i)
		}
	}

	health := f.orch.ProviderHealth()
	hs, ok := health["openai"]
	if !ok {
		t.Fatal("openai missing from health map")
	}
	if hs.Healthy {
		t.Error("provider healthy after three consecutive failures")
	}
	if hs.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d, want 3", hs.ConsecutiveFailures)
	}

	// One success flips it back.
	if _, err := f.orch.RouteNamed(context.Background(), testIntent("openai"), "cost"); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if hs := f.orch.ProviderHealth()["openai"]; !hs.Healthy {
		t.Error("provider unhealthy after success")
	}
}
