package cost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/internal/providertest"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
)

func newTestController(t *testing.T) (*Controller, *clock.Fake, *events.MemoryEmitter) {
	t.Helper()

	fake := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	emitter := events.NewMemoryEmitter(0)
	c := NewController(Options{
		Clock:   fake,
		IDs:     clock.NewSequence("budget"),
		Emitter: emitter,
	})
	return c, fake, emitter
}

func mustCreate(t *testing.T, c *Controller, b *Budget) *Budget {
	t.Helper()
	created, err := c.CreateBudget(context.Background(), b)
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	return created
}

func estimateOf(amount string) state.CostEstimate {
	return state.NewCostEstimate(decimal.RequireFromString(amount), 0.7, state.CostMethodHeuristic)
}

func TestControllerCreateBudgetDefaults(t *testing.T) {
	c, fake, _ := newTestController(t)

	created := mustCreate(t, c, &Budget{
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("50"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.8,
	})

	if created.ID != "budget-1" {
		t.Errorf("id = %q, want budget-1", created.ID)
	}
	if created.Currency != "USD" {
		t.Errorf("currency = %q, want USD", created.Currency)
	}
	if !created.PeriodStart.Equal(fake.Now()) {
		t.Errorf("period start = %v, want %v", created.PeriodStart, fake.Now())
	}
	if !created.CurrentSpend.IsZero() {
		t.Errorf("current spend = %s, want 0", created.CurrentSpend)
	}

	if _, err := c.CreateBudget(context.Background(), &Budget{
		ID:             "budget-1",
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("10"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.5,
	}); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestControllerCreateBudgetRejectsInvalid(t *testing.T) {
	c, _, _ := newTestController(t)

	_, err := c.CreateBudget(context.Background(), &Budget{
		Scope:          ScopePerProvider,
		Limit:          decimal.RequireFromString("10"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.8,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if verr.Field != "scope_id" {
		t.Errorf("field = %q, want scope_id", verr.Field)
	}
}

func TestControllerBudgetLifecycle(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	b := mustCreate(t, c, validBudget())

	got, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("got id %q, want %q", got.ID, b.ID)
	}

	if budgets := c.ListBudgets(ctx); len(budgets) != 1 {
		t.Fatalf("ListBudgets returned %d budgets, want 1", len(budgets))
	}

	if err := c.DeleteBudget(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBudget: %v", err)
	}
	var nferr *NotFoundError
	if _, err := c.GetBudget(ctx, b.ID); !errors.As(err, &nferr) {
		t.Errorf("after delete, GetBudget error = %v, want *NotFoundError", err)
	}
	if err := c.DeleteBudget(ctx, b.ID); !errors.As(err, &nferr) {
		t.Errorf("second delete error = %v, want *NotFoundError", err)
	}
}

func TestControllerCheckBudget(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	b := mustCreate(t, c, &Budget{
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("1.00"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.8,
	})

	res, err := c.CheckBudget(ctx, estimateOf("0.40"), ScopeRef{})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !res.Allowed || res.WouldExceed {
		t.Errorf("fresh budget: allowed=%v wouldExceed=%v, want true/false", res.Allowed, res.WouldExceed)
	}
	if remaining := res.Remaining[b.ID]; !remaining.Equal(decimal.RequireFromString("1.00")) {
		t.Errorf("remaining = %s, want 1.00", remaining)
	}

	if _, err := c.RecordActualCost(ctx, "req-1", decimal.RequireFromString("0.80"), ScopeRef{}); err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}

	res, err = c.CheckBudget(ctx, estimateOf("0.40"), ScopeRef{})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if res.Allowed {
		t.Error("hard budget exceeded but check allowed")
	}
	if !res.WouldExceed {
		t.Error("WouldExceed = false after projected overage")
	}
	if len(res.Violated) != 1 || res.Violated[0] != b.ID {
		t.Errorf("violated = %v, want [%s]", res.Violated, b.ID)
	}
	if res.Reason == "" {
		t.Error("reason empty on violation")
	}
	if remaining := res.Remaining[b.ID]; !remaining.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("remaining = %s, want 0.20", remaining)
	}
}

func TestControllerEnforceBudgetModes(t *testing.T) {
	c, _, emitter := newTestController(t)
	ctx := context.Background()

	mustCreate(t, c, &Budget{
		ID:             "hard",
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("1.00"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.8,
	})
	mustCreate(t, c, &Budget{
		ID:             "soft",
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("0.50"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementSoft,
		AlertThreshold: 0.8,
	})
	mustCreate(t, c, &Budget{
		ID:             "advisory",
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("0.30"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementAdvisory,
		AlertThreshold: 0.8,
	})

	// 0.60 busts soft and advisory but stays inside the hard limit: the
	// request proceeds and only the soft violation emits.
	res, err := c.EnforceBudget(ctx, estimateOf("0.60"), ScopeRef{})
	if err != nil {
		t.Fatalf("EnforceBudget: %v", err)
	}
	if !res.Allowed {
		t.Error("soft and advisory violations should not refuse")
	}
	if len(res.Violated) != 2 {
		t.Errorf("violated = %v, want soft and advisory", res.Violated)
	}
	if got := emitter.Count(events.BudgetViolation); got != 1 {
		t.Errorf("budget_violation events = %d, want 1 (soft only)", got)
	}

	// 1.20 busts the hard budget too.
	_, err = c.EnforceBudget(ctx, estimateOf("1.20"), ScopeRef{})
	var exceeded *BudgetExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("error = %v, want *BudgetExceededError", err)
	}
	if len(exceeded.BudgetIDs) != 1 || exceeded.BudgetIDs[0] != "hard" {
		t.Errorf("exceeded budgets = %v, want [hard]", exceeded.BudgetIDs)
	}
	if !exceeded.Remaining.Equal(decimal.RequireFromString("1.00")) {
		t.Errorf("remaining = %s, want 1.00", exceeded.Remaining)
	}
}

func TestControllerScopedAccrual(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	b := mustCreate(t, c, &Budget{
		Scope:          ScopePerProvider,
		ScopeID:        "openai",
		Limit:          decimal.RequireFromString("10"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.8,
	})

	if _, err := c.RecordActualCost(ctx, "req-1", decimal.RequireFromString("3"), ScopeRef{ProviderID: "anthropic"}); err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}
	got, _ := c.GetBudget(ctx, b.ID)
	if !got.CurrentSpend.IsZero() {
		t.Errorf("other provider's spend accrued: %s", got.CurrentSpend)
	}

	if _, err := c.RecordActualCost(ctx, "req-2", decimal.RequireFromString("3"), ScopeRef{ProviderID: "openai"}); err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}
	got, _ = c.GetBudget(ctx, b.ID)
	if !got.CurrentSpend.Equal(decimal.RequireFromString("3")) {
		t.Errorf("spend = %s, want 3", got.CurrentSpend)
	}
}

func TestControllerReconciliation(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	est := estimateOf("0.002")
	c.RecordEstimatedCost(ctx, "req-1", est, "openai", "gpt-4", "key-1")

	rec, err := c.RecordActualCost(ctx, "req-1", decimal.RequireFromString("0.003"), ScopeRef{})
	if err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}
	if !rec.Estimated.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("estimated = %s, want 0.002", rec.Estimated)
	}
	if !rec.Delta.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("delta = %s, want 0.001", rec.Delta)
	}
	if rec.DeltaPercent != 50 {
		t.Errorf("delta percent = %v, want 50", rec.DeltaPercent)
	}
	if rec.ProviderID != "openai" || rec.KeyID != "key-1" || rec.Model != "gpt-4" {
		t.Errorf("pending context lost: %+v", rec)
	}
	if rec.EstimateMethod != state.CostMethodHeuristic {
		t.Errorf("estimate method = %q, want %q", rec.EstimateMethod, state.CostMethodHeuristic)
	}

	ledger := c.Reconciliations()
	if len(ledger) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(ledger))
	}

	// The pending estimate is consumed: a repeat actual reconciles
	// against nothing.
	rec, err = c.RecordActualCost(ctx, "req-1", decimal.RequireFromString("0.003"), ScopeRef{})
	if err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}
	if !rec.Estimated.IsZero() {
		t.Errorf("repeat reconciliation found an estimate: %s", rec.Estimated)
	}
}

func TestControllerReconciliationLedgerCap(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	c := NewController(Options{Clock: fake, ReconciliationCap: 3})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := c.RecordActualCost(ctx, id, decimal.RequireFromString("0.01"), ScopeRef{}); err != nil {
			t.Fatalf("RecordActualCost(%s): %v", id, err)
		}
	}
	ledger := c.Reconciliations()
	if len(ledger) != 3 {
		t.Fatalf("ledger has %d entries, want 3", len(ledger))
	}
	if ledger[0].RequestID != "b" {
		t.Errorf("oldest entry = %q, want b (a evicted)", ledger[0].RequestID)
	}
}

func TestControllerThresholdCrossingFiresOnce(t *testing.T) {
	c, _, emitter := newTestController(t)
	ctx := context.Background()

	mustCreate(t, c, &Budget{
		ID:             "capped",
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("10"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementSoft,
		AlertThreshold: 0.8,
	})

	steps := []struct {
		amount    string
		wantFired int
	}{
		{"7", 0},    // 0.70, below
		{"1.5", 1},  // 0.85, crosses
		{"0.5", 1},  // 0.90, already past
	}
	for i, step := range steps {
		if _, err := c.RecordActualCost(ctx, "req", decimal.RequireFromString(step.amount), ScopeRef{}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := emitter.Count(events.BudgetThresholdCrossed); got != step.wantFired {
			t.Errorf("step %d: threshold events = %d, want %d", i, got, step.wantFired)
		}
	}
}

func TestControllerPeriodRollover(t *testing.T) {
	c, fake, _ := newTestController(t)
	ctx := context.Background()

	b := mustCreate(t, c, &Budget{
		Scope:          ScopeGlobal,
		Limit:          decimal.RequireFromString("10"),
		Period:         state.WindowDaily,
		Enforcement:    EnforcementHard,
		AlertThreshold: 0.8,
	})
	start := b.PeriodStart

	if _, err := c.RecordActualCost(ctx, "req-1", decimal.RequireFromString("9"), ScopeRef{}); err != nil {
		t.Fatalf("RecordActualCost: %v", err)
	}

	// Still inside the period: nothing resets.
	fake.Advance(23 * time.Hour)
	got, _ := c.GetBudget(ctx, b.ID)
	if !got.CurrentSpend.Equal(decimal.RequireFromString("9")) {
		t.Errorf("mid-period spend = %s, want 9", got.CurrentSpend)
	}

	// Three days later the period has rolled three times and spend is
	// back to zero.
	fake.Advance(3 * 24 * time.Hour)
	got, _ = c.GetBudget(ctx, b.ID)
	if !got.CurrentSpend.IsZero() {
		t.Errorf("post-rollover spend = %s, want 0", got.CurrentSpend)
	}
	wantStart := start.Add(3 * 24 * time.Hour)
	if !got.PeriodStart.Equal(wantStart) {
		t.Errorf("period start = %v, want %v", got.PeriodStart, wantStart)
	}

	// A projected overage from the old period no longer blocks.
	res, err := c.CheckBudget(ctx, estimateOf("5"), ScopeRef{})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !res.Allowed {
		t.Error("check blocked after rollover cleared the spend")
	}
}

func TestControllerEstimateRequestCost(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	registry := providers.NewRegistry(nil)
	adapter := providertest.New("openai")
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c := NewController(Options{Clock: fake, Registry: registry})
	intent := &providers.RequestIntent{
		Model:      "gpt-4",
		ProviderID: "openai",
		Messages:   []providers.MessageTurn{{Role: "user", Content: "hello"}},
	}

	est, err := c.EstimateRequestCost(intent, "openai")
	if err != nil {
		t.Fatalf("EstimateRequestCost: %v", err)
	}
	if est.Method != state.CostMethodAdapter {
		t.Errorf("method = %q, want adapter estimate", est.Method)
	}

	// Adapter failure falls back to the token heuristic.
	adapter.SetEstimate(state.CostEstimate{}, errors.New("no pricing"))
	est, err = c.EstimateRequestCost(intent, "openai")
	if err != nil {
		t.Fatalf("EstimateRequestCost fallback: %v", err)
	}
	if est.Method != state.CostMethodHeuristic {
		t.Errorf("fallback method = %q, want heuristic", est.Method)
	}

	// Unknown providers go straight to the heuristic.
	est, err = c.EstimateRequestCost(intent, "anthropic")
	if err != nil {
		t.Fatalf("EstimateRequestCost unknown provider: %v", err)
	}
	if est.Method != state.CostMethodHeuristic {
		t.Errorf("unknown-provider method = %q, want heuristic", est.Method)
	}

	if _, err := c.EstimateRequestCost(nil, "openai"); err == nil {
		t.Error("nil intent accepted")
	}
}

func TestControllerRejectsNegativeActual(t *testing.T) {
	c, _, _ := newTestController(t)
	if _, err := c.RecordActualCost(context.Background(), "req-1", decimal.RequireFromString("-1"), ScopeRef{}); err == nil {
		t.Error("negative actual cost accepted")
	}
}
