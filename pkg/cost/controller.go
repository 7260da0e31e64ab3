package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
)

// DefaultReconciliationCap bounds the estimate-vs-actual ledger.
const DefaultReconciliationCap = 1000

// DefaultPendingCap bounds estimates awaiting their actual cost.
const DefaultPendingCap = 10000

// Options carries the controller's collaborators. Everything has a
// default; a zero Options is usable.
type Options struct {
	Clock     clock.Clock
	IDs       clock.IDSource
	Emitter   events.Emitter
	Logger    *logging.Logger
	Metrics   *metrics.Collector
	Estimator *Estimator

	// Registry resolves provider adapters for first-chance estimation.
	// Nil means the token heuristic prices everything.
	Registry *providers.Registry

	// ReconciliationCap bounds the reconciliation ledger.
	ReconciliationCap int

	// PendingCap bounds estimates awaiting reconciliation.
	PendingCap int
}

// CheckResult is the outcome of checking an estimate against every
// matching budget.
type CheckResult struct {
	// Allowed is false only when a hard-enforced budget would be
	// exceeded.
	Allowed bool

	// WouldExceed is true when any matching budget would be exceeded,
	// regardless of enforcement mode.
	WouldExceed bool

	// Remaining is each matching budget's headroom before this request.
	Remaining map[string]decimal.Decimal

	// Violated lists the budgets that would be exceeded, in budget
	// creation order.
	Violated []string

	// Reason describes the first violation, empty when none.
	Reason string
}

// Reconciliation is one estimate-vs-actual comparison.
type Reconciliation struct {
	RequestID  string `json:"request_id"`
	ProviderID string `json:"provider_id,omitempty"`
	KeyID      string `json:"key_id,omitempty"`
	Model      string `json:"model,omitempty"`

	Estimated      decimal.Decimal `json:"estimated"`
	EstimateMethod string          `json:"estimate_method,omitempty"`
	Actual         decimal.Decimal `json:"actual"`

	// Delta is actual minus estimated.
	Delta decimal.Decimal `json:"delta"`

	// DeltaPercent is the delta relative to the estimate, zero when the
	// estimate was zero.
	DeltaPercent float64 `json:"delta_percent"`

	At time.Time `json:"at"`
}

type pendingEstimate struct {
	estimate   state.CostEstimate
	providerID string
	model      string
	keyID      string
	at         time.Time
}

type violation struct {
	id          string
	enforcement Enforcement
	limit       decimal.Decimal
	remaining   decimal.Decimal
	projected   decimal.Decimal
}

// Controller owns budgets and the cost accounting around them.
type Controller struct {
	clock     clock.Clock
	ids       clock.IDSource
	emitter   events.Emitter
	logger    *logging.Logger
	metrics   *metrics.Collector
	estimator *Estimator
	registry  *providers.Registry

	reconciliationCap int
	pendingCap        int

	mu      sync.Mutex
	budgets map[string]*Budget
	// order preserves creation order for deterministic matching and
	// listing.
	order []string

	pending      map[string]pendingEstimate
	pendingOrder []string

	reconciliations []Reconciliation
}

// NewController creates a cost controller from opts.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDs == nil {
		opts.IDs = clock.UUIDSource{}
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Estimator == nil {
		opts.Estimator = NewEstimator(EstimatorConfig{})
	}
	if opts.ReconciliationCap <= 0 {
		opts.ReconciliationCap = DefaultReconciliationCap
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = DefaultPendingCap
	}

	return &Controller{
		clock:             opts.Clock,
		ids:               opts.IDs,
		emitter:           opts.Emitter,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		estimator:         opts.Estimator,
		registry:          opts.Registry,
		reconciliationCap: opts.ReconciliationCap,
		pendingCap:        opts.PendingCap,
		budgets:           make(map[string]*Budget),
		pending:           make(map[string]pendingEstimate),
	}
}

// EstimateRequestCost prices an intent: the provider adapter gets first
// chance, the token heuristic covers everything else.
func (c *Controller) EstimateRequestCost(intent *providers.RequestIntent, providerID string) (state.CostEstimate, error) {
	if intent == nil {
		return state.CostEstimate{}, fmt.Errorf("cost: nil intent")
	}
	if c.registry != nil && providerID != "" {
		if adapter, err := c.registry.Get(providerID); err == nil {
			if est, err := adapter.EstimateCost(intent); err == nil && est.Confidence > 0 {
				return est, nil
			}
		}
	}
	return c.estimator.EstimateIntent(intent), nil
}

// CreateBudget validates and registers a budget. A missing id is
// assigned; period start defaults to now.
func (c *Controller) CreateBudget(ctx context.Context, b *Budget) (*Budget, error) {
	if b == nil {
		return nil, &ValidationError{Field: "budget", Message: "must not be nil"}
	}
	budget := b.Clone()
	if budget.Enforcement == "" {
		budget.Enforcement = EnforcementHard
	}
	if budget.Currency == "" {
		budget.Currency = "USD"
	}
	if err := budget.validate(); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	if budget.ID == "" {
		budget.ID = c.ids.NewID()
	}
	if budget.PeriodStart.IsZero() {
		budget.PeriodStart = now
	}
	budget.CurrentSpend = decimal.Zero
	budget.CreatedAt = now
	budget.UpdatedAt = now

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.budgets[budget.ID]; exists {
		return nil, &ValidationError{Field: "id", Message: fmt.Sprintf("budget %q already exists", budget.ID)}
	}
	c.budgets[budget.ID] = budget
	c.order = append(c.order, budget.ID)

	c.logger.Info("budget created",
		"budget_id", budget.ID,
		"scope", budget.Scope,
		"scope_id", budget.ScopeID,
		"limit", budget.Limit,
		"period", budget.Period,
		"enforcement", budget.Enforcement,
	)
	return budget.Clone(), nil
}

// GetBudget returns the budget after applying any due rollover.
func (c *Controller) GetBudget(ctx context.Context, id string) (*Budget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.budgets[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	c.rolloverLocked(b, c.clock.Now())
	return b.Clone(), nil
}

// ListBudgets returns every budget in creation order.
func (c *Controller) ListBudgets(ctx context.Context) []*Budget {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	out := make([]*Budget, 0, len(c.order))
	for _, id := range c.order {
		b := c.budgets[id]
		c.rolloverLocked(b, now)
		out = append(out, b.Clone())
	}
	return out
}

// DeleteBudget removes the budget.
func (c *Controller) DeleteBudget(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.budgets[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(c.budgets, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.logger.Info("budget deleted", "budget_id", id)
	return nil
}

// CheckBudget projects the estimate onto every matching budget. Allowed
// is false only when a hard budget would be exceeded; soft and advisory
// violations surface in Violated and WouldExceed.
func (c *Controller) CheckBudget(ctx context.Context, estimate state.CostEstimate, ref ScopeRef) (*CheckResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, _ := c.checkLocked(estimate, ref)
	return res, nil
}

// checkLocked computes the check result plus per-violation detail.
func (c *Controller) checkLocked(estimate state.CostEstimate, ref ScopeRef) (*CheckResult, []violation) {
	now := c.clock.Now()
	res := &CheckResult{
		Allowed:   true,
		Remaining: make(map[string]decimal.Decimal),
	}
	var violations []violation

	for _, id := range c.order {
		b := c.budgets[id]
		if !b.Matches(ref) {
			continue
		}
		c.rolloverLocked(b, now)

		remaining := b.Remaining()
		res.Remaining[b.ID] = remaining

		projected := b.CurrentSpend.Add(estimate.Amount)
		if projected.GreaterThan(b.Limit) {
			res.WouldExceed = true
			res.Violated = append(res.Violated, b.ID)
			violations = append(violations, violation{
				id:          b.ID,
				enforcement: b.Enforcement,
				limit:       b.Limit,
				remaining:   remaining,
				projected:   projected,
			})
			if b.Enforcement == EnforcementHard {
				res.Allowed = false
			}
			if res.Reason == "" {
				res.Reason = fmt.Sprintf("budget %s (%s) would be exceeded: projected %s exceeds limit %s",
					b.ID, b.Scope, projected, b.Limit)
			}
		}
	}
	return res, violations
}

// EnforceBudget checks and then acts on the result by enforcement mode:
// hard violations refuse the request with BudgetExceededError, soft
// violations emit budget_violation and allow, advisory violations only
// log.
func (c *Controller) EnforceBudget(ctx context.Context, estimate state.CostEstimate, ref ScopeRef) (*CheckResult, error) {
	c.mu.Lock()
	res, violations := c.checkLocked(estimate, ref)
	c.mu.Unlock()

	if len(violations) == 0 {
		return res, nil
	}

	now := c.clock.Now()
	var hard []violation
	for _, v := range violations {
		switch v.enforcement {
		case EnforcementHard, EnforcementSoft:
			c.emitter.Emit(ctx, events.Event{
				Name:      events.BudgetViolation,
				Timestamp: now,
				Fields: map[string]any{
					"budget_id":   v.id,
					"enforcement": string(v.enforcement),
					"projected":   v.projected.String(),
					"limit":       v.limit.String(),
					"remaining":   v.remaining.String(),
				},
			})
			if c.metrics != nil {
				c.metrics.RecordBudgetViolation(v.id, string(v.enforcement))
			}
			if v.enforcement == EnforcementHard {
				hard = append(hard, v)
			} else {
				c.logger.Warn("soft budget violation",
					"budget_id", v.id,
					"projected", v.projected,
					"limit", v.limit,
				)
			}
		case EnforcementAdvisory:
			c.logger.Info("advisory budget violation",
				"budget_id", v.id,
				"projected", v.projected,
				"limit", v.limit,
			)
		}
	}

	if len(hard) == 0 {
		return res, nil
	}

	// The tightest hard budget names the refusal.
	tightest := hard[0]
	for _, v := range hard[1:] {
		if v.remaining.LessThan(tightest.remaining) {
			tightest = v
		}
	}
	ids := make([]string, len(hard))
	for i, v := range hard {
		ids[i] = v.id
	}
	return nil, &BudgetExceededError{
		BudgetIDs: ids,
		Cost:      estimate.Amount,
		Limit:     tightest.limit,
		Remaining: tightest.remaining,
	}
}

// RecordEstimatedCost indexes an estimate under the request id so the
// actual cost can reconcile against it later.
func (c *Controller) RecordEstimatedCost(ctx context.Context, requestID string, estimate state.CostEstimate, providerID, model, keyID string) {
	if requestID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[requestID]; !exists {
		c.pendingOrder = append(c.pendingOrder, requestID)
		if len(c.pendingOrder) > c.pendingCap {
			evict := c.pendingOrder[0]
			c.pendingOrder = c.pendingOrder[1:]
			delete(c.pending, evict)
		}
	}
	c.pending[requestID] = pendingEstimate{
		estimate:   estimate,
		providerID: providerID,
		model:      model,
		keyID:      keyID,
		at:         c.clock.Now(),
	}
}

// RecordActualCost reconciles the actual amount against the recorded
// estimate and adds the spend to every matching budget, firing
// budget_threshold_crossed on alert-threshold crossings.
func (c *Controller) RecordActualCost(ctx context.Context, requestID string, actual decimal.Decimal, ref ScopeRef) (*Reconciliation, error) {
	if actual.IsNegative() {
		return nil, fmt.Errorf("cost: negative actual amount %s", actual)
	}

	c.mu.Lock()
	now := c.clock.Now()

	pending, hadEstimate := c.pending[requestID]
	if hadEstimate {
		delete(c.pending, requestID)
		for i, id := range c.pendingOrder {
			if id == requestID {
				c.pendingOrder = append(c.pendingOrder[:i], c.pendingOrder[i+1:]...)
				break
			}
		}
	}

	rec := Reconciliation{
		RequestID:  requestID,
		ProviderID: ref.ProviderID,
		KeyID:      ref.KeyID,
		Actual:     actual,
		At:         now,
	}
	if hadEstimate {
		rec.Model = pending.model
		rec.Estimated = pending.estimate.Amount
		rec.EstimateMethod = pending.estimate.Method
		if rec.ProviderID == "" {
			rec.ProviderID = pending.providerID
		}
		if rec.KeyID == "" {
			rec.KeyID = pending.keyID
		}
	}
	rec.Delta = actual.Sub(rec.Estimated)
	if !rec.Estimated.IsZero() {
		pct, _ := rec.Delta.Div(rec.Estimated).Mul(decimal.NewFromInt(100)).Float64()
		rec.DeltaPercent = pct
	}

	c.reconciliations = append(c.reconciliations, rec)
	if len(c.reconciliations) > c.reconciliationCap {
		c.reconciliations = c.reconciliations[1:]
	}

	type crossing struct {
		id          string
		threshold   float64
		utilization float64
	}
	var crossings []crossing
	for _, id := range c.order {
		b := c.budgets[id]
		if !b.Matches(ref) {
			continue
		}
		c.rolloverLocked(b, now)

		before := b.Utilization()
		b.CurrentSpend = b.CurrentSpend.Add(actual)
		b.UpdatedAt = now
		after := b.Utilization()

		if before < b.AlertThreshold && after >= b.AlertThreshold {
			crossings = append(crossings, crossing{id: b.ID, threshold: b.AlertThreshold, utilization: after})
		}
		if c.metrics != nil {
			c.metrics.UpdateBudgetUtilization(b.ID, after)
		}
	}
	c.mu.Unlock()

	for _, cr := range crossings {
		c.emitter.Emit(ctx, events.Event{
			Name:      events.BudgetThresholdCrossed,
			Timestamp: now,
			Fields: map[string]any{
				"budget_id":   cr.id,
				"threshold":   cr.threshold,
				"utilization": cr.utilization,
			},
		})
		c.logger.Warn("budget alert threshold crossed",
			"budget_id", cr.id,
			"threshold", cr.threshold,
			"utilization", cr.utilization,
		)
	}
	if c.metrics != nil && rec.ProviderID != "" {
		amount, _ := actual.Float64()
		method := rec.EstimateMethod
		if method == "" {
			method = "unreconciled"
		}
		c.metrics.RecordSpend(rec.ProviderID, method, amount)
	}

	return &rec, nil
}

// Reconciliations returns a snapshot of the ledger, oldest first.
func (c *Controller) Reconciliations() []Reconciliation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reconciliation, len(c.reconciliations))
	copy(out, c.reconciliations)
	return out
}

// rolloverLocked advances the budget period until now falls inside it,
// zeroing spend at each boundary. Idempotent: a second caller in the
// same period sees no further change.
func (c *Controller) rolloverLocked(b *Budget, now time.Time) {
	rolled := false
	for !now.Before(b.PeriodEnd()) {
		b.PeriodStart = b.PeriodEnd()
		b.CurrentSpend = decimal.Zero
		rolled = true
	}
	if rolled {
		b.UpdatedAt = now
		c.logger.Debug("budget period rolled over",
			"budget_id", b.ID,
			"period_start", b.PeriodStart,
		)
		if c.metrics != nil {
			c.metrics.UpdateBudgetUtilization(b.ID, 0)
		}
	}
}
