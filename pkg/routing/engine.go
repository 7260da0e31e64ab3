package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/policy"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/quota"
	"northstar-hq/polaris/pkg/routing/strategies"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
)

// DefaultMaxAlternatives caps the alternatives recorded on a decision.
const DefaultMaxAlternatives = 3

// softBudgetPenalty halves a candidate's score when a soft budget would
// be exceeded by routing to it.
const softBudgetPenalty = 0.5

// preferenceBonus is added to a candidate's normalized score when the
// merged policy constraints prefer its provider or region.
const preferenceBonus = 0.1

// metadataCostKey is the key metadata entry carrying a per-request cost
// hint for one key, overriding the request-level estimate.
const metadataCostKey = "cost_per_request"

// defaultUniformCost is attributed to every key when no cost controller
// is attached and a key carries no metadata hint.
var defaultUniformCost = decimal.NewFromFloat(0.001)

// Options carries the engine's collaborators. Keys is required; the
// policy, quota, and cost stages are skipped when their engine is nil.
type Options struct {
	Keys     *keys.Manager
	Policies *policy.Engine
	Quota    *quota.Engine
	Costs    *cost.Controller

	Clock   clock.Clock
	IDs     clock.IDSource
	Logger  *logging.Logger
	Metrics *metrics.Collector

	// Strategies replaces the default set (cost, reliability, fairness,
	// plus a multi-objective composition of whatever is given).
	Strategies []strategies.Strategy

	// MaxAlternatives caps the alternatives recorded on a decision.
	// Zero means DefaultMaxAlternatives; negative records none.
	MaxAlternatives int
}

// Engine turns a request intent and an objective into a RoutingDecision
// by running the filter pipeline: lifecycle eligibility, policies, quota,
// strategy scoring, quota multipliers, budget drops and penalties, then
// selection. It reads from its collaborators but never calls a provider
// and never mutates key or quota state; persisting the decision is the
// caller's job.
type Engine struct {
	keys     *keys.Manager
	policies *policy.Engine
	quota    *quota.Engine
	costs    *cost.Controller

	clock   clock.Clock
	ids     clock.IDSource
	logger  *logging.Logger
	metrics *metrics.Collector

	strategies map[state.ObjectiveKind]strategies.Strategy
	multi      *strategies.Multi

	maxAlternatives int

	// cursorMu guards cursors, the id of the last key selected per
	// provider. Fairness rotation reads it through the score context.
	cursorMu sync.Mutex
	cursors  map[string]string
}

// NewEngine creates a routing engine from opts.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Keys == nil {
		return nil, errors.New("routing: key manager is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDs == nil {
		opts.IDs = clock.UUIDSource{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MaxAlternatives == 0 {
		opts.MaxAlternatives = DefaultMaxAlternatives
	}
	if opts.MaxAlternatives < 0 {
		opts.MaxAlternatives = 0
	}

	subs := opts.Strategies
	if len(subs) == 0 {
		subs = []strategies.Strategy{
			strategies.NewCost(),
			strategies.NewReliability(),
			strategies.NewFairness(),
		}
	}

	e := &Engine{
		keys:            opts.Keys,
		policies:        opts.Policies,
		quota:           opts.Quota,
		costs:           opts.Costs,
		clock:           opts.Clock,
		ids:             opts.IDs,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		strategies:      make(map[state.ObjectiveKind]strategies.Strategy, len(subs)),
		multi:           strategies.NewMulti(subs...),
		maxAlternatives: opts.MaxAlternatives,
		cursors:         make(map[string]string),
	}
	for _, s := range subs {
		e.strategies[s.Kind()] = s
	}
	return e, nil
}

// Route runs the pipeline for intent under objective and assembles the
// decision. The returned decision is not persisted.
func (e *Engine) Route(ctx context.Context, intent *providers.RequestIntent, objective state.Objective) (*state.RoutingDecision, error) {
	start := e.clock.Now()

	if intent == nil {
		return nil, &providers.ValidationError{Field: "intent", Message: "required"}
	}
	if intent.ProviderID == "" {
		return nil, &providers.ValidationError{Field: "provider_id", Message: "required"}
	}
	providerID := intent.ProviderID

	strat, err := e.strategyFor(objective)
	if err != nil {
		return nil, err
	}

	// Lifecycle eligibility. Candidates are sorted by id so fairness
	// rotation walks a stable order.
	candidates, err := e.keys.EligibleKeys(ctx, providerID, nil)
	if err != nil {
		return nil, fmt.Errorf("listing eligible keys: %w", err)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) == 0 {
		return nil, e.noEligible(ctx, providerID, strat, start, &NoEligibleKeysError{
			ProviderID: providerID,
			Stage:      StageEligibility,
		})
	}

	// Per-key cost attribution: a metadata hint wins, the request-level
	// estimate fills the rest.
	requestCost := e.requestEstimate(intent, providerID)
	keyCosts := make(map[string]decimal.Decimal, len(candidates))
	for _, k := range candidates {
		if hint, ok := metadataCost(k); ok {
			keyCosts[k.ID] = hint
			continue
		}
		keyCosts[k.ID] = requestCost.Amount
	}

	// Policies: routing first, then key selection refining its survivors.
	var (
		applied     []string
		constraints policy.Constraints
	)
	if e.policies != nil {
		applicable := append(
			e.policies.Applicable(ctx, policy.TypeRouting, policy.ScopePerProvider, providerID),
			e.policies.Applicable(ctx, policy.TypeKeySelection, policy.ScopePerProvider, providerID)...,
		)
		if len(applicable) > 0 {
			considered := len(candidates)
			eval := e.policies.EvaluateAll(ctx, applicable, &policy.EvaluationContext{
				Candidates:    candidates,
				ProviderID:    providerID,
				Model:         intent.Model,
				EstimatedCost: requestCost.Amount,
				KeyCosts:      keyCosts,
			})
			applied = eval.AppliedPolicies
			constraints = eval.Constraints
			if !eval.Allowed {
				return nil, e.noEligible(ctx, providerID, strat, start, &NoEligibleKeysError{
					ProviderID: providerID,
					Stage:      StagePolicy,
					Considered: considered,
					Reason:     eval.Reason,
				})
			}
			candidates = eval.FilteredKeys
		}
	}

	// Quota: exhausted keys drop out before scoring.
	var (
		quotaStates map[string]*state.QuotaState
		dropped     []*state.Key
	)
	if e.quota != nil {
		considered := len(candidates)
		kept, states, droppedKeys, err := e.quota.FilterByQuotaState(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("quota filtering: %w", err)
		}
		quotaStates = states
		dropped = droppedKeys
		if len(kept) == 0 {
			return nil, e.noEligible(ctx, providerID, strat, start, &NoEligibleKeysError{
				ProviderID: providerID,
				Stage:      StageQuota,
				Considered: considered,
				Reason:     "every candidate's quota is exhausted",
			})
		}
		candidates = kept
	}

	sctx := &strategies.ScoreContext{
		Keys:         candidates,
		Intent:       intent,
		Objective:    objective,
		Quota:        quotaStates,
		Costs:        keyCosts,
		LastSelected: e.lastSelected(providerID),
	}
	scores := strat.Score(sctx)

	// Policy preferences raise matching candidates before the quota and
	// budget adjustments.
	for _, k := range candidates {
		if constraints.PrefersProvider(k.ProviderID) || constraints.PrefersRegion(policy.KeyRegion(k)) {
			scores[k.ID] += preferenceBonus
		}
	}

	if len(quotaStates) > 0 {
		scores = quota.ApplyQuotaMultipliers(scores, quotaStates)
	}

	// Budgets: hard violations drop the candidate, soft violations halve
	// its score. Advisory budgets never steer selection.
	penalized := make(map[string]bool)
	if e.costs != nil {
		considered := len(candidates)
		candidates, penalized = e.applyBudgets(ctx, candidates, keyCosts, requestCost, scores, providerID)
		if len(candidates) == 0 {
			return nil, e.noEligible(ctx, providerID, strat, start, &NoEligibleKeysError{
				ProviderID: providerID,
				Stage:      StageBudget,
				Considered: considered,
				Reason:     "every candidate would exceed a hard budget",
			})
		}
	}

	// The abundant multiplier and preference bonuses can push scores past
	// 1.0; rescale so confidence stays in [0, 1].
	var top float64
	for _, v := range scores {
		if v > top {
			top = v
		}
	}
	if top > 1 {
		for id, v := range scores {
			scores[id] = v / top
		}
	}

	selectedID, selectedScore := strat.Select(sctx, scores)
	if selectedID == "" {
		return nil, e.noEligible(ctx, providerID, strat, start, &NoEligibleKeysError{
			ProviderID: providerID,
			Stage:      StageBudget,
			Considered: len(candidates),
		})
	}

	e.cursorMu.Lock()
	e.cursors[providerID] = selectedID
	e.cursorMu.Unlock()

	explanation := strat.Explain(sctx, selectedID, scores)
	if len(dropped) > 0 {
		ids := make([]string, len(dropped))
		for i, k := range dropped {
			ids[i] = k.ID
		}
		sort.Strings(ids)
		explanation = fmt.Sprintf("dropped %s: quota exhausted; %s", strings.Join(ids, ", "), explanation)
	}
	if len(applied) > 0 {
		explanation = fmt.Sprintf("policies applied [%s]; %s", strings.Join(applied, ", "), explanation)
	}

	decision := &state.RoutingDecision{
		ID:                 e.ids.NewID(),
		RequestID:          logging.RequestID(ctx),
		CorrelationID:      logging.CorrelationID(ctx),
		SelectedKeyID:      selectedID,
		SelectedProviderID: providerID,
		Timestamp:          e.clock.Now(),
		Objective:          objective.Clone(),
		EligibleKeys:       keyIDs(candidates),
		Scores:             scores,
		Explanation:        explanation,
		Confidence:         selectedScore,
		Alternatives:       e.alternatives(candidates, selectedID, selectedScore, scores, penalized, quotaStates),
	}

	if e.metrics != nil {
		e.metrics.RecordDecision(providerID, strat.Kind().String(), "selected", e.clock.Now().Sub(start), len(candidates))
	}
	e.logger.WithContext(ctx).Debug("routing decision",
		"provider_id", providerID,
		"strategy", strat.Kind().String(),
		"selected_key", selectedID,
		"confidence", selectedScore,
		"candidates", len(candidates))

	return decision, nil
}

// LastSelected returns the id of the key the engine last selected for
// the provider, empty when it has not selected one yet.
func (e *Engine) LastSelected(providerID string) string {
	return e.lastSelected(providerID)
}

func (e *Engine) lastSelected(providerID string) string {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()
	return e.cursors[providerID]
}

// strategyFor picks the strategy: multi-objective when the objective
// carries weights, otherwise the primary kind's strategy. An empty
// primary falls back to fairness, the router default.
func (e *Engine) strategyFor(objective state.Objective) (strategies.Strategy, error) {
	if len(objective.Weights) > 0 {
		return e.multi, nil
	}
	kind := objective.Primary
	if kind == "" {
		kind = state.ObjectiveFairness
	}
	if s, ok := e.strategies[kind]; ok {
		return s, nil
	}
	available := make([]string, 0, len(e.strategies))
	for k := range e.strategies {
		available = append(available, k.String())
	}
	sort.Strings(available)
	return nil, &UnknownStrategyError{Kind: kind.String(), Available: available}
}

// requestEstimate resolves the request-level cost figure: the cost
// controller's estimate when attached, a uniform default otherwise.
func (e *Engine) requestEstimate(intent *providers.RequestIntent, providerID string) state.CostEstimate {
	if e.costs != nil {
		if est, err := e.costs.EstimateRequestCost(intent, providerID); err == nil {
			return est
		}
	}
	return state.NewCostEstimate(defaultUniformCost, 0.1, state.CostMethodUniform)
}

// applyBudgets checks each candidate's attributed cost against the
// budgets matching it. Hard violations remove the candidate from both
// the returned slice and scores; soft violations halve the score and
// are reported in the penalized set.
func (e *Engine) applyBudgets(ctx context.Context, candidates []*state.Key, keyCosts map[string]decimal.Decimal, requestCost state.CostEstimate, scores map[string]float64, providerID string) ([]*state.Key, map[string]bool) {
	kept := make([]*state.Key, 0, len(candidates))
	penalized := make(map[string]bool)

	for _, k := range candidates {
		estimate := requestCost
		estimate.Amount = keyCosts[k.ID]

		res, err := e.costs.CheckBudget(ctx, estimate, cost.ScopeRef{ProviderID: providerID, KeyID: k.ID})
		if err != nil {
			e.logger.WithContext(ctx).Warn("budget check failed, keeping candidate",
				"key_id", k.ID, "error", err)
			kept = append(kept, k)
			continue
		}
		if res.Allowed && !res.WouldExceed {
			kept = append(kept, k)
			continue
		}
		if !res.Allowed {
			delete(scores, k.ID)
			e.logger.WithContext(ctx).Debug("hard budget dropped candidate",
				"key_id", k.ID, "violated", strings.Join(res.Violated, ","))
			continue
		}
		if e.softViolation(ctx, res.Violated) {
			scores[k.ID] *= softBudgetPenalty
			penalized[k.ID] = true
		}
		kept = append(kept, k)
	}
	return kept, penalized
}

// softViolation reports whether any of the violated budgets is
// soft-enforced.
func (e *Engine) softViolation(ctx context.Context, violated []string) bool {
	for _, id := range violated {
		b, err := e.costs.GetBudget(ctx, id)
		if err != nil {
			continue
		}
		if b.Enforcement == cost.EnforcementSoft {
			return true
		}
	}
	return false
}

// alternatives lists the top non-selected candidates by final score,
// each with the reason it lost.
func (e *Engine) alternatives(kept []*state.Key, selectedID string, selectedScore float64, scores map[string]float64, penalized map[string]bool, quotaStates map[string]*state.QuotaState) []state.Alternative {
	if e.maxAlternatives == 0 {
		return nil
	}
	others := make([]*state.Key, 0, len(kept))
	for _, k := range kept {
		if k.ID == selectedID {
			continue
		}
		if _, ok := scores[k.ID]; !ok {
			continue
		}
		others = append(others, k)
	}
	sort.Slice(others, func(i, j int) bool {
		si, sj := scores[others[i].ID], scores[others[j].ID]
		if si != sj {
			return si > sj
		}
		return others[i].ID < others[j].ID
	})
	if len(others) > e.maxAlternatives {
		others = others[:e.maxAlternatives]
	}

	out := make([]state.Alternative, 0, len(others))
	for _, k := range others {
		out = append(out, state.Alternative{
			KeyID:      k.ID,
			ProviderID: k.ProviderID,
			Score:      scores[k.ID],
			Reason:     lossReason(scores[k.ID], selectedScore, penalized[k.ID], quotaStates[k.ID]),
		})
	}
	return out
}

// lossReason explains why an alternative was not selected.
func lossReason(score, selected float64, penalized bool, qs *state.QuotaState) string {
	switch {
	case penalized:
		return fmt.Sprintf("soft budget penalty, scored %.2f", score)
	case qs != nil && quota.Multiplier(qs.CapacityState) < 1:
		return fmt.Sprintf("%s quota, scored %.2f against %.2f", qs.CapacityState, score, selected)
	default:
		return fmt.Sprintf("scored %.2f against %.2f", score, selected)
	}
}

// noEligible records the empty outcome in metrics and logs, then returns
// the error.
func (e *Engine) noEligible(ctx context.Context, providerID string, strat strategies.Strategy, start time.Time, rerr *NoEligibleKeysError) error {
	if e.metrics != nil {
		e.metrics.RecordDecision(providerID, strat.Kind().String(), "no_eligible_keys", e.clock.Now().Sub(start), rerr.Considered)
	}
	e.logger.WithContext(ctx).Warn("no eligible keys",
		"provider_id", providerID,
		"stage", rerr.Stage,
		"considered", rerr.Considered)
	return rerr
}

// metadataCost reads the per-request cost hint from key metadata.
func metadataCost(k *state.Key) (decimal.Decimal, bool) {
	if k.Metadata == nil {
		return decimal.Zero, false
	}
	switch v := k.Metadata[metadataCostKey].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		if v < 0 {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case int:
		if v < 0 {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(int64(v)), true
	case int64:
		if v < 0 {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(v), true
	}
	return decimal.Zero, false
}

func keyIDs(keys []*state.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.ID
	}
	return out
}
