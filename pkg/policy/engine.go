package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
)

// Options carries the engine's collaborators. Everything has a default.
type Options struct {
	Clock   clock.Clock
	IDs     clock.IDSource
	Emitter events.Emitter
	Logger  *logging.Logger
}

// Engine stores policies and evaluates them. Evaluation takes a read
// lock only; policy CRUD is the sole writer.
type Engine struct {
	clock   clock.Clock
	ids     clock.IDSource
	emitter events.Emitter
	logger  *logging.Logger

	mu       sync.RWMutex
	policies map[string]*Policy
	// order holds policy ids in creation order, the tie-break for equal
	// priorities.
	order []string
}

// NewEngine creates a policy engine from opts.
func NewEngine(opts Options) *Engine {
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
	return &Engine{
		clock:    opts.Clock,
		ids:      opts.IDs,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
		policies: make(map[string]*Policy),
	}
}

// Create validates and registers a policy. A missing id is assigned.
func (e *Engine) Create(ctx context.Context, p *Policy) (*Policy, error) {
	if p == nil {
		return nil, &ValidationError{Field: "policy", Message: "must not be nil"}
	}
	policy := p.Clone()
	if err := policy.validate(); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if policy.ID == "" {
		policy.ID = e.ids.NewID()
	}
	policy.CreatedAt = now
	policy.UpdatedAt = now

	e.mu.Lock()
	if _, exists := e.policies[policy.ID]; exists {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "id", Message: fmt.Sprintf("policy %q already exists", policy.ID)}
	}
	e.policies[policy.ID] = policy
	e.order = append(e.order, policy.ID)
	e.mu.Unlock()

	e.emitPolicyUpdated(ctx, policy, "created")
	return policy.Clone(), nil
}

// Get returns the policy by id.
func (e *Engine) Get(ctx context.Context, id string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return p.Clone(), nil
}

// List returns every policy in creation order.
func (e *Engine) List(ctx context.Context) []*Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Policy, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.policies[id].Clone())
	}
	return out
}

// Update replaces an existing policy's fields, keeping its creation slot
// so priority ties keep resolving the same way.
func (e *Engine) Update(ctx context.Context, p *Policy) (*Policy, error) {
	if p == nil || p.ID == "" {
		return nil, &ValidationError{Field: "id", Message: "required for update"}
	}
	policy := p.Clone()
	if err := policy.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	existing, ok := e.policies[policy.ID]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{ID: policy.ID}
	}
	policy.CreatedAt = existing.CreatedAt
	policy.UpdatedAt = e.clock.Now()
	e.policies[policy.ID] = policy
	e.mu.Unlock()

	e.emitPolicyUpdated(ctx, policy, "updated")
	return policy.Clone(), nil
}

// Delete removes the policy.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	p, ok := e.policies[id]
	if !ok {
		e.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	delete(e.policies, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.emitPolicyUpdated(ctx, p, "deleted")
	return nil
}

// Applicable returns the enabled policies of the given type that cover
// the scope, sorted by descending priority with creation order breaking
// ties. Global policies always apply; scoped policies apply when their
// scope matches and their scope id is empty or equal to scopeID.
func (e *Engine) Applicable(ctx context.Context, typ Type, scope Scope, scopeID string) []*Policy {
	e.mu.RLock()
	type slot struct {
		policy  *Policy
		created int
	}
	var matched []slot
	for i, id := range e.order {
		p := e.policies[id]
		if !p.Enabled || p.Type != typ {
			continue
		}
		switch {
		case p.Scope == ScopeGlobal:
		case p.Scope == scope && (p.ScopeID == "" || p.ScopeID == scopeID):
		default:
			continue
		}
		matched = append(matched, slot{policy: p, created: i})
	}
	e.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].policy.Priority != matched[j].policy.Priority {
			return matched[i].policy.Priority > matched[j].policy.Priority
		}
		return matched[i].created < matched[j].created
	})

	out := make([]*Policy, len(matched))
	for i, s := range matched {
		out[i] = s.policy.Clone()
	}
	return out
}

// Evaluate applies one policy to the context's candidates.
func (e *Engine) Evaluate(ctx context.Context, p *Policy, ectx *EvaluationContext) *Evaluation {
	result := &Evaluation{
		Allowed:         true,
		AppliedPolicies: []string{p.ID},
	}
	result.FilteredKeys, result.Constraints = e.applyRules(p, ectx, ectx.Candidates)

	if len(result.FilteredKeys) == 0 && len(ectx.Candidates) > 0 {
		result.Allowed = false
		result.Reason = fmt.Sprintf("policy %s (%s) filtered all %d candidates", p.ID, p.Name, len(ectx.Candidates))
	}
	return result
}

// EvaluateAll chains policies in order: each policy sees the survivors of
// the previous one, constraints merge across all of them, and the first
// policy to empty the set stops evaluation with Allowed false.
func (e *Engine) EvaluateAll(ctx context.Context, policies []*Policy, ectx *EvaluationContext) *Evaluation {
	result := &Evaluation{
		Allowed:      true,
		FilteredKeys: ectx.Candidates,
	}
	survivors := ectx.Candidates

	for _, p := range policies {
		kept, constraints := e.applyRules(p, ectx, survivors)
		result.AppliedPolicies = append(result.AppliedPolicies, p.ID)
		result.Constraints.merge(constraints)

		if len(kept) == 0 && len(survivors) > 0 {
			result.Allowed = false
			result.Reason = fmt.Sprintf("policy %s (%s) filtered all %d candidates", p.ID, p.Name, len(survivors))
			result.FilteredKeys = nil
			e.logger.Debug("policy evaluation rejected request",
				"policy_id", p.ID,
				"provider_id", ectx.ProviderID,
				"candidates", len(survivors),
			)
			return result
		}
		survivors = kept
	}

	result.FilteredKeys = survivors
	return result
}

// applyRules runs one policy's rules over the candidates and returns the
// survivors plus the constraints the policy contributes.
func (e *Engine) applyRules(p *Policy, ectx *EvaluationContext, candidates []*state.Key) ([]*state.Key, Constraints) {
	constraints := Constraints{
		PreferredProviders: append([]string(nil), p.Rules.PreferredProviders...),
		PreferredRegions:   append([]string(nil), p.Rules.PreferredRegions...),
	}
	if p.Rules.MaxCostPerRequest != nil {
		v := *p.Rules.MaxCostPerRequest
		constraints.MaxCostPerRequest = &v
	}

	floor, hasFloor := p.Rules.reliabilityFloor()

	kept := make([]*state.Key, 0, len(candidates))
	for _, k := range candidates {
		if containsString(p.Rules.BlockedProviders, k.ProviderID) {
			e.logger.Debug("policy dropped candidate",
				"policy_id", p.ID, "key_id", k.ID, "rule", "blocked_providers")
			continue
		}
		if region := KeyRegion(k); region != "" && containsString(p.Rules.BlockedRegions, region) {
			e.logger.Debug("policy dropped candidate",
				"policy_id", p.ID, "key_id", k.ID, "rule", "blocked_regions")
			continue
		}
		// Unused keys pass the reliability floor: no evidence, no
		// verdict.
		if hasFloor && k.UsageCount > 0 && k.SuccessRate() < floor {
			e.logger.Debug("policy dropped candidate",
				"policy_id", p.ID, "key_id", k.ID, "rule", "min_reliability",
				"success_rate", k.SuccessRate())
			continue
		}
		if p.Rules.MaxCostPerRequest != nil && ectx.CostFor(k.ID).GreaterThan(*p.Rules.MaxCostPerRequest) {
			e.logger.Debug("policy dropped candidate",
				"policy_id", p.ID, "key_id", k.ID, "rule", "max_cost_per_request")
			continue
		}
		kept = append(kept, k)
	}
	return kept, constraints
}

func (e *Engine) emitPolicyUpdated(ctx context.Context, p *Policy, action string) {
	e.emitter.Emit(ctx, events.Event{
		Name:      events.PolicyUpdated,
		Timestamp: e.clock.Now(),
		Fields: map[string]any{
			"policy_id": p.ID,
			"action":    action,
			"type":      string(p.Type),
			"scope":     string(p.Scope),
			"enabled":   p.Enabled,
		},
	})
	e.logger.Info("policy "+action,
		"policy_id", p.ID,
		"name", p.Name,
		"type", p.Type,
		"scope", p.Scope,
		"priority", p.Priority,
	)
}
