package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/state"
)

// Type classifies what a policy governs.
type Type string

// Policy types.
const (
	// TypeRouting policies filter and steer candidate selection.
	TypeRouting Type = "routing"

	// TypeKeySelection policies constrain which keys may serve at all.
	TypeKeySelection Type = "key_selection"

	// TypeCostControl policies carry cost ceilings.
	TypeCostControl Type = "cost_control"
)

// Valid reports whether t is a known policy type.
func (t Type) Valid() bool {
	switch t {
	case TypeRouting, TypeKeySelection, TypeCostControl:
		return true
	}
	return false
}

// Scope is the blast radius of a policy.
type Scope string

// Policy scopes.
const (
	ScopeGlobal      Scope = "global"
	ScopePerProvider Scope = "per_provider"
	ScopePerTeam     Scope = "per_team"
	ScopePerKey      Scope = "per_key"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopePerProvider, ScopePerTeam, ScopePerKey:
		return true
	}
	return false
}

// Rules is the closed set of rule fields a policy may carry. Nil or empty
// fields are inert.
type Rules struct {
	// BlockedProviders drops candidates belonging to these providers.
	BlockedProviders []string `json:"blocked_providers,omitempty" yaml:"blocked_providers,omitempty"`

	// PreferredProviders records a steering preference merged into the
	// routing objective; it never drops candidates.
	PreferredProviders []string `json:"preferred_providers,omitempty" yaml:"preferred_providers,omitempty"`

	// BlockedRegions drops candidates whose metadata region matches.
	BlockedRegions []string `json:"blocked_regions,omitempty" yaml:"blocked_regions,omitempty"`

	// PreferredRegions records a steering preference, like
	// PreferredProviders.
	PreferredRegions []string `json:"preferred_regions,omitempty" yaml:"preferred_regions,omitempty"`

	// MinReliability drops candidates whose observed success rate falls
	// below the floor. Keys that have never been used pass: unknown is
	// treated as good.
	MinReliability *float64 `json:"min_reliability,omitempty" yaml:"min_reliability,omitempty"`

	// MinSuccessRate is an alternate spelling of the same floor kept for
	// configs that name it this way; when both are set the stricter one
	// wins.
	MinSuccessRate *float64 `json:"min_success_rate,omitempty" yaml:"min_success_rate,omitempty"`

	// MaxCostPerRequest drops candidates whose estimated request cost
	// exceeds the ceiling, and is merged forward as a hard constraint.
	MaxCostPerRequest *decimal.Decimal `json:"max_cost_per_request,omitempty" yaml:"max_cost_per_request,omitempty"`
}

// Empty reports whether no rule field is set.
func (r Rules) Empty() bool {
	return len(r.BlockedProviders) == 0 &&
		len(r.PreferredProviders) == 0 &&
		len(r.BlockedRegions) == 0 &&
		len(r.PreferredRegions) == 0 &&
		r.MinReliability == nil &&
		r.MinSuccessRate == nil &&
		r.MaxCostPerRequest == nil
}

// reliabilityFloor returns the effective floor, the stricter of the two
// spellings, and whether any floor is set.
func (r Rules) reliabilityFloor() (float64, bool) {
	switch {
	case r.MinReliability != nil && r.MinSuccessRate != nil:
		if *r.MinReliability > *r.MinSuccessRate {
			return *r.MinReliability, true
		}
		return *r.MinSuccessRate, true
	case r.MinReliability != nil:
		return *r.MinReliability, true
	case r.MinSuccessRate != nil:
		return *r.MinSuccessRate, true
	default:
		return 0, false
	}
}

// Policy binds rules to a scope, type, and priority.
type Policy struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	Type  Type  `json:"type" yaml:"type"`
	Scope Scope `json:"scope" yaml:"scope"`

	// ScopeID narrows a non-global scope to one provider, team, or key.
	// Empty means the policy applies to the whole scope family.
	ScopeID string `json:"scope_id,omitempty" yaml:"scope_id,omitempty"`

	// Priority orders evaluation; higher evaluates first. Equal
	// priorities keep creation order.
	Priority int `json:"priority" yaml:"priority"`

	Rules Rules `json:"rules" yaml:"rules"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := *p
	out.Rules.BlockedProviders = append([]string(nil), p.Rules.BlockedProviders...)
	out.Rules.PreferredProviders = append([]string(nil), p.Rules.PreferredProviders...)
	out.Rules.BlockedRegions = append([]string(nil), p.Rules.BlockedRegions...)
	out.Rules.PreferredRegions = append([]string(nil), p.Rules.PreferredRegions...)
	if p.Rules.MinReliability != nil {
		v := *p.Rules.MinReliability
		out.Rules.MinReliability = &v
	}
	if p.Rules.MinSuccessRate != nil {
		v := *p.Rules.MinSuccessRate
		out.Rules.MinSuccessRate = &v
	}
	if p.Rules.MaxCostPerRequest != nil {
		v := *p.Rules.MaxCostPerRequest
		out.Rules.MaxCostPerRequest = &v
	}
	return &out
}

// validate checks the policy's invariants.
func (p *Policy) validate() error {
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "required"}
	}
	if !p.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown type " + string(p.Type)}
	}
	if !p.Scope.Valid() {
		return &ValidationError{Field: "scope", Message: "unknown scope " + string(p.Scope)}
	}
	if p.Scope == ScopeGlobal && p.ScopeID != "" {
		return &ValidationError{Field: "scope_id", Message: "must be empty for global scope"}
	}
	if f := p.Rules.MinReliability; f != nil && (*f < 0 || *f > 1) {
		return &ValidationError{Field: "min_reliability", Message: "must be in [0, 1]"}
	}
	if f := p.Rules.MinSuccessRate; f != nil && (*f < 0 || *f > 1) {
		return &ValidationError{Field: "min_success_rate", Message: "must be in [0, 1]"}
	}
	if c := p.Rules.MaxCostPerRequest; c != nil && !c.IsPositive() {
		return &ValidationError{Field: "max_cost_per_request", Message: "must be positive"}
	}
	return nil
}

// EvaluationContext carries everything one evaluation reads.
type EvaluationContext struct {
	// Candidates are the keys under consideration.
	Candidates []*state.Key

	// ProviderID is the provider the request targets.
	ProviderID string

	// Model is the requested model, for explanation text.
	Model string

	// EstimatedCost is the request-level cost estimate applied to every
	// candidate that has no per-key figure.
	EstimatedCost decimal.Decimal

	// KeyCosts overrides EstimatedCost per key id when the caller has
	// key-specific estimates.
	KeyCosts map[string]decimal.Decimal
}

// CostFor returns the estimated cost attributed to one candidate.
func (c *EvaluationContext) CostFor(keyID string) decimal.Decimal {
	if c.KeyCosts != nil {
		if v, ok := c.KeyCosts[keyID]; ok {
			return v
		}
	}
	return c.EstimatedCost
}

// Constraints accumulate across evaluated policies. Preferences merge by
// union; the cost ceiling keeps the tightest value seen.
type Constraints struct {
	PreferredProviders []string         `json:"preferred_providers,omitempty"`
	PreferredRegions   []string         `json:"preferred_regions,omitempty"`
	MaxCostPerRequest  *decimal.Decimal `json:"max_cost_per_request,omitempty"`
}

// merge folds other into c.
func (c *Constraints) merge(other Constraints) {
	c.PreferredProviders = unionStrings(c.PreferredProviders, other.PreferredProviders)
	c.PreferredRegions = unionStrings(c.PreferredRegions, other.PreferredRegions)
	if other.MaxCostPerRequest != nil {
		if c.MaxCostPerRequest == nil || other.MaxCostPerRequest.LessThan(*c.MaxCostPerRequest) {
			v := *other.MaxCostPerRequest
			c.MaxCostPerRequest = &v
		}
	}
}

// PrefersProvider reports whether the provider is preferred.
func (c Constraints) PrefersProvider(providerID string) bool {
	return containsString(c.PreferredProviders, providerID)
}

// PrefersRegion reports whether the region is preferred.
func (c Constraints) PrefersRegion(region string) bool {
	return region != "" && containsString(c.PreferredRegions, region)
}

// Evaluation is the outcome of applying one or more policies to a
// candidate set.
type Evaluation struct {
	// Allowed is false when every candidate was filtered out.
	Allowed bool `json:"allowed"`

	// Reason explains a refusal, empty when allowed.
	Reason string `json:"reason,omitempty"`

	// AppliedPolicies lists the policy ids that took part, in
	// evaluation order.
	AppliedPolicies []string `json:"applied_policies,omitempty"`

	// Constraints are the merged steering constraints.
	Constraints Constraints `json:"constraints"`

	// FilteredKeys are the surviving candidates.
	FilteredKeys []*state.Key `json:"-"`
}

// KeyRegion extracts the region a key claims in its metadata, empty when
// unset or not a string.
func KeyRegion(k *state.Key) string {
	if k == nil || k.Metadata == nil {
		return ""
	}
	region, _ := k.Metadata["region"].(string)
	return region
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	out := a
	for _, v := range b {
		if !containsString(out, v) {
			out = append(out, v)
		}
	}
	return out
}
