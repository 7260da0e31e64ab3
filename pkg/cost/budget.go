package cost

import (
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/state"
)

// Scope says which spend a budget accumulates.
type Scope string

const (
	ScopeGlobal      Scope = "global"
	ScopePerProvider Scope = "per_provider"
	ScopePerKey      Scope = "per_key"
	ScopePerTeam     Scope = "per_team"
)

// Valid reports whether s is a recognized scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopePerProvider, ScopePerKey, ScopePerTeam:
		return true
	}
	return false
}

// Enforcement is what happens when a budget would be exceeded.
type Enforcement string

const (
	// EnforcementHard refuses the request.
	EnforcementHard Enforcement = "hard"

	// EnforcementSoft allows the request but records the violation.
	EnforcementSoft Enforcement = "soft"

	// EnforcementAdvisory only logs.
	EnforcementAdvisory Enforcement = "advisory"
)

// Valid reports whether e is a recognized enforcement mode.
func (e Enforcement) Valid() bool {
	switch e {
	case EnforcementHard, EnforcementSoft, EnforcementAdvisory:
		return true
	}
	return false
}

// Budget is one spending limit over a fixed accounting period.
type Budget struct {
	ID string `json:"id"`

	Scope Scope `json:"scope"`

	// ScopeID is the provider, key, or team the budget binds to.
	// Required for every scope except global, where it must be empty.
	ScopeID string `json:"scope_id,omitempty"`

	// Limit is the spend ceiling for one period.
	Limit decimal.Decimal `json:"limit"`

	Currency string `json:"currency"`

	Period state.TimeWindow `json:"period"`

	// CustomPeriod is the period length when Period is custom.
	CustomPeriod time.Duration `json:"custom_period,omitempty"`

	// CurrentSpend accumulates actual cost within the period. Never
	// negative; resets to zero on rollover.
	CurrentSpend decimal.Decimal `json:"current_spend"`

	PeriodStart time.Time `json:"period_start"`

	Enforcement Enforcement `json:"enforcement"`

	// AlertThreshold is the utilization fraction, strictly between 0
	// and 1, at which budget_threshold_crossed fires.
	AlertThreshold float64 `json:"alert_threshold"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopeRef names what one request touches, for budget matching.
type ScopeRef struct {
	ProviderID string
	KeyID      string
	TeamID     string
}

// Matches reports whether the budget accumulates spend for ref.
func (b *Budget) Matches(ref ScopeRef) bool {
	switch b.Scope {
	case ScopeGlobal:
		return true
	case ScopePerProvider:
		return b.ScopeID != "" && b.ScopeID == ref.ProviderID
	case ScopePerKey:
		return b.ScopeID != "" && b.ScopeID == ref.KeyID
	case ScopePerTeam:
		return b.ScopeID != "" && b.ScopeID == ref.TeamID
	default:
		return false
	}
}

// PeriodEnd returns the instant the current period closes.
func (b *Budget) PeriodEnd() time.Time {
	switch b.Period {
	case state.WindowHourly:
		return b.PeriodStart.Add(time.Hour)
	case state.WindowDaily:
		return b.PeriodStart.Add(24 * time.Hour)
	case state.WindowMonthly:
		return b.PeriodStart.AddDate(0, 1, 0)
	case state.WindowCustom:
		period := b.CustomPeriod
		if period <= 0 {
			period = time.Hour
		}
		return b.PeriodStart.Add(period)
	default:
		return b.PeriodStart.Add(time.Hour)
	}
}

// Remaining returns limit minus current spend. Negative when the budget
// is already over.
func (b *Budget) Remaining() decimal.Decimal {
	return b.Limit.Sub(b.CurrentSpend)
}

// Utilization returns current spend over limit, in [0, inf).
func (b *Budget) Utilization() float64 {
	if b.Limit.IsZero() {
		return 0
	}
	ratio, _ := b.CurrentSpend.Div(b.Limit).Float64()
	return ratio
}

// Clone returns a deep copy.
func (b *Budget) Clone() *Budget {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

// validate checks the budget's invariants before it is accepted.
func (b *Budget) validate() error {
	if !b.Scope.Valid() {
		return &ValidationError{Field: "scope", Message: "unknown scope " + string(b.Scope)}
	}
	if b.Scope == ScopeGlobal && b.ScopeID != "" {
		return &ValidationError{Field: "scope_id", Message: "must be empty for global scope"}
	}
	if b.Scope != ScopeGlobal && b.ScopeID == "" {
		return &ValidationError{Field: "scope_id", Message: "required for scope " + string(b.Scope)}
	}
	if !b.Limit.IsPositive() {
		return &ValidationError{Field: "limit", Message: "must be positive"}
	}
	if !b.Period.Valid() {
		return &ValidationError{Field: "period", Message: "unknown period " + string(b.Period)}
	}
	if b.Period == state.WindowCustom && b.CustomPeriod <= 0 {
		return &ValidationError{Field: "custom_period", Message: "required for custom period"}
	}
	if !b.Enforcement.Valid() {
		return &ValidationError{Field: "enforcement", Message: "unknown mode " + string(b.Enforcement)}
	}
	if b.AlertThreshold <= 0 || b.AlertThreshold >= 1 {
		return &ValidationError{Field: "alert_threshold", Message: "must be strictly between 0 and 1"}
	}
	return nil
}
