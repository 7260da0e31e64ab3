package state

import (
	"fmt"
	"time"
)

// CapacityState is the discrete summary of a key's remaining capacity.
type CapacityState string

const (
	// CapacityAbundant: remaining is at least 80% of total.
	CapacityAbundant CapacityState = "abundant"

	// CapacityConstrained: remaining is at least 50% of total.
	CapacityConstrained CapacityState = "constrained"

	// CapacityCritical: remaining is at least 20% of total.
	CapacityCritical CapacityState = "critical"

	// CapacityExhausted: remaining is below 20% of total. Exhausted keys
	// are filtered out of routing until reset.
	CapacityExhausted CapacityState = "exhausted"

	// CapacityRecovering: the window is spent but the reset instant is
	// near; keys may route again at a reduced score.
	CapacityRecovering CapacityState = "recovering"
)

// Valid reports whether s is a recognized capacity state.
func (s CapacityState) Valid() bool {
	switch s {
	case CapacityAbundant, CapacityConstrained, CapacityCritical,
		CapacityExhausted, CapacityRecovering:
		return true
	}
	return false
}

func (s CapacityState) String() string { return string(s) }

// CapacityUnit says what the quota counters count.
type CapacityUnit string

const (
	UnitRequests CapacityUnit = "requests"
	UnitTokens   CapacityUnit = "tokens"

	// UnitMixed tracks requests and tokens side by side. The token-side
	// fields of QuotaState are populated only for this unit.
	UnitMixed CapacityUnit = "mixed"
)

// TimeWindow is a quota or budget accounting period.
type TimeWindow string

const (
	WindowHourly  TimeWindow = "hourly"
	WindowDaily   TimeWindow = "daily"
	WindowMonthly TimeWindow = "monthly"
	WindowCustom  TimeWindow = "custom"
)

// Valid reports whether w is a recognized window.
func (w TimeWindow) Valid() bool {
	switch w {
	case WindowHourly, WindowDaily, WindowMonthly, WindowCustom:
		return true
	}
	return false
}

// NextReset returns the first window boundary after now. Custom windows
// advance by the supplied duration; the other windows align to the wall
// clock (top of hour, midnight UTC, first of month).
func (w TimeWindow) NextReset(now time.Time, custom time.Duration) time.Time {
	now = now.UTC()
	switch w {
	case WindowHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case WindowDaily:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case WindowMonthly:
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	case WindowCustom:
		if custom <= 0 {
			custom = time.Hour
		}
		return now.Add(custom)
	default:
		return now.Add(time.Hour)
	}
}

// EstimateKind discriminates the shape of a CapacityEstimate.
type EstimateKind string

const (
	EstimateExact   EstimateKind = "exact"
	EstimateRange   EstimateKind = "range"
	EstimateAtLeast EstimateKind = "at_least"
	EstimateAtMost  EstimateKind = "at_most"
	EstimateUnknown EstimateKind = "unknown"
)

// Estimation method tags recorded on capacity estimates.
const (
	MethodProviderReported = "provider_reported"
	MethodHeaderDerived    = "header_derived"
	MethodHeuristic        = "heuristic"
	MethodDefault          = "default"
)

// CapacityEstimate is a remaining-capacity value that may be exact, a bounded
// range, a one-sided bound, or unknown. Every shape carries a confidence in
// [0, 1] and a method tag; consumers switch on Kind rather than assuming a
// number exists.
type CapacityEstimate struct {
	Kind EstimateKind `json:"kind"`

	// Value holds the exact amount (Kind == exact).
	Value int64 `json:"value,omitempty"`

	// Min and Max bound the amount (Kind == range).
	Min int64 `json:"min,omitempty"`
	Max int64 `json:"max,omitempty"`

	// Bound holds the one-sided limit (Kind == at_least or at_most).
	Bound int64 `json:"bound,omitempty"`

	// Confidence in the estimate, 0 to 1.
	Confidence float64 `json:"confidence"`

	// Method tags how the estimate was produced.
	Method string `json:"method,omitempty"`

	// VerifiedAt is when the estimate was last confirmed against the
	// provider, if ever.
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Exact builds an exact estimate.
func Exact(v int64, confidence float64, method string) CapacityEstimate {
	return CapacityEstimate{Kind: EstimateExact, Value: v, Confidence: confidence, Method: method}
}

// Between builds a bounded-range estimate.
func Between(min, max int64, confidence float64, method string) CapacityEstimate {
	if max < min {
		min, max = max, min
	}
	return CapacityEstimate{Kind: EstimateRange, Min: min, Max: max, Confidence: confidence, Method: method}
}

// AtLeast builds a lower-bound estimate.
func AtLeast(v int64, confidence float64, method string) CapacityEstimate {
	return CapacityEstimate{Kind: EstimateAtLeast, Bound: v, Confidence: confidence, Method: method}
}

// AtMost builds an upper-bound estimate.
func AtMost(v int64, confidence float64, method string) CapacityEstimate {
	return CapacityEstimate{Kind: EstimateAtMost, Bound: v, Confidence: confidence, Method: method}
}

// UnknownCapacity builds the unknown estimate.
func UnknownCapacity() CapacityEstimate {
	return CapacityEstimate{Kind: EstimateUnknown, Method: MethodDefault}
}

// Amount collapses the estimate to a single usable number. Range estimates
// report their midpoint, one-sided bounds report the bound. The second
// return is false for unknown estimates.
func (e CapacityEstimate) Amount() (int64, bool) {
	switch e.Kind {
	case EstimateExact:
		return e.Value, true
	case EstimateRange:
		return e.Min + (e.Max-e.Min)/2, true
	case EstimateAtLeast, EstimateAtMost:
		return e.Bound, true
	default:
		return 0, false
	}
}

// Known reports whether the estimate carries a usable number.
func (e CapacityEstimate) Known() bool {
	_, ok := e.Amount()
	return ok
}

func (e CapacityEstimate) String() string {
	switch e.Kind {
	case EstimateExact:
		return fmt.Sprintf("%d", e.Value)
	case EstimateRange:
		return fmt.Sprintf("%d-%d", e.Min, e.Max)
	case EstimateAtLeast:
		return fmt.Sprintf(">=%d", e.Bound)
	case EstimateAtMost:
		return fmt.Sprintf("<=%d", e.Bound)
	default:
		return "unknown"
	}
}

// QuotaState tracks remaining capacity for one key. At most one exists per
// key; stores upsert by KeyID. The token-side fields are populated only when
// Unit is mixed.
type QuotaState struct {
	ID    string `json:"id"`
	KeyID string `json:"key_id"`

	// CapacityState is derived from Remaining/Total by the quota engine.
	CapacityState CapacityState `json:"capacity_state"`

	Unit CapacityUnit `json:"unit"`

	// Remaining capacity in the window, as an estimate.
	Remaining CapacityEstimate `json:"remaining"`

	// Total capacity for the window, nil when the provider never told us.
	Total *int64 `json:"total,omitempty"`

	// Used counts consumption in the current window.
	Used int64 `json:"used"`

	// Token-side counters, unit == mixed only.
	TokensRemaining *CapacityEstimate `json:"tokens_remaining,omitempty"`
	TokensTotal     *int64            `json:"tokens_total,omitempty"`
	TokensUsed      int64             `json:"tokens_used"`

	Window TimeWindow `json:"window"`

	// CustomWindow is the period length when Window is custom.
	CustomWindow time.Duration `json:"custom_window,omitempty"`

	// ResetAt is the next window boundary.
	ResetAt time.Time `json:"reset_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (q *QuotaState) Clone() *QuotaState {
	if q == nil {
		return nil
	}
	out := *q
	if q.Total != nil {
		v := *q.Total
		out.Total = &v
	}
	if q.TokensRemaining != nil {
		e := *q.TokensRemaining
		if q.TokensRemaining.VerifiedAt != nil {
			t := *q.TokensRemaining.VerifiedAt
			e.VerifiedAt = &t
		}
		out.TokensRemaining = &e
	}
	if q.TokensTotal != nil {
		v := *q.TokensTotal
		out.TokensTotal = &v
	}
	if q.Remaining.VerifiedAt != nil {
		t := *q.Remaining.VerifiedAt
		out.Remaining.VerifiedAt = &t
	}
	return &out
}
