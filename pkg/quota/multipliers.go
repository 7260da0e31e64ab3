package quota

import (
	"northstar-hq/polaris/pkg/state"
)

// Score multipliers per capacity state. Exhausted keys are filtered out
// before scoring, so no multiplier exists for them.
var multipliers = map[state.CapacityState]float64{
	state.CapacityAbundant:    1.20,
	state.CapacityConstrained: 0.85,
	state.CapacityCritical:    0.70,
	state.CapacityRecovering:  0.50,
}

// Multiplier returns the score multiplier for a capacity state, 1.0 for
// anything unrecognized.
func Multiplier(s state.CapacityState) float64 {
	if m, ok := multipliers[s]; ok {
		return m
	}
	return 1.0
}

// ApplyQuotaMultipliers scales each key's score by its capacity state's
// multiplier. Keys without a quota state keep their score. Returns a new
// map; the input is not mutated.
func ApplyQuotaMultipliers(scores map[string]float64, states map[string]*state.QuotaState) map[string]float64 {
	adjusted := make(map[string]float64, len(scores))
	for keyID, score := range scores {
		m := 1.0
		if qs, ok := states[keyID]; ok && qs != nil {
			m = Multiplier(qs.CapacityState)
		}
		adjusted[keyID] = score * m
	}
	return adjusted
}
