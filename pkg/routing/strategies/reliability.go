package strategies

import (
	"fmt"

	"northstar-hq/polaris/pkg/quota"
	"northstar-hq/polaris/pkg/state"
)

// neutralSuccessRate is assumed for keys that have never served a
// request: unknown history is treated as slightly worse than perfect so
// proven keys keep a small edge.
const neutralSuccessRate = 0.95

// Reliability scores candidates by observed success rate, discounted by
// lifecycle state and nudged by quota capacity.
type Reliability struct{}

// NewReliability creates the reliability-optimized strategy.
func NewReliability() Reliability { return Reliability{} }

// Kind implements Strategy.
func (Reliability) Kind() state.ObjectiveKind { return state.ObjectiveReliability }

// Score implements Strategy. The raw figure is success rate times a
// state discount, plus the quota multiplier's delta applied additively
// before normalization so capacity already shades the ranking here.
func (Reliability) Score(sctx *ScoreContext) map[string]float64 {
	raw := make(map[string]float64, len(sctx.Keys))
	for _, k := range sctx.Keys {
		score := successRate(k) * stateDiscount(k.State)
		if qs, ok := sctx.Quota[k.ID]; ok && qs != nil {
			score += quota.Multiplier(qs.CapacityState) - 1.0
		}
		raw[k.ID] = score
	}
	return normalize(raw)
}

// Select implements Strategy.
func (Reliability) Select(sctx *ScoreContext, scores map[string]float64) (string, float64) {
	return SelectKey(sctx.Keys, scores)
}

// Explain implements Strategy.
func (Reliability) Explain(sctx *ScoreContext, selected string, scores map[string]float64) string {
	for _, k := range sctx.Keys {
		if k.ID != selected {
			continue
		}
		successes := k.UsageCount - k.FailureCount
		if successes < 0 {
			successes = 0
		}
		if k.UsageCount == 0 {
			return fmt.Sprintf("reliability-optimized: selected %s, unused with assumed success rate %.2f, from %d candidates",
				selected, neutralSuccessRate, len(scores))
		}
		return fmt.Sprintf("reliability-optimized: selected %s with success rate %.2f (%d successes, %d failures) from %d candidates",
			selected, k.SuccessRate(), successes, k.FailureCount, len(scores))
	}
	return fmt.Sprintf("reliability-optimized: selected %s from %d candidates", selected, len(scores))
}

func successRate(k *state.Key) float64 {
	if k.UsageCount == 0 {
		return neutralSuccessRate
	}
	return k.SuccessRate()
}

// stateDiscount shades the success rate by lifecycle state. Only
// routable states appear here; a throttled candidate implies its
// cooldown already elapsed.
func stateDiscount(s state.KeyState) float64 {
	switch s {
	case state.KeyStateAvailable:
		return 1.0
	case state.KeyStateRecovering:
		return 0.85
	case state.KeyStateThrottled:
		return 0.7
	default:
		return 0.5
	}
}
