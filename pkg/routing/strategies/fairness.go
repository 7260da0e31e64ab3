package strategies

import (
	"fmt"

	"northstar-hq/polaris/pkg/state"
)

// Fairness spreads load evenly: keys that have carried less of the pool's
// traffic score higher, and equal scores rotate to the key after the
// previous selection so no candidate starves.
type Fairness struct{}

// NewFairness creates the fairness strategy.
func NewFairness() Fairness { return Fairness{} }

// Kind implements Strategy.
func (Fairness) Kind() state.ObjectiveKind { return state.ObjectiveFairness }

// Score implements Strategy. The raw figure is the inverse of the key's
// share of pool usage; an unused pool scores everyone equal.
func (Fairness) Score(sctx *ScoreContext) map[string]float64 {
	var pool int64
	for _, k := range sctx.Keys {
		pool += k.UsageCount
	}

	raw := make(map[string]float64, len(sctx.Keys))
	for _, k := range sctx.Keys {
		if pool == 0 {
			raw[k.ID] = 1.0
			continue
		}
		raw[k.ID] = 1.0 - float64(k.UsageCount)/float64(pool)
	}
	return normalize(raw)
}

// Select implements Strategy. Among the top-scoring candidates it picks
// the one immediately after LastSelected in the stable input order,
// wrapping around; without a usable cursor it falls back to the shared
// tie-break.
func (Fairness) Select(sctx *ScoreContext, scores map[string]float64) (string, float64) {
	top := topScore(scores)
	if sctx.LastSelected != "" {
		cursor := -1
		for i, k := range sctx.Keys {
			if k.ID == sctx.LastSelected {
				cursor = i
				break
			}
		}
		if cursor >= 0 {
			n := len(sctx.Keys)
			for step := 1; step <= n; step++ {
				k := sctx.Keys[(cursor+step)%n]
				score, ok := scores[k.ID]
				if !ok {
					continue
				}
				if score >= top-scoreEpsilon {
					return k.ID, score
				}
			}
		}
	}
	return SelectKey(sctx.Keys, scores)
}

// Explain implements Strategy.
func (Fairness) Explain(sctx *ScoreContext, selected string, scores map[string]float64) string {
	var pool, usage int64
	for _, k := range sctx.Keys {
		pool += k.UsageCount
		if k.ID == selected {
			usage = k.UsageCount
		}
	}
	if sctx.LastSelected != "" && sctx.LastSelected != selected {
		return fmt.Sprintf("fairness: selected %s with %d of %d pool uses, rotating after %s, from %d candidates",
			selected, usage, pool, sctx.LastSelected, len(scores))
	}
	return fmt.Sprintf("fairness: selected %s with %d of %d pool uses from %d candidates",
		selected, usage, pool, len(scores))
}

func topScore(scores map[string]float64) float64 {
	first := true
	var top float64
	for _, v := range scores {
		if first || v > top {
			top = v
			first = false
		}
	}
	return top
}
