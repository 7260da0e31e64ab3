// Package strategies holds the scoring strategies the routing engine
// selects among: cost-optimized, reliability-optimized, fairness
// round-robin, and a weighted multi-objective composition of the others.
//
// Every strategy is a pure function of its ScoreContext. Scores are
// normalized per request so the best candidate receives 1.0 and the worst
// 0.0; the routing engine layers quota multipliers and budget adjustments
// on top afterwards.
//
// Implementations must be safe for concurrent use; none of them keep
// per-request state.
package strategies

import (
	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/state"
)

// scoreEpsilon is the tolerance under which two scores count as tied.
const scoreEpsilon = 1e-9

// ScoreContext carries everything a strategy reads when scoring one
// request's candidates. Strategies never mutate it.
type ScoreContext struct {
	// Keys are the candidates, in the stable order the routing engine
	// assembled them. Fairness rotation walks this order.
	Keys []*state.Key

	// Intent is the request being routed.
	Intent *providers.RequestIntent

	// Objective is the caller's preference; the multi-objective strategy
	// reads its kinds and weights.
	Objective state.Objective

	// Quota maps key id to quota state for candidates that have one.
	Quota map[string]*state.QuotaState

	// Costs maps key id to the estimated request cost attributed to that
	// key.
	Costs map[string]decimal.Decimal

	// LastSelected is the key id the previous fairness selection chose
	// for this provider, empty when there is none.
	LastSelected string
}

// Strategy scores candidates and selects among them. Kind tags the
// variant for objective lookup and metrics labels.
type Strategy interface {
	Kind() state.ObjectiveKind

	// Score returns a per-key score normalized to [0, 1] with the best
	// candidate at 1.0 and the worst at 0.0.
	Score(sctx *ScoreContext) map[string]float64

	// Select picks one key from the scored candidates. Scores may have
	// been adjusted by quota multipliers or budget penalties after Score,
	// so Select must not assume the map it receives is its own output.
	Select(sctx *ScoreContext, scores map[string]float64) (string, float64)

	// Explain renders a human-readable account of the selection.
	Explain(sctx *ScoreContext, selected string, scores map[string]float64) string
}

// SelectKey is the deterministic selection shared by every strategy
// except fairness rotation: highest score wins, ties break by lowest
// failure count, then oldest last use with never-used keys first, then
// lexicographic key id.
func SelectKey(keys []*state.Key, scores map[string]float64) (string, float64) {
	var best *state.Key
	var bestScore float64
	for _, k := range keys {
		score, ok := scores[k.ID]
		if !ok {
			continue
		}
		if best == nil || beats(k, score, best, bestScore) {
			best = k
			bestScore = score
		}
	}
	if best == nil {
		return "", 0
	}
	return best.ID, bestScore
}

// beats reports whether candidate a at score as wins over b at bs under
// the shared tie-break chain.
func beats(a *state.Key, as float64, b *state.Key, bs float64) bool {
	if as > bs+scoreEpsilon {
		return true
	}
	if as < bs-scoreEpsilon {
		return false
	}
	if a.FailureCount != b.FailureCount {
		return a.FailureCount < b.FailureCount
	}
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return true
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
	return a.ID < b.ID
}

// normalize rescales raw scores linearly so the best candidate maps to
// 1.0 and the worst to 0.0. When every candidate scores the same there is
// no worst; everything maps to 1.0.
func normalize(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return map[string]float64{}
	}
	first := true
	var lo, hi float64
	for _, v := range raw {
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	out := make(map[string]float64, len(raw))
	spread := hi - lo
	if spread < scoreEpsilon {
		for id := range raw {
			out[id] = 1.0
		}
		return out
	}
	for id, v := range raw {
		out[id] = (v - lo) / spread
	}
	return out
}
