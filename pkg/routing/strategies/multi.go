package strategies

import (
	"fmt"
	"sort"
	"strings"

	"northstar-hq/polaris/pkg/state"
)

// Multi composes the other strategies under the objective's weights:
// score(k) = Σ wᵢ · scoreᵢ(k) over the named kinds, re-normalized so the
// best composite maps to 1.0.
type Multi struct {
	sub map[state.ObjectiveKind]Strategy
}

// NewMulti builds the multi-objective strategy over the given
// sub-strategies.
func NewMulti(sub ...Strategy) *Multi {
	m := &Multi{sub: make(map[state.ObjectiveKind]Strategy, len(sub))}
	for _, s := range sub {
		m.sub[s.Kind()] = s
	}
	return m
}

// KindMulti labels the composed strategy in metrics and logs. It is not
// a parseable objective kind; callers reach Multi by supplying weights,
// not by naming it.
const KindMulti = state.ObjectiveKind("multi")

// Kind implements Strategy.
func (m *Multi) Kind() state.ObjectiveKind { return KindMulti }

// Score implements Strategy.
func (m *Multi) Score(sctx *ScoreContext) map[string]float64 {
	weights := m.weights(sctx.Objective)

	composite := make(map[string]float64, len(sctx.Keys))
	for kind, w := range weights {
		part := m.sub[kind].Score(sctx)
		for id, s := range part {
			composite[id] += w * s
		}
	}
	// Candidates can miss every sub-score only if there are no weights at
	// all; guard the empty map so normalize sees each candidate.
	for _, k := range sctx.Keys {
		if _, ok := composite[k.ID]; !ok {
			composite[k.ID] = 0
		}
	}
	return normalize(composite)
}

// Select implements Strategy.
func (m *Multi) Select(sctx *ScoreContext, scores map[string]float64) (string, float64) {
	return SelectKey(sctx.Keys, scores)
}

// Explain implements Strategy. The per-kind contribution of the selected
// key is spelled out so a reader can audit the weighting.
func (m *Multi) Explain(sctx *ScoreContext, selected string, scores map[string]float64) string {
	weights := m.weights(sctx.Objective)

	kinds := make([]state.ObjectiveKind, 0, len(weights))
	for kind := range weights {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if weights[kinds[i]] != weights[kinds[j]] {
			return weights[kinds[i]] > weights[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})

	var parts []string
	for _, kind := range kinds {
		sub := m.sub[kind].Score(sctx)
		parts = append(parts, fmt.Sprintf("%s %.2f×%.2f", kind, weights[kind], sub[selected]))
	}
	return fmt.Sprintf("multi-objective: selected %s from %d candidates (%s)",
		selected, len(scores), strings.Join(parts, ", "))
}

// weights resolves the objective's kinds to normalized weights over the
// sub-strategies. Kinds without an explicit weight split the unassigned
// remainder equally; kinds with no sub-strategy are dropped. An objective
// that names nothing usable falls back to fairness alone.
func (m *Multi) weights(o state.Objective) map[state.ObjectiveKind]float64 {
	var kinds []state.ObjectiveKind
	for _, kind := range o.Kinds() {
		if _, ok := m.sub[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	// Weights may name kinds the primary/secondary lists omit.
	for kind := range o.Weights {
		if _, ok := m.sub[kind]; !ok {
			continue
		}
		seen := false
		for _, existing := range kinds {
			if existing == kind {
				seen = true
				break
			}
		}
		if !seen {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return map[state.ObjectiveKind]float64{state.ObjectiveFairness: 1}
	}

	out := make(map[state.ObjectiveKind]float64, len(kinds))
	assigned := 0.0
	var unweighted []state.ObjectiveKind
	for _, kind := range kinds {
		if w, ok := o.Weights[kind]; ok && w > 0 {
			out[kind] = w
			assigned += w
		} else {
			unweighted = append(unweighted, kind)
		}
	}
	if len(unweighted) > 0 {
		remainder := 1.0 - assigned
		if remainder < 0 {
			remainder = 0
		}
		share := remainder / float64(len(unweighted))
		for _, kind := range unweighted {
			out[kind] = share
		}
	}

	// Normalize so the weights sum to 1 regardless of what the caller
	// supplied.
	total := 0.0
	for _, w := range out {
		total += w
	}
	if total <= 0 {
		for _, kind := range kinds {
			out[kind] = 1.0 / float64(len(kinds))
		}
		return out
	}
	for kind, w := range out {
		out[kind] = w / total
	}
	return out
}
