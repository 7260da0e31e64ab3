package strategies

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/state"
)

// Cost scores candidates inversely to their estimated request cost: the
// cheapest key gets 1.0, the most expensive 0.0.
type Cost struct{}

// NewCost creates the cost-optimized strategy.
func NewCost() Cost { return Cost{} }

// Kind implements Strategy.
func (Cost) Kind() state.ObjectiveKind { return state.ObjectiveCost }

// Score implements Strategy.
func (Cost) Score(sctx *ScoreContext) map[string]float64 {
	raw := make(map[string]float64, len(sctx.Keys))
	for _, k := range sctx.Keys {
		// Negate so that normalize maps the cheapest candidate to 1.0.
		cost, _ := sctx.Costs[k.ID].Float64()
		raw[k.ID] = -cost
	}
	return normalize(raw)
}

// Select implements Strategy.
func (Cost) Select(sctx *ScoreContext, scores map[string]float64) (string, float64) {
	return SelectKey(sctx.Keys, scores)
}

// Explain implements Strategy. Alternatives are listed with their cost so
// the audit trail shows what the cheaper choice saved.
func (Cost) Explain(sctx *ScoreContext, selected string, scores map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cost-optimized: selected %s at $%s per request from %d candidates",
		selected, costString(sctx.Costs[selected]), len(scores))

	others := make([]string, 0, len(sctx.Keys))
	for _, k := range sctx.Keys {
		if k.ID == selected {
			continue
		}
		if _, ok := scores[k.ID]; !ok {
			continue
		}
		others = append(others, k.ID)
	}
	if len(others) == 0 {
		return b.String()
	}
	sort.Slice(others, func(i, j int) bool {
		if scores[others[i]] != scores[others[j]] {
			return scores[others[i]] > scores[others[j]]
		}
		return others[i] < others[j]
	})
	b.WriteString("; alternatives:")
	for i, id := range others {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %s $%s", id, costString(sctx.Costs[id]))
	}
	return b.String()
}

func costString(d decimal.Decimal) string {
	return d.StringFixed(4)
}
