package state

import (
	"github.com/shopspring/decimal"
)

// Cost estimation method tags.
const (
	CostMethodAdapter   = "adapter"
	CostMethodHeuristic = "token_heuristic"
	CostMethodMetadata  = "key_metadata"
	CostMethodUniform   = "uniform_default"
)

// CostEstimate is a predicted or reported request cost. Amounts are decimal;
// float arithmetic never touches money.
type CostEstimate struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Confidence in the estimate, 0 to 1.
	Confidence float64 `json:"confidence"`

	// Method tags how the estimate was produced (adapter, token_heuristic,
	// key_metadata, uniform_default).
	Method string `json:"method"`

	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`

	// Breakdown itemizes the amount when the producer can, for example
	// input vs output token cost.
	Breakdown map[string]decimal.Decimal `json:"breakdown,omitempty"`
}

// NewCostEstimate builds an estimate with the default currency.
func NewCostEstimate(amount decimal.Decimal, confidence float64, method string) CostEstimate {
	return CostEstimate{
		Amount:     amount,
		Currency:   "USD",
		Confidence: confidence,
		Method:     method,
	}
}

// Zero reports whether the estimate amount is zero.
func (c CostEstimate) Zero() bool { return c.Amount.IsZero() }

// Clone returns a deep copy.
func (c CostEstimate) Clone() CostEstimate {
	out := c
	if c.Breakdown != nil {
		out.Breakdown = make(map[string]decimal.Decimal, len(c.Breakdown))
		for k, v := range c.Breakdown {
			out.Breakdown[k] = v
		}
	}
	return out
}
