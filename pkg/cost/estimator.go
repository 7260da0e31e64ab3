package cost

import (
	"strings"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/state"
)

// Token estimation constants for the character heuristic. Roughly four
// characters per token holds within a few percent for English prose
// across current model families.
const (
	defaultCharsPerToken = 4.0

	// Per-message formatting overhead plus one token for the role.
	perMessageOverheadTokens = 4

	// Conversation framing overhead.
	conversationOverheadTokens = 3

	// Completion size assumed when the intent does not cap max_tokens.
	defaultCompletionTokens = 1000
)

const heuristicConfidence = 0.7

// ModelPrice is the per-thousand-token price for one model.
type ModelPrice struct {
	// PromptPer1K is the price per 1000 prompt tokens.
	PromptPer1K decimal.Decimal

	// CompletionPer1K is the price per 1000 completion tokens.
	CompletionPer1K decimal.Decimal
}

// EstimatorConfig tunes the token heuristic. Zero values fall back to
// conservative defaults.
type EstimatorConfig struct {
	// CharsPerToken overrides the characters-per-token ratio per model.
	// Lookup is exact match, then longest prefix, then "default".
	CharsPerToken map[string]float64

	// Prices is the per-model price table, same lookup rules.
	Prices map[string]ModelPrice

	// DefaultPrice applies when no table entry matches.
	DefaultPrice ModelPrice

	// DefaultCompletionTokens replaces the assumed completion size for
	// uncapped intents.
	DefaultCompletionTokens int
}

// Estimator prices an intent with a character-based token heuristic,
// used when the provider adapter cannot estimate itself.
type Estimator struct {
	charsPerToken           map[string]float64
	prices                  map[string]ModelPrice
	defaultPrice            ModelPrice
	defaultCompletionTokens int
}

// NewEstimator builds an estimator from cfg.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	defaultPrice := cfg.DefaultPrice
	if defaultPrice.PromptPer1K.IsZero() && defaultPrice.CompletionPer1K.IsZero() {
		defaultPrice = ModelPrice{
			PromptPer1K:     decimal.RequireFromString("0.0015"),
			CompletionPer1K: decimal.RequireFromString("0.002"),
		}
	}
	completion := cfg.DefaultCompletionTokens
	if completion <= 0 {
		completion = defaultCompletionTokens
	}
	return &Estimator{
		charsPerToken:           cfg.CharsPerToken,
		prices:                  cfg.Prices,
		defaultPrice:            defaultPrice,
		defaultCompletionTokens: completion,
	}
}

// EstimateIntent prices the intent from its message lengths and model.
func (e *Estimator) EstimateIntent(intent *providers.RequestIntent) state.CostEstimate {
	promptTokens := e.promptTokens(intent)

	completionTokens := int64(e.defaultCompletionTokens)
	if intent.Parameters.MaxTokens > 0 && int64(intent.Parameters.MaxTokens) < completionTokens {
		completionTokens = int64(intent.Parameters.MaxTokens)
	}

	price := e.price(intent.Model)
	perThousand := decimal.NewFromInt(1000)
	promptCost := decimal.NewFromInt(promptTokens).Mul(price.PromptPer1K).Div(perThousand)
	completionCost := decimal.NewFromInt(completionTokens).Mul(price.CompletionPer1K).Div(perThousand)

	est := state.NewCostEstimate(promptCost.Add(completionCost), heuristicConfidence, state.CostMethodHeuristic)
	est.InputTokens = promptTokens
	est.OutputTokens = completionTokens
	est.Breakdown = map[string]decimal.Decimal{
		"prompt":     promptCost,
		"completion": completionCost,
	}
	return est
}

// promptTokens estimates the prompt size: content characters over the
// per-token ratio, plus role and formatting overhead per message.
func (e *Estimator) promptTokens(intent *providers.RequestIntent) int64 {
	ratio := lookupByModel(e.charsPerToken, intent.Model, defaultCharsPerToken)

	var total int64
	for _, msg := range intent.Messages {
		content := int64(float64(len(msg.Content))/ratio + 0.5)
		if content < 1 && len(msg.Content) > 0 {
			content = 1
		}
		total += content + perMessageOverheadTokens
	}
	return total + conversationOverheadTokens
}

func (e *Estimator) price(model string) ModelPrice {
	if e.prices == nil {
		return e.defaultPrice
	}
	if p, ok := e.prices[model]; ok {
		return p
	}
	if p, ok := longestPrefix(e.prices, model); ok {
		return p
	}
	if p, ok := e.prices["default"]; ok {
		return p
	}
	return e.defaultPrice
}

// lookupByModel resolves a per-model ratio: exact, longest prefix,
// "default" entry, then the fallback.
func lookupByModel(table map[string]float64, model string, fallback float64) float64 {
	if table == nil {
		return fallback
	}
	if v, ok := table[model]; ok && v > 0 {
		return v
	}
	best := ""
	for pattern := range table {
		if pattern != "default" && strings.HasPrefix(model, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" && table[best] > 0 {
		return table[best]
	}
	if v, ok := table["default"]; ok && v > 0 {
		return v
	}
	return fallback
}

func longestPrefix(table map[string]ModelPrice, model string) (ModelPrice, bool) {
	best := ""
	for pattern := range table {
		if pattern != "default" && strings.HasPrefix(model, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return table[best], true
}
