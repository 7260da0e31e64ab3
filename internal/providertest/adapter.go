// Package providertest provides a scripted in-process adapter implementing
// the full provider contract. Tests and examples use it to drive the
// orchestrator through success, failover, and rate-limit paths without a
// network.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/state"
)

// Outcome scripts the result of one ExecuteRequest call.
type Outcome struct {
	// Response is returned when Err is nil.
	Response *providers.Response

	// Err is returned instead of a response.
	Err error

	// Delay simulates provider latency before the outcome is returned.
	// The call aborts early if the context expires during the delay.
	Delay time.Duration
}

// Call records one ExecuteRequest invocation for assertions.
type Call struct {
	Intent     *providers.RequestIntent
	Credential providers.Credential
}

// Adapter is a scripted providers.Adapter. Outcomes queue in FIFO order;
// once the queue drains, every further call succeeds with a canned
// response echoing the intent.
//
// The zero value is not usable; construct with New.
type Adapter struct {
	mu          sync.Mutex
	id          string
	caps        providers.Capabilities
	outcomes    []Outcome
	estimate    state.CostEstimate
	estimateErr error
	health      providers.HealthState
	calls       []Call
}

// New creates a scripted adapter with permissive defaults: all
// capabilities, healthy, and a small fixed adapter-method cost estimate.
func New(id string) *Adapter {
	return &Adapter{
		id: id,
		caps: providers.Capabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
		},
		estimate: state.NewCostEstimate(
			decimal.RequireFromString("0.001"), 0.9, state.CostMethodAdapter),
		health: providers.HealthState{Healthy: true},
	}
}

// Script queues outcomes to be consumed in order by ExecuteRequest.
func (a *Adapter) Script(outcomes ...Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcomes...)
}

// SetCapabilities replaces the reported capability set.
func (a *Adapter) SetCapabilities(caps providers.Capabilities) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caps = caps
}

// SetEstimate replaces the scripted cost estimate. A non-nil err makes
// EstimateCost fail, exercising the caller's heuristic fallback.
func (a *Adapter) SetEstimate(estimate state.CostEstimate, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.estimate = estimate
	a.estimateErr = err
}

// SetHealth replaces the reported health state.
func (a *Adapter) SetHealth(h providers.HealthState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health = h
}

// Calls returns a copy of the recorded invocations.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns the number of ExecuteRequest invocations.
func (a *Adapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// ID implements providers.Adapter.
func (a *Adapter) ID() string { return a.id }

// ExecuteRequest implements providers.Adapter. It records the call, pops
// the next scripted outcome, and falls back to a canned success once the
// script is exhausted.
func (a *Adapter) ExecuteRequest(ctx context.Context, intent *providers.RequestIntent, cred providers.Credential) (*providers.Response, error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Intent: intent.Clone(), Credential: cred})
	var outcome *Outcome
	if len(a.outcomes) > 0 {
		o := a.outcomes[0]
		a.outcomes = a.outcomes[1:]
		outcome = &o
	}
	a.mu.Unlock()

	if outcome == nil {
		return a.cannedResponse(intent, cred), nil
	}

	if outcome.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &providers.SystemError{
				Provider: a.id,
				Category: providers.CategoryTimeout,
				Message:  "scripted delay exceeded deadline",
				Cause:    ctx.Err(),
			}
		case <-time.After(outcome.Delay):
		}
	}

	if outcome.Err != nil {
		return nil, outcome.Err
	}
	if outcome.Response != nil {
		resp := *outcome.Response
		if resp.KeyUsed == "" {
			resp.KeyUsed = cred.KeyID
		}
		return &resp, nil
	}
	return a.cannedResponse(intent, cred), nil
}

func (a *Adapter) cannedResponse(intent *providers.RequestIntent, cred providers.Credential) *providers.Response {
	input := 0
	for _, m := range intent.Messages {
		input += len(m.Content) / 4
	}
	output := 20
	return &providers.Response{
		Content: "scripted response",
		Metadata: providers.ResponseMetadata{
			ModelUsed:      intent.Model,
			TokensUsed:     providers.TokenUsage{Input: input, Output: output, Total: input + output},
			ResponseTimeMS: 5,
			ProviderID:     a.id,
			Timestamp:      time.Now().UTC(),
			FinishReason:   providers.FinishReasonStop,
		},
		KeyUsed: cred.KeyID,
	}
}

// NormalizeResponse implements providers.Adapter by decoding a JSON
// encoding of the normalized Response shape.
func (a *Adapter) NormalizeResponse(raw []byte) (*providers.Response, error) {
	var resp providers.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("normalize scripted payload: %w", err)
	}
	return &resp, nil
}

// MapError implements providers.Adapter.
func (a *Adapter) MapError(err error) *providers.SystemError {
	return providers.Normalize(a.id, err)
}

// Capabilities implements providers.Adapter.
func (a *Adapter) Capabilities() providers.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps
}

// EstimateCost implements providers.Adapter.
func (a *Adapter) EstimateCost(intent *providers.RequestIntent) (state.CostEstimate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.estimateErr != nil {
		return state.CostEstimate{}, a.estimateErr
	}
	return a.estimate.Clone(), nil
}

// Health implements providers.Adapter.
func (a *Adapter) Health() providers.HealthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// Success builds a scripted success outcome with the given content and
// token counts.
func Success(content string, inputTokens, outputTokens int) Outcome {
	return Outcome{
		Response: &providers.Response{
			Content: content,
			Metadata: providers.ResponseMetadata{
				TokensUsed: providers.TokenUsage{
					Input:  inputTokens,
					Output: outputTokens,
					Total:  inputTokens + outputTokens,
				},
				FinishReason: providers.FinishReasonStop,
				Timestamp:    time.Now().UTC(),
			},
		},
	}
}

// Failure builds a scripted failure outcome.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// RateLimited builds a scripted rate-limit failure carrying a retry-after
// duration, as providers report through HTTP 429.
func RateLimited(provider string, retryAfter time.Duration) Outcome {
	return Outcome{Err: &providers.SystemError{
		Provider:   provider,
		Category:   providers.CategoryRateLimit,
		Message:    "scripted rate limit",
		StatusCode: 429,
		RetryAfter: retryAfter,
	}}
}

// ServerError builds a scripted retryable 5xx provider failure.
func ServerError(provider string) Outcome {
	return Outcome{Err: &providers.SystemError{
		Provider:   provider,
		Category:   providers.CategoryProvider,
		Message:    "scripted server error",
		StatusCode: 503,
	}}
}

// AuthFailure builds a scripted non-retryable authentication failure.
func AuthFailure(provider string) Outcome {
	return Outcome{Err: &providers.SystemError{
		Provider:   provider,
		Category:   providers.CategoryAuthentication,
		Message:    "scripted invalid credential",
		StatusCode: 401,
	}}
}
