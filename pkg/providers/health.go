package providers

import (
	"sync"

	"northstar-hq/polaris/internal/clock"
)

// DefaultUnhealthyThreshold is the number of consecutive failures after
// which a tracker reports unhealthy.
const DefaultUnhealthyThreshold = 3

// HealthTracker derives HealthState from observed request outcomes. It is
// the bookkeeping behind Adapter.Health for adapters that have no
// dedicated probe endpoint: the orchestrator records each execution
// outcome and the tracker maintains the failure counters.
//
// A tracker reports unhealthy after the configured number of consecutive
// failures and healthy again after the first success.
type HealthTracker struct {
	mu                 sync.RWMutex
	clock              clock.Clock
	unhealthyThreshold int
	state              HealthState
}

// NewHealthTracker creates a tracker. A threshold of 0 uses
// DefaultUnhealthyThreshold; a nil clock uses the real clock.
func NewHealthTracker(threshold int, clk clock.Clock) *HealthTracker {
	if threshold <= 0 {
		threshold = DefaultUnhealthyThreshold
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &HealthTracker{
		clock:              clk,
		unhealthyThreshold: threshold,
		state: HealthState{
			Healthy: true,
		},
	}
}

// RecordSuccess records a successful request outcome.
func (t *HealthTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.TotalRequests++
	t.state.ConsecutiveFailures = 0
	t.state.LastError = ""
	t.state.Healthy = true
	t.state.LastCheck = t.clock.Now()
}

// RecordFailure records a failed request outcome. A nil error still
// counts as a failure with no message.
func (t *HealthTracker) RecordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.TotalRequests++
	t.state.FailedRequests++
	t.state.ConsecutiveFailures++
	if err != nil {
		t.state.LastError = err.Error()
	}
	if t.state.ConsecutiveFailures >= t.unhealthyThreshold {
		t.state.Healthy = false
	}
	t.state.LastCheck = t.clock.Now()
}

// State returns a snapshot of the current health.
func (t *HealthTracker) State() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
