package orchestrator

import (
	"context"

	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/logging"
)

// KeyLifecycle translates quota capacity events into key state
// transitions through the key manager. The quota engine never calls the
// key manager directly; wiring code passes this listener to
// quota.NewEngine so the dependency runs one way.
type KeyLifecycle struct {
	keys   *keys.Manager
	logger *logging.Logger
}

// NewKeyLifecycle builds the listener. A nil logger is silent.
func NewKeyLifecycle(km *keys.Manager, logger *logging.Logger) *KeyLifecycle {
	if logger == nil {
		logger = logging.Nop()
	}
	return &KeyLifecycle{keys: km, logger: logger}
}

// QuotaExhausted moves the key to Exhausted, disqualifying it from
// routing until its window resets.
func (l *KeyLifecycle) QuotaExhausted(ctx context.Context, keyID string) {
	l.transition(ctx, keyID, state.KeyStateExhausted, keys.TriggerQuotaExhausted)
}

// QuotaRecovering moves an exhausted key to Recovering inside the
// pre-reset window.
func (l *KeyLifecycle) QuotaRecovering(ctx context.Context, keyID string) {
	l.transition(ctx, keyID, state.KeyStateRecovering, keys.TriggerQuotaRecovering)
}

// QuotaReset returns an exhausted or recovering key to Available once its
// window rolls over. Exhausted keys pass through Recovering because the
// lifecycle machine has no direct Exhausted->Available edge.
func (l *KeyLifecycle) QuotaReset(ctx context.Context, keyID string) {
	key, err := l.keys.Get(ctx, keyID)
	if err != nil {
		l.logger.Warn("quota reset lookup failed", "key_id", keyID, "error", err)
		return
	}
	switch key.State {
	case state.KeyStateExhausted:
		l.transition(ctx, keyID, state.KeyStateRecovering, keys.TriggerQuotaReset)
		l.transition(ctx, keyID, state.KeyStateAvailable, keys.TriggerQuotaReset)
	case state.KeyStateRecovering:
		l.transition(ctx, keyID, state.KeyStateAvailable, keys.TriggerQuotaReset)
	}
}

func (l *KeyLifecycle) transition(ctx context.Context, keyID string, target state.KeyState, trigger string) {
	if _, err := l.keys.UpdateState(ctx, keyID, keys.TransitionRequest{
		Target:  target,
		Trigger: trigger,
	}); err != nil {
		l.logger.Warn("quota-driven transition failed",
			"key_id", keyID,
			"target", target,
			"trigger", trigger,
			"error", err,
		)
	}
}
