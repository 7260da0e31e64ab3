package keys

import (
	"northstar-hq/polaris/pkg/state"
)

// validTransitions is the lifecycle state machine. A key may only move
// along an edge listed here; everything else is an InvalidTransitionError.
// Self-transitions are handled as no-ops by the manager and do not appear.
var validTransitions = map[state.KeyState]map[state.KeyState]bool{
	state.KeyStateAvailable: {
		state.KeyStateThrottled: true,
		state.KeyStateExhausted: true,
		state.KeyStateDisabled:  true,
		state.KeyStateInvalid:   true,
	},
	state.KeyStateThrottled: {
		state.KeyStateAvailable: true,
		state.KeyStateDisabled:  true,
		state.KeyStateInvalid:   true,
	},
	state.KeyStateExhausted: {
		state.KeyStateRecovering: true,
		state.KeyStateDisabled:   true,
		state.KeyStateInvalid:    true,
	},
	state.KeyStateRecovering: {
		state.KeyStateAvailable: true,
		state.KeyStateExhausted: true,
		state.KeyStateDisabled:  true,
		state.KeyStateInvalid:   true,
	},
	state.KeyStateDisabled: {
		state.KeyStateAvailable: true,
		state.KeyStateInvalid:   true,
	},
	state.KeyStateInvalid: {
		state.KeyStateDisabled: true,
	},
}

// CanTransition reports whether the lifecycle machine allows from -> to.
// A self-transition reports true; the manager treats it as a no-op.
func CanTransition(from, to state.KeyState) bool {
	if from == to {
		return true
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Transition trigger tags recorded on StateTransition audit records.
const (
	TriggerRateLimit        = "rate_limit"
	TriggerCooldownElapsed  = "cooldown_elapsed"
	TriggerManualRevocation = "manual_revocation"
	TriggerQuotaExhausted   = "quota_exhausted"
	TriggerQuotaReset       = "quota_reset"
	TriggerQuotaRecovering  = "quota_recovering"
	TriggerKeyRotation      = "key_rotation"
	TriggerNoop             = "noop"
)
