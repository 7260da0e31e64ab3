package state

import (
	"time"
)

// KeyState is the lifecycle state of a credential. The valid transitions
// between states are enforced by the key manager; stores persist whatever
// they are handed.
type KeyState string

const (
	// KeyStateAvailable means the key may be selected for routing.
	KeyStateAvailable KeyState = "available"

	// KeyStateThrottled means the provider rate-limited the key. The key
	// carries a cooldown-until instant and becomes eligible again once it
	// elapses.
	KeyStateThrottled KeyState = "throttled"

	// KeyStateExhausted means the key's quota window is spent. The key is
	// ineligible until its quota resets.
	KeyStateExhausted KeyState = "exhausted"

	// KeyStateRecovering means the key is approaching its quota reset and
	// may be selected again, at a reduced score.
	KeyStateRecovering KeyState = "recovering"

	// KeyStateDisabled means an operator took the key out of rotation.
	KeyStateDisabled KeyState = "disabled"

	// KeyStateInvalid means the provider rejected the credential itself.
	// Only rotation with fresh material brings it back.
	KeyStateInvalid KeyState = "invalid"
)

// Valid reports whether s is one of the recognized key states.
func (s KeyState) Valid() bool {
	switch s {
	case KeyStateAvailable, KeyStateThrottled, KeyStateExhausted,
		KeyStateRecovering, KeyStateDisabled, KeyStateInvalid:
		return true
	}
	return false
}

func (s KeyState) String() string { return string(s) }

// Key is one credential for one provider. Material is stored encrypted and
// only decrypted at adapter-call time by the key manager.
type Key struct {
	// ID is assigned at registration and stable for the key's lifetime.
	ID string `json:"id"`

	// ProviderID identifies the provider this credential belongs to.
	// Lowercase ASCII, alnum plus underscore and hyphen, at most 100 chars.
	ProviderID string `json:"provider_id"`

	// EncryptedMaterial is the envelope-encrypted credential. The plaintext
	// never appears in a persisted Key.
	EncryptedMaterial []byte `json:"encrypted_material"`

	// State is the current lifecycle state.
	State KeyState `json:"state"`

	// StateChangedAt is the instant of the last state transition.
	StateChangedAt time.Time `json:"state_changed_at"`

	// CreatedAt is the registration instant.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is the instant of the last successful use, nil if the key
	// has never been used.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// UsageCount counts successful uses. Monotonically non-decreasing.
	UsageCount int64 `json:"usage_count"`

	// FailureCount counts failed uses. Monotonically non-decreasing.
	FailureCount int64 `json:"failure_count"`

	// CooldownUntil is set if and only if State is Throttled.
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`

	// Metadata carries caller-supplied attributes. Bounded at registration:
	// at most 100 top-level entries, nesting at most 4 deep, values are
	// primitives or lists of primitives no longer than 100. Region-aware
	// policies read the "region" entry.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EligibleAt reports whether the key may be considered for routing at the
// given instant: Available, Recovering, or Throttled with an elapsed
// cooldown. Disabled, Invalid, and Exhausted keys are never eligible.
func (k *Key) EligibleAt(now time.Time) bool {
	switch k.State {
	case KeyStateAvailable, KeyStateRecovering:
		return true
	case KeyStateThrottled:
		return k.CooldownUntil != nil && !now.Before(*k.CooldownUntil)
	default:
		return false
	}
}

// SuccessRate returns (usage - failures) / max(usage, 1), clamped to [0, 1].
// A key that has never been used reports 1.0 here; callers that want the
// neutral prior for unused keys check UsageCount themselves.
func (k *Key) SuccessRate() float64 {
	total := k.UsageCount
	if total < 1 {
		total = 1
	}
	rate := float64(k.UsageCount-k.FailureCount) / float64(total)
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

// Region returns the key's region from metadata, or "" when unset.
func (k *Key) Region() string {
	if k.Metadata == nil {
		return ""
	}
	if r, ok := k.Metadata["region"].(string); ok {
		return r
	}
	return ""
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted records in place.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}
	out := *k
	if k.EncryptedMaterial != nil {
		out.EncryptedMaterial = make([]byte, len(k.EncryptedMaterial))
		copy(out.EncryptedMaterial, k.EncryptedMaterial)
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		out.LastUsedAt = &t
	}
	if k.CooldownUntil != nil {
		t := *k.CooldownUntil
		out.CooldownUntil = &t
	}
	if k.Metadata != nil {
		out.Metadata = cloneMetadata(k.Metadata)
	}
	return &out
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneMetadataValue(v)
	}
	return out
}

func cloneMetadataValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneMetadata(vv)
	case []any:
		list := make([]any, len(vv))
		for i, e := range vv {
			list[i] = cloneMetadataValue(e)
		}
		return list
	default:
		return v
	}
}
