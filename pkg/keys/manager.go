package keys

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/security/envelope"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
)

// DefaultCooldown is applied when a key enters Throttled without an
// explicit cooldown.
const DefaultCooldown = 60 * time.Second

// DefaultRecoveryBatchSize is the page size CheckAndRecover reads
// throttled keys with.
const DefaultRecoveryBatchSize = 100

const lockStripes = 64

// Options carries the manager's collaborators. Store and Envelope are
// required; the rest default to the real clock, UUID ids, a discard
// emitter, and a silent logger.
type Options struct {
	Store    state.StateStore
	Envelope *envelope.Envelope
	Clock    clock.Clock
	IDs      clock.IDSource
	Emitter  events.Emitter
	Logger   *logging.Logger

	// DefaultCooldown overrides the Throttled cooldown applied when a
	// transition carries none.
	DefaultCooldown time.Duration

	// RecoveryBatchSize overrides the CheckAndRecover page size.
	RecoveryBatchSize int
}

// Manager owns key records and their lifecycle. All mutations take a
// per-key striped lock so counters and transitions never interleave for
// one key; reads go straight to the store.
type Manager struct {
	store    state.StateStore
	envelope *envelope.Envelope
	clock    clock.Clock
	ids      clock.IDSource
	emitter  events.Emitter
	logger   *logging.Logger

	defaultCooldown   time.Duration
	recoveryBatchSize int

	locks [lockStripes]sync.Mutex
}

// NewManager creates a key manager from opts.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("keys: store is required")
	}
	if opts.Envelope == nil {
		return nil, errors.New("keys: envelope is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDs == nil {
		opts.IDs = clock.UUIDSource{}
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = DefaultCooldown
	}
	if opts.RecoveryBatchSize <= 0 {
		opts.RecoveryBatchSize = DefaultRecoveryBatchSize
	}

	return &Manager{
		store:             opts.Store,
		envelope:          opts.Envelope,
		clock:             opts.Clock,
		ids:               opts.IDs,
		emitter:           opts.Emitter,
		logger:            opts.Logger,
		defaultCooldown:   opts.DefaultCooldown,
		recoveryBatchSize: opts.RecoveryBatchSize,
	}, nil
}

func (m *Manager) lock(keyID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(keyID))
	return &m.locks[h.Sum32()%lockStripes]
}

// Register validates and encrypts plaintext material, assigns a fresh id,
// and persists the key in Available state. Fails with *RegistrationError
// naming the stage (validation, encryption, persistence) that failed.
func (m *Manager) Register(ctx context.Context, material, providerID string, metadata map[string]any) (*state.Key, error) {
	if err := ValidateMaterial(material); err != nil {
		return nil, &RegistrationError{Stage: "validation", Err: err}
	}
	if err := providers.ValidateProviderID(providerID); err != nil {
		return nil, &RegistrationError{Stage: "validation", Err: err}
	}
	if err := ValidateMetadata(metadata); err != nil {
		return nil, &RegistrationError{Stage: "validation", Err: err}
	}

	sealed, err := m.envelope.Seal([]byte(material))
	if err != nil {
		return nil, &RegistrationError{Stage: "encryption", Err: err}
	}

	now := m.clock.Now()
	key := &state.Key{
		ID:                m.ids.NewID(),
		ProviderID:        providerID,
		EncryptedMaterial: sealed,
		State:             state.KeyStateAvailable,
		StateChangedAt:    now,
		CreatedAt:         now,
		Metadata:          metadata,
	}

	if err := m.store.SaveKey(ctx, key); err != nil {
		return nil, &RegistrationError{Stage: "persistence", Err: err}
	}

	m.emitter.Emit(ctx, events.Event{
		Name:      events.KeyRegistered,
		Timestamp: now,
		Fields: map[string]any{
			"key_id":      key.ID,
			"provider_id": key.ProviderID,
		},
	})
	m.logger.Info("key registered",
		"key_id", key.ID,
		"provider_id", key.ProviderID,
	)

	return key.Clone(), nil
}

// Get returns the key record. The encrypted material rides along; use
// Material to decrypt it.
func (m *Manager) Get(ctx context.Context, id string) (*state.Key, error) {
	key, err := m.store.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, err
	}
	return key, nil
}

// Material decrypts and returns the key's plaintext material. Every call
// emits a key_access audit event; decryption failures never include the
// plaintext or ciphertext in the error.
func (m *Manager) Material(ctx context.Context, id string) (string, error) {
	key, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}

	plaintext, err := m.envelope.Open(key.EncryptedMaterial)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.emitter.Emit(ctx, events.Event{
		Name:      events.KeyAccess,
		Timestamp: m.clock.Now(),
		Fields: map[string]any{
			"key_id":      key.ID,
			"provider_id": key.ProviderID,
			"outcome":     outcome,
		},
	})
	if err != nil {
		return "", fmt.Errorf("decrypt material for key %q: %w", id, err)
	}
	return string(plaintext), nil
}

// TransitionRequest describes one requested lifecycle change.
type TransitionRequest struct {
	// Target is the state to move to.
	Target state.KeyState

	// Trigger is the short tag recorded on the audit transition.
	Trigger string

	// Cooldown applies only when Target is Throttled. Nil uses the
	// manager default; an explicit zero stamps cooldown_until with the
	// transition time, so the key is recoverable immediately. Rate-limit
	// transitions pass the provider's retry-after here verbatim.
	Cooldown *time.Duration

	// Context is bounded supplemental detail for the audit record.
	Context map[string]string
}

// UpdateState validates and applies a lifecycle transition, persisting
// the key and an append-only StateTransition. A from==to request returns
// a synthetic noop transition without touching the store.
//
// CooldownUntil is set when entering Throttled and cleared on every exit,
// holding the invariant that it is present exactly in Throttled state.
func (m *Manager) UpdateState(ctx context.Context, id string, req TransitionRequest) (*state.StateTransition, error) {
	if !req.Target.Valid() {
		return nil, &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", req.Target)}
	}

	lock := m.lock(id)
	lock.Lock()
	defer lock.Unlock()

	key, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	if key.State == req.Target {
		return &state.StateTransition{
			ID:         m.ids.NewID(),
			EntityType: state.EntityKey,
			EntityID:   key.ID,
			FromState:  string(key.State),
			ToState:    string(req.Target),
			Timestamp:  now,
			Trigger:    TriggerNoop,
			Context:    req.Context,
		}, nil
	}

	if !CanTransition(key.State, req.Target) {
		return nil, &InvalidTransitionError{KeyID: id, From: key.State, To: req.Target}
	}

	from := key.State
	key.State = req.Target
	key.StateChangedAt = now
	if req.Target == state.KeyStateThrottled {
		cooldown := m.defaultCooldown
		if req.Cooldown != nil && *req.Cooldown >= 0 {
			cooldown = *req.Cooldown
		}
		until := now.Add(cooldown)
		key.CooldownUntil = &until
	} else {
		key.CooldownUntil = nil
	}

	if err := m.store.SaveKey(ctx, key); err != nil {
		return nil, err
	}

	transition := &state.StateTransition{
		ID:         m.ids.NewID(),
		EntityType: state.EntityKey,
		EntityID:   key.ID,
		FromState:  string(from),
		ToState:    string(req.Target),
		Timestamp:  now,
		Trigger:    req.Trigger,
		Context:    req.Context,
	}
	if err := m.store.SaveStateTransition(ctx, transition); err != nil {
		// The key update is the primary write; audit is best-effort.
		m.logger.Warn("state transition audit write failed",
			"key_id", key.ID,
			"from", from,
			"to", req.Target,
			"error", err,
		)
	}

	m.emitter.Emit(ctx, events.Event{
		Name:          events.StateTransition,
		Timestamp:     now,
		CorrelationID: req.Context["correlation_id"],
		Fields: map[string]any{
			"key_id":      key.ID,
			"provider_id": key.ProviderID,
			"from":        string(from),
			"to":          string(req.Target),
			"trigger":     req.Trigger,
		},
	})
	m.logger.Info("key state transition",
		"key_id", key.ID,
		"provider_id", key.ProviderID,
		"from", from,
		"to", req.Target,
		"trigger", req.Trigger,
	)

	return transition, nil
}

// CheckAndRecover scans Throttled keys in store-paged batches and
// transitions those with an elapsed cooldown back to Available. Returns
// the recovered keys. Individual transition failures are logged and
// skipped so one bad record cannot stall recovery.
func (m *Manager) CheckAndRecover(ctx context.Context) ([]*state.Key, error) {
	var recovered []*state.Key
	offset := 0

	for {
		res, err := m.store.QueryState(ctx, state.Query{
			EntityType: state.EntityKey,
			State:      string(state.KeyStateThrottled),
			Limit:      m.recoveryBatchSize,
			Offset:     offset,
		})
		if err != nil {
			return recovered, err
		}
		if len(res.Keys) == 0 {
			break
		}

		now := m.clock.Now()
		recoveredThisPage := 0
		for _, key := range res.Keys {
			if key.CooldownUntil == nil || now.Before(*key.CooldownUntil) {
				continue
			}
			if _, err := m.UpdateState(ctx, key.ID, TransitionRequest{
				Target:  state.KeyStateAvailable,
				Trigger: TriggerCooldownElapsed,
			}); err != nil {
				m.logger.Warn("cooldown recovery failed",
					"key_id", key.ID,
					"error", err,
				)
				continue
			}
			key.State = state.KeyStateAvailable
			key.CooldownUntil = nil
			recovered = append(recovered, key)
			recoveredThisPage++
		}

		if len(res.Keys) < m.recoveryBatchSize {
			break
		}
		// Recovered keys left the throttled result set, shifting later
		// pages left by the same amount.
		offset += m.recoveryBatchSize - recoveredThisPage
	}

	return recovered, nil
}

// Revoke moves the key to Disabled with the manual_revocation trigger and
// emits key_revoked.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	transition, err := m.UpdateState(ctx, id, TransitionRequest{
		Target:  state.KeyStateDisabled,
		Trigger: TriggerManualRevocation,
	})
	if err != nil {
		return err
	}

	m.emitter.Emit(ctx, events.Event{
		Name:      events.KeyRevoked,
		Timestamp: transition.Timestamp,
		Fields: map[string]any{
			"key_id": id,
		},
	})
	return nil
}

// Rotate replaces the key's material while preserving id, state,
// metadata, and counters. A key_rotation transition records the swap
// without a state change.
func (m *Manager) Rotate(ctx context.Context, id, newMaterial string) error {
	if err := ValidateMaterial(newMaterial); err != nil {
		return &RegistrationError{Stage: "validation", Err: err}
	}

	sealed, err := m.envelope.Seal([]byte(newMaterial))
	if err != nil {
		return &RegistrationError{Stage: "encryption", Err: err}
	}

	lock := m.lock(id)
	lock.Lock()
	defer lock.Unlock()

	key, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	key.EncryptedMaterial = sealed
	if err := m.store.SaveKey(ctx, key); err != nil {
		return err
	}

	now := m.clock.Now()
	transition := &state.StateTransition{
		ID:         m.ids.NewID(),
		EntityType: state.EntityKey,
		EntityID:   key.ID,
		FromState:  string(key.State),
		ToState:    string(key.State),
		Timestamp:  now,
		Trigger:    TriggerKeyRotation,
	}
	if err := m.store.SaveStateTransition(ctx, transition); err != nil {
		m.logger.Warn("rotation audit write failed", "key_id", key.ID, "error", err)
	}

	m.emitter.Emit(ctx, events.Event{
		Name:      events.KeyRotated,
		Timestamp: now,
		Fields: map[string]any{
			"key_id":      key.ID,
			"provider_id": key.ProviderID,
		},
	})
	m.logger.Info("key material rotated", "key_id", key.ID, "provider_id", key.ProviderID)

	return nil
}

// RecordSuccess increments the usage counter and stamps last-used after a
// successful adapter call.
func (m *Manager) RecordSuccess(ctx context.Context, id string) error {
	lock := m.lock(id)
	lock.Lock()
	defer lock.Unlock()

	key, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	key.UsageCount++
	key.LastUsedAt = &now
	return m.store.SaveKey(ctx, key)
}

// RecordFailure increments the failure counter after a failed adapter
// call.
func (m *Manager) RecordFailure(ctx context.Context, id string) error {
	lock := m.lock(id)
	lock.Lock()
	defer lock.Unlock()

	key, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	key.FailureCount++
	return m.store.SaveKey(ctx, key)
}

// EligibleKeys returns the provider's keys currently eligible for
// routing: Available, Recovering, or Throttled with elapsed cooldown.
// A non-nil filter narrows the result further.
func (m *Manager) EligibleKeys(ctx context.Context, providerID string, filter func(*state.Key) bool) ([]*state.Key, error) {
	all, err := m.store.ListKeys(ctx, providerID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	eligible := make([]*state.Key, 0, len(all))
	for _, key := range all {
		if !key.EligibleAt(now) {
			continue
		}
		if filter != nil && !filter(key) {
			continue
		}
		eligible = append(eligible, key)
	}
	return eligible, nil
}

// List returns all keys for the provider, or every key when providerID
// is empty, regardless of eligibility.
func (m *Manager) List(ctx context.Context, providerID string) ([]*state.Key, error) {
	return m.store.ListKeys(ctx, providerID)
}
