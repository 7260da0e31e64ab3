package quota

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
)

// Capacity thresholds on the remaining/total ratio.
const (
	abundantThreshold    = 0.80
	constrainedThreshold = 0.50
	criticalThreshold    = 0.20
)

// DefaultRecoveringWindow is how long before reset an exhausted state
// flips to recovering.
const DefaultRecoveringWindow = 5 * time.Minute

// DefaultPredictionWindow bounds the consumption samples the predictor
// considers.
const DefaultPredictionWindow = 10 * time.Minute

const lockStripes = 64

// Confidence the engine assigns to remaining values it derived from its
// own counters rather than observed from the provider.
const derivedConfidence = 0.8

// Transition trigger tags recorded on quota-entity audit records.
const (
	triggerReset      = "quota_reset"
	triggerExhausted  = "quota_exhausted"
	triggerThreshold  = "capacity_threshold"
	triggerPrediction = "prediction"
	triggerRecovering = "pre_reset_window"
)

// KeyLifecycleListener receives quota-driven key lifecycle requests. The
// engine never mutates keys itself; the orchestrator registers an
// implementation backed by the key manager.
type KeyLifecycleListener interface {
	// QuotaExhausted fires when a key's capacity state crosses into
	// exhausted.
	QuotaExhausted(ctx context.Context, keyID string)

	// QuotaRecovering fires when an exhausted state enters the pre-reset
	// window.
	QuotaRecovering(ctx context.Context, keyID string)

	// QuotaReset fires when a window reset clears an exhausted or
	// recovering capacity state.
	QuotaReset(ctx context.Context, keyID string)
}

type nopListener struct{}

func (nopListener) QuotaExhausted(context.Context, string)  {}
func (nopListener) QuotaRecovering(context.Context, string) {}
func (nopListener) QuotaReset(context.Context, string)      {}

// Options carries the engine's collaborators and window configuration.
// Store is required; everything else has a default.
type Options struct {
	Store    state.StateStore
	Clock    clock.Clock
	IDs      clock.IDSource
	Emitter  events.Emitter
	Logger   *logging.Logger
	Metrics  *metrics.Collector
	Listener KeyLifecycleListener

	// Unit is the capacity unit for lazily created states. Defaults to
	// requests.
	Unit state.CapacityUnit

	// Window is the accounting period for lazily created states.
	// Defaults to hourly.
	Window state.TimeWindow

	// CustomWindow is the period length when Window is custom.
	CustomWindow time.Duration

	// RecoveringWindow is how long before reset exhausted becomes
	// recovering.
	RecoveringWindow time.Duration

	// PredictionWindow bounds the consumption samples the predictor
	// considers.
	PredictionWindow time.Duration
}

// Engine owns QuotaState records. All writes for one key serialize on
// that key's stripe lock.
type Engine struct {
	store    state.StateStore
	clock    clock.Clock
	ids      clock.IDSource
	emitter  events.Emitter
	logger   *logging.Logger
	metrics  *metrics.Collector
	listener KeyLifecycleListener

	unit             state.CapacityUnit
	window           state.TimeWindow
	customWindow     time.Duration
	recoveringWindow time.Duration
	predictionWindow time.Duration

	locks [lockStripes]sync.Mutex

	samplesMu sync.Mutex
	samples   map[string][]sample
}

// NewEngine creates a quota engine from opts.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("quota: store is required")
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
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Unit == "" {
		opts.Unit = state.UnitRequests
	}
	if opts.Window == "" {
		opts.Window = state.WindowHourly
	}
	if !opts.Window.Valid() {
		return nil, fmt.Errorf("quota: unknown window %q", opts.Window)
	}
	if opts.RecoveringWindow <= 0 {
		opts.RecoveringWindow = DefaultRecoveringWindow
	}
	if opts.PredictionWindow <= 0 {
		opts.PredictionWindow = DefaultPredictionWindow
	}

	return &Engine{
		store:            opts.Store,
		clock:            opts.Clock,
		ids:              opts.IDs,
		emitter:          opts.Emitter,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		listener:         opts.Listener,
		unit:             opts.Unit,
		window:           opts.Window,
		customWindow:     opts.CustomWindow,
		recoveringWindow: opts.RecoveringWindow,
		predictionWindow: opts.PredictionWindow,
		samples:          make(map[string][]sample),
	}, nil
}

func (e *Engine) lock(keyID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(keyID))
	return &e.locks[h.Sum32()%lockStripes]
}

// State returns the key's quota state, creating a default abundant state
// on first reference and applying a window reset when the boundary has
// passed.
func (e *Engine) State(ctx context.Context, keyID string) (*state.QuotaState, error) {
	lock := e.lock(keyID)
	lock.Lock()
	defer lock.Unlock()
	return e.loadLocked(ctx, keyID)
}

// loadLocked fetches, lazily creates, and reset-checks the state. The
// key's stripe lock must be held.
func (e *Engine) loadLocked(ctx context.Context, keyID string) (*state.QuotaState, error) {
	qs, err := e.store.GetQuotaState(ctx, keyID)
	if errors.Is(err, state.ErrNotFound) {
		qs = e.newDefaultState(keyID)
		if err := e.store.SaveQuotaState(ctx, qs); err != nil {
			return nil, err
		}
		return qs, nil
	}
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	switch {
	case !now.Before(qs.ResetAt):
		if err := e.resetLocked(ctx, qs, now); err != nil {
			return nil, err
		}
	case qs.CapacityState == state.CapacityExhausted && qs.ResetAt.Sub(now) <= e.recoveringWindow:
		// Time alone moves exhausted into the pre-reset window, so the
		// flip has to happen on read, not only on consumption.
		qs.CapacityState = state.CapacityRecovering
		qs.UpdatedAt = now
		if err := e.store.SaveQuotaState(ctx, qs); err != nil {
			return nil, err
		}
		e.recordTransition(ctx, qs, state.CapacityExhausted, state.CapacityRecovering, triggerRecovering)
		e.listener.QuotaRecovering(ctx, qs.KeyID)
	}
	return qs, nil
}

func (e *Engine) newDefaultState(keyID string) *state.QuotaState {
	now := e.clock.Now()
	return &state.QuotaState{
		ID:            e.ids.NewID(),
		KeyID:         keyID,
		CapacityState: state.CapacityAbundant,
		Unit:          e.unit,
		Remaining:     state.UnknownCapacity(),
		Window:        e.window,
		CustomWindow:  e.customWindow,
		ResetAt:       e.window.NextReset(now, e.customWindow),
		UpdatedAt:     now,
	}
}

// resetLocked zeroes the window counters, advances the boundary, and
// returns the capacity state to abundant. Exhausted and recovering states
// notify the listener so the key manager can promote the key.
func (e *Engine) resetLocked(ctx context.Context, qs *state.QuotaState, now time.Time) error {
	from := qs.CapacityState

	qs.Used = 0
	qs.TokensUsed = 0
	qs.CapacityState = state.CapacityAbundant
	qs.ResetAt = qs.Window.NextReset(now, qs.CustomWindow)
	qs.UpdatedAt = now
	if qs.Total != nil {
		qs.Remaining = state.Exact(*qs.Total, 1.0, state.MethodDefault)
	} else {
		qs.Remaining = state.UnknownCapacity()
	}
	if qs.TokensTotal != nil {
		est := state.Exact(*qs.TokensTotal, 1.0, state.MethodDefault)
		qs.TokensRemaining = &est
	} else {
		qs.TokensRemaining = nil
	}

	if err := e.store.SaveQuotaState(ctx, qs); err != nil {
		return err
	}
	e.recordTransition(ctx, qs, from, state.CapacityAbundant, triggerReset)
	e.dropSamples(qs.KeyID)

	if from == state.CapacityExhausted || from == state.CapacityRecovering {
		e.listener.QuotaReset(ctx, qs.KeyID)
	}
	e.logger.Debug("quota window reset",
		"key_id", qs.KeyID,
		"from", from,
		"reset_at", qs.ResetAt,
	)
	return nil
}

// Consumption is one batch of usage applied to a key's window. Observed
// values, when present, override the engine's own arithmetic with what
// the provider reported.
type Consumption struct {
	// ProviderID labels metrics; consumption itself is keyed by key id.
	ProviderID string

	// Requests consumed.
	Requests int64

	// Tokens consumed, meaningful for token and mixed units.
	Tokens int64

	// ObservedRemaining replaces the derived remaining estimate, for
	// callers that saw provider rate-limit headers.
	ObservedRemaining *state.CapacityEstimate

	// ObservedTotal replaces the window total.
	ObservedTotal *int64
}

// UpdateCapacity atomically applies consumption to the key's window,
// recomputes the capacity state, and persists. Crossing into exhausted
// notifies the lifecycle listener; any severity increase emits
// quota_state_changed.
func (e *Engine) UpdateCapacity(ctx context.Context, keyID string, c Consumption) (*state.QuotaState, error) {
	lock := e.lock(keyID)
	lock.Lock()
	defer lock.Unlock()

	qs, err := e.loadLocked(ctx, keyID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	qs.Used += c.Requests
	qs.TokensUsed += c.Tokens

	if c.ObservedTotal != nil {
		total := *c.ObservedTotal
		qs.Total = &total
	}
	switch {
	case c.ObservedRemaining != nil:
		qs.Remaining = *c.ObservedRemaining
	case qs.Remaining.Known():
		qs.Remaining = decrementEstimate(qs.Remaining, e.consumedUnits(qs, c))
	case qs.Total != nil:
		left := *qs.Total - qs.Used
		if left < 0 {
			left = 0
		}
		qs.Remaining = state.Exact(left, derivedConfidence, state.MethodHeuristic)
	}
	if qs.Unit == state.UnitMixed && qs.TokensRemaining != nil && c.ObservedRemaining == nil {
		est := decrementEstimate(*qs.TokensRemaining, c.Tokens)
		qs.TokensRemaining = &est
	}

	e.recordSample(keyID, now, c.Requests, c.Tokens)

	from := qs.CapacityState
	to := e.deriveState(qs, now)
	trigger := triggerThreshold
	if to == state.CapacityConstrained {
		if pred := e.predict(qs, now); predictsEarlyExhaustion(pred, qs.ResetAt) {
			to = state.CapacityCritical
			trigger = triggerPrediction
		}
	}
	if to == state.CapacityExhausted {
		trigger = triggerExhausted
	}
	qs.CapacityState = to
	qs.UpdatedAt = now

	if err := e.store.SaveQuotaState(ctx, qs); err != nil {
		return nil, err
	}

	if from != to {
		e.recordTransition(ctx, qs, from, to, trigger)
		if severity(to) > severity(from) {
			e.emitter.Emit(ctx, events.Event{
				Name:      events.QuotaStateChanged,
				Timestamp: now,
				Fields: map[string]any{
					"key_id":  qs.KeyID,
					"from":    string(from),
					"to":      string(to),
					"trigger": trigger,
				},
			})
		}
		if e.metrics != nil && c.ProviderID != "" {
			e.metrics.RecordCapacityStateChange(c.ProviderID, string(from), string(to))
		}
		e.logger.Info("quota capacity state changed",
			"key_id", qs.KeyID,
			"from", from,
			"to", to,
			"trigger", trigger,
		)
	}
	if e.metrics != nil && c.ProviderID != "" {
		if ratio, ok := e.ratio(qs); ok {
			e.metrics.UpdateQuotaCapacity(c.ProviderID, qs.KeyID, ratio)
		}
	}

	if to == state.CapacityExhausted && from != state.CapacityExhausted {
		e.listener.QuotaExhausted(ctx, qs.KeyID)
	}

	return qs.Clone(), nil
}

// SetLimit declares the window total for a key, recomputing remaining
// capacity and the derived state. A zero total clears the limit back to
// unknown.
func (e *Engine) SetLimit(ctx context.Context, keyID string, total int64) (*state.QuotaState, error) {
	if total < 0 {
		return nil, fmt.Errorf("quota: negative total %d", total)
	}

	lock := e.lock(keyID)
	lock.Lock()
	defer lock.Unlock()

	qs, err := e.loadLocked(ctx, keyID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	if total == 0 {
		qs.Total = nil
		qs.Remaining = state.UnknownCapacity()
	} else {
		qs.Total = &total
		left := total - qs.Used
		if left < 0 {
			left = 0
		}
		qs.Remaining = state.Exact(left, derivedConfidence, state.MethodHeuristic)
	}

	from := qs.CapacityState
	to := e.deriveState(qs, now)
	qs.CapacityState = to
	qs.UpdatedAt = now

	if err := e.store.SaveQuotaState(ctx, qs); err != nil {
		return nil, err
	}
	if from != to {
		e.recordTransition(ctx, qs, from, to, triggerThreshold)
		if to == state.CapacityExhausted {
			e.listener.QuotaExhausted(ctx, qs.KeyID)
		}
	}
	return qs.Clone(), nil
}

// FilterByQuotaState drops exhausted keys from the candidate set. Returns
// the survivors, the quota state for every candidate, and the dropped
// keys for decision explanations.
func (e *Engine) FilterByQuotaState(ctx context.Context, keys []*state.Key) ([]*state.Key, map[string]*state.QuotaState, []*state.Key, error) {
	kept := make([]*state.Key, 0, len(keys))
	states := make(map[string]*state.QuotaState, len(keys))
	var dropped []*state.Key

	for _, key := range keys {
		qs, err := e.State(ctx, key.ID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("quota state for key %q: %w", key.ID, err)
		}
		states[key.ID] = qs
		if qs.CapacityState == state.CapacityExhausted {
			dropped = append(dropped, key)
			continue
		}
		kept = append(kept, key)
	}
	return kept, states, dropped, nil
}

// deriveState maps the remaining/total ratio onto a capacity state. With
// no usable ratio the state stays abundant: scarcity requires evidence.
// Exhausted flips to recovering inside the pre-reset window.
func (e *Engine) deriveState(qs *state.QuotaState, now time.Time) state.CapacityState {
	ratio, ok := e.ratio(qs)
	if !ok {
		return state.CapacityAbundant
	}

	var derived state.CapacityState
	switch {
	case ratio >= abundantThreshold:
		derived = state.CapacityAbundant
	case ratio >= constrainedThreshold:
		derived = state.CapacityConstrained
	case ratio >= criticalThreshold:
		derived = state.CapacityCritical
	default:
		derived = state.CapacityExhausted
	}

	if derived == state.CapacityExhausted && qs.ResetAt.Sub(now) <= e.recoveringWindow {
		return state.CapacityRecovering
	}
	return derived
}

// ratio returns remaining/total. For mixed units the scarcer side wins.
func (e *Engine) ratio(qs *state.QuotaState) (float64, bool) {
	ratio, ok := sideRatio(qs.Remaining, qs.Total)
	if qs.Unit == state.UnitMixed && qs.TokensRemaining != nil {
		if tokenRatio, tokenOK := sideRatio(*qs.TokensRemaining, qs.TokensTotal); tokenOK {
			if !ok || tokenRatio < ratio {
				ratio = tokenRatio
			}
			ok = true
		}
	}
	return ratio, ok
}

func sideRatio(remaining state.CapacityEstimate, total *int64) (float64, bool) {
	if total == nil || *total <= 0 {
		return 0, false
	}
	amount, ok := remaining.Amount()
	if !ok {
		return 0, false
	}
	ratio := float64(amount) / float64(*total)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio, true
}

func (e *Engine) consumedUnits(qs *state.QuotaState, c Consumption) int64 {
	if qs.Unit == state.UnitTokens {
		return c.Tokens
	}
	return c.Requests
}

// decrementEstimate shifts an estimate down by n without changing its
// shape, flooring at zero.
func decrementEstimate(est state.CapacityEstimate, n int64) state.CapacityEstimate {
	if n <= 0 {
		return est
	}
	floor := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	switch est.Kind {
	case state.EstimateExact:
		est.Value = floor(est.Value - n)
	case state.EstimateRange:
		est.Min = floor(est.Min - n)
		est.Max = floor(est.Max - n)
	case state.EstimateAtLeast, state.EstimateAtMost:
		est.Bound = floor(est.Bound - n)
	}
	return est
}

func (e *Engine) recordTransition(ctx context.Context, qs *state.QuotaState, from, to state.CapacityState, trigger string) {
	transition := &state.StateTransition{
		ID:         e.ids.NewID(),
		EntityType: state.EntityQuota,
		EntityID:   qs.KeyID,
		FromState:  string(from),
		ToState:    string(to),
		Timestamp:  qs.UpdatedAt,
		Trigger:    trigger,
	}
	if err := e.store.SaveStateTransition(ctx, transition); err != nil {
		e.logger.Warn("quota transition audit write failed",
			"key_id", qs.KeyID,
			"from", from,
			"to", to,
			"error", err,
		)
	}
}

// severity orders capacity states from healthiest to most depleted.
func severity(s state.CapacityState) int {
	switch s {
	case state.CapacityAbundant:
		return 0
	case state.CapacityConstrained:
		return 1
	case state.CapacityCritical:
		return 2
	case state.CapacityRecovering:
		return 3
	case state.CapacityExhausted:
		return 4
	default:
		return 0
	}
}
