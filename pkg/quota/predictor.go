package quota

import (
	"context"
	"time"

	"northstar-hq/polaris/pkg/state"
)

// Confidence buckets for exhaustion predictions.
type Confidence string

const (
	ConfidenceUnknown Confidence = "unknown"
	ConfidenceLow     Confidence = "low"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceHigh    Confidence = "high"
)

// Sample counts required for each bucket.
const (
	lowSampleFloor    = 2
	mediumSampleFloor = 5
	highSampleFloor   = 20
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether c is at least as confident as other.
func (c Confidence) AtLeast(other Confidence) bool {
	return c.rank() >= other.rank()
}

// Prediction is the engine's forecast of when a key's window runs out.
// ExhaustedAt is nil when the rate or remaining capacity is unknown.
type Prediction struct {
	KeyID       string     `json:"key_id"`
	ExhaustedAt *time.Time `json:"exhausted_at,omitempty"`
	Confidence  Confidence `json:"confidence"`

	// Observed consumption rates over the sample window.
	RequestsPerHour float64 `json:"requests_per_hour"`
	TokensPerHour   float64 `json:"tokens_per_hour"`

	// SampleCount is how many consumption samples backed the forecast.
	SampleCount int `json:"sample_count"`
}

// sample is one consumption observation.
type sample struct {
	at       time.Time
	requests int64
	tokens   int64
}

func (e *Engine) recordSample(keyID string, at time.Time, requests, tokens int64) {
	if requests <= 0 && tokens <= 0 {
		return
	}
	e.samplesMu.Lock()
	defer e.samplesMu.Unlock()

	kept := e.samples[keyID][:0]
	cutoff := at.Add(-e.predictionWindow)
	for _, s := range e.samples[keyID] {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	e.samples[keyID] = append(kept, sample{at: at, requests: requests, tokens: tokens})
}

func (e *Engine) windowSamples(keyID string, now time.Time) []sample {
	e.samplesMu.Lock()
	defer e.samplesMu.Unlock()

	cutoff := now.Add(-e.predictionWindow)
	var out []sample
	for _, s := range e.samples[keyID] {
		if s.at.After(cutoff) || s.at.Equal(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) dropSamples(keyID string) {
	e.samplesMu.Lock()
	defer e.samplesMu.Unlock()
	delete(e.samples, keyID)
}

// PredictExhaustion forecasts when the key's window runs out by dividing
// remaining capacity by the consumption rate observed over the sample
// window. A prediction landing before the reset boundary with at least
// medium confidence raises a constrained state to critical.
func (e *Engine) PredictExhaustion(ctx context.Context, keyID string) (*Prediction, error) {
	lock := e.lock(keyID)
	lock.Lock()
	defer lock.Unlock()

	qs, err := e.loadLocked(ctx, keyID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	pred := e.predict(qs, now)
	if e.shouldRaiseCritical(qs, pred) {
		from := qs.CapacityState
		qs.CapacityState = state.CapacityCritical
		qs.UpdatedAt = now
		if err := e.store.SaveQuotaState(ctx, qs); err != nil {
			return nil, err
		}
		e.recordTransition(ctx, qs, from, state.CapacityCritical, triggerPrediction)
		e.logger.Info("capacity state raised by prediction",
			"key_id", qs.KeyID,
			"predicted_exhaustion", pred.ExhaustedAt,
			"reset_at", qs.ResetAt,
			"confidence", pred.Confidence,
		)
	}
	return pred, nil
}

// predict computes the forecast from the recorded samples. The stripe
// lock must be held so qs is a stable snapshot.
func (e *Engine) predict(qs *state.QuotaState, now time.Time) *Prediction {
	pred := &Prediction{KeyID: qs.KeyID, Confidence: ConfidenceUnknown}

	samples := e.windowSamples(qs.KeyID, now)
	pred.SampleCount = len(samples)
	if len(samples) < lowSampleFloor {
		return pred
	}

	span := now.Sub(samples[0].at)
	if span < time.Minute {
		span = time.Minute
	}
	hours := span.Hours()

	var requests, tokens int64
	for _, s := range samples {
		requests += s.requests
		tokens += s.tokens
	}
	pred.RequestsPerHour = float64(requests) / hours
	pred.TokensPerHour = float64(tokens) / hours

	rate := pred.RequestsPerHour
	if qs.Unit == state.UnitTokens {
		rate = pred.TokensPerHour
	}
	remaining, known := qs.Remaining.Amount()
	if !known || rate <= 0 {
		return pred
	}

	hoursLeft := float64(remaining) / rate
	at := now.Add(time.Duration(hoursLeft * float64(time.Hour)))
	pred.ExhaustedAt = &at

	switch {
	case len(samples) >= highSampleFloor:
		pred.Confidence = ConfidenceHigh
	case len(samples) >= mediumSampleFloor:
		pred.Confidence = ConfidenceMedium
	default:
		pred.Confidence = ConfidenceLow
	}
	return pred
}

// shouldRaiseCritical reports whether the forecast justifies raising a
// constrained state to critical.
func (e *Engine) shouldRaiseCritical(qs *state.QuotaState, pred *Prediction) bool {
	return qs.CapacityState == state.CapacityConstrained && predictsEarlyExhaustion(pred, qs.ResetAt)
}

// predictsEarlyExhaustion reports whether the forecast lands before the
// reset boundary with at least medium confidence.
func predictsEarlyExhaustion(pred *Prediction, resetAt time.Time) bool {
	if pred == nil || pred.ExhaustedAt == nil {
		return false
	}
	return pred.ExhaustedAt.Before(resetAt) && pred.Confidence.AtLeast(ConfidenceMedium)
}
