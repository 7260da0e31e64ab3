package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// KeyMetrics tracks metrics for the key lifecycle.
//
// Metrics:
//   - polaris_keys: Keys by provider and lifecycle state (gauge)
//   - polaris_key_state_transitions_total: Lifecycle transitions by provider, from, to
//   - polaris_key_recoveries_total: Keys promoted back to available
type KeyMetrics struct {
	// Keys currently in each lifecycle state
	keysByState *prometheus.GaugeVec

	// Lifecycle transition counter
	transitionsTotal *prometheus.CounterVec

	// Recovery promotions from the background task
	recoveriesTotal *prometheus.CounterVec
}

// NewKeyMetrics creates and registers key metrics with the provided registry.
func NewKeyMetrics(cfg Config, registry *prometheus.Registry) *KeyMetrics {
	km := &KeyMetrics{
		keysByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "keys",
				Help:      "Number of registered keys by provider and lifecycle state",
			},
			[]string{"provider", "state"},
		),

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "key_state_transitions_total",
				Help:      "Total number of key lifecycle state transitions",
			},
			[]string{"provider", "from", "to"},
		),

		recoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "key_recoveries_total",
				Help:      "Total number of keys promoted back to available",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		km.keysByState,
		km.transitionsTotal,
		km.recoveriesTotal,
	)

	return km
}

// UpdateKeysByState sets the gauge for a provider and lifecycle state.
func (km *KeyMetrics) UpdateKeysByState(provider, state string, count int) {
	km.keysByState.WithLabelValues(provider, state).Set(float64(count))
}

// RecordTransition records one lifecycle transition.
func (km *KeyMetrics) RecordTransition(provider, from, to string) {
	km.transitionsTotal.WithLabelValues(provider, from, to).Inc()
}

// RecordRecovery records a key promoted back to available.
func (km *KeyMetrics) RecordRecovery(provider string) {
	km.recoveriesTotal.WithLabelValues(provider).Inc()
}
