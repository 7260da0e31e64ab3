package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QuotaMetrics tracks metrics for quota capacity tracking.
//
// Metrics:
//   - polaris_quota_capacity_ratio: Remaining capacity ratio per key (gauge)
//   - polaris_quota_state_changes_total: Capacity-state changes by provider, from, to
//   - polaris_quota_exhaustions_total: Keys driven to exhausted by capacity updates
type QuotaMetrics struct {
	// Remaining capacity ratio (0.0 - 1.0) per key
	capacityRatio *prometheus.GaugeVec

	// Capacity-state change counter
	stateChangesTotal *prometheus.CounterVec

	// Exhaustion counter
	exhaustionsTotal *prometheus.CounterVec
}

// NewQuotaMetrics creates and registers quota metrics with the provided registry.
func NewQuotaMetrics(cfg Config, registry *prometheus.Registry) *QuotaMetrics {
	qm := &QuotaMetrics{
		capacityRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "quota_capacity_ratio",
				Help:      "Remaining quota capacity as a ratio of the total window",
			},
			[]string{"provider", "key_id"},
		),

		stateChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "quota_state_changes_total",
				Help:      "Total number of quota capacity-state changes",
			},
			[]string{"provider", "from", "to"},
		),

		exhaustionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "quota_exhaustions_total",
				Help:      "Total number of keys driven to exhausted by capacity updates",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		qm.capacityRatio,
		qm.stateChangesTotal,
		qm.exhaustionsTotal,
	)

	return qm
}

// UpdateCapacity sets the remaining capacity ratio for a key.
func (qm *QuotaMetrics) UpdateCapacity(provider, keyID string, ratio float64) {
	qm.capacityRatio.WithLabelValues(provider, keyID).Set(ratio)
}

// RecordStateChange records one capacity-state change. Transitions into
// "exhausted" also increment the exhaustion counter.
func (qm *QuotaMetrics) RecordStateChange(provider, from, to string) {
	qm.stateChangesTotal.WithLabelValues(provider, from, to).Inc()
	if to == "exhausted" {
		qm.exhaustionsTotal.WithLabelValues(provider).Inc()
	}
}
