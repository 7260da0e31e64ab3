package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingMetrics tracks metrics for the routing engine's scoring pipeline.
//
// Metrics:
//   - polaris_routing_decisions_total: Decision count by provider, strategy, outcome
//   - polaris_routing_decision_duration_seconds: Scoring pass duration histogram
//   - polaris_routing_candidates: Candidate pool size after filtering (histogram)
//   - polaris_routing_failovers_total: Failover hops by provider
type RoutingMetrics struct {
	// Decision counter by provider, strategy, and outcome
	decisionsTotal *prometheus.CounterVec

	// Scoring pass duration histogram
	decisionDuration *prometheus.HistogramVec

	// Candidate pool size after policy and quota filtering
	candidates *prometheus.HistogramVec

	// Failover hops during orchestration
	failoversTotal *prometheus.CounterVec
}

// NewRoutingMetrics creates and registers routing metrics with the provided registry.
func NewRoutingMetrics(cfg Config, registry *prometheus.Registry) *RoutingMetrics {
	rm := &RoutingMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "routing_decisions_total",
				Help:      "Total number of routing decisions",
			},
			[]string{"provider", "strategy", "outcome"},
		),

		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "routing_decision_duration_seconds",
				Help:      "Duration of routing decision scoring passes in seconds",
				Buckets:   cfg.DecisionDurationBuckets,
			},
			[]string{"provider", "strategy"},
		),

		candidates: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "routing_candidates",
				Help:      "Number of candidate keys remaining after filtering",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"provider"},
		),

		failoversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "routing_failovers_total",
				Help:      "Total number of failover hops to an alternative key",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		rm.decisionsTotal,
		rm.decisionDuration,
		rm.candidates,
		rm.failoversTotal,
	)

	return rm
}

// RecordDecision records a completed routing decision.
//
// Parameters:
//   - provider: provider the decision routed to
//   - strategy: strategy name
//   - outcome: "selected" or "no_eligible_keys"
//   - duration: scoring pass duration
//   - candidateCount: keys that survived filtering
func (rm *RoutingMetrics) RecordDecision(provider, strategy, outcome string, duration time.Duration, candidateCount int) {
	rm.decisionsTotal.WithLabelValues(provider, strategy, outcome).Inc()
	rm.decisionDuration.WithLabelValues(provider, strategy).Observe(duration.Seconds())
	rm.candidates.WithLabelValues(provider).Observe(float64(candidateCount))
}

// RecordFailover records one failover hop for a provider.
func (rm *RoutingMetrics) RecordFailover(provider string) {
	rm.failoversTotal.WithLabelValues(provider).Inc()
}
