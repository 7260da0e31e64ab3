package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks end-to-end request orchestration metrics.
//
// Metrics:
//   - polaris_requests_total: Request count by provider and outcome
//   - polaris_request_duration_seconds: End-to-end duration histogram
//   - polaris_request_attempts: Execution attempts per request (histogram)
type RequestMetrics struct {
	// Request counter by provider and outcome
	requestsTotal *prometheus.CounterVec

	// End-to-end duration including failover attempts
	requestDuration *prometheus.HistogramVec

	// Attempts per request (1 = no failover)
	requestAttempts *prometheus.HistogramVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg Config, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of routed requests",
			},
			[]string{"provider", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds including failover",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"provider"},
		),

		requestAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_attempts",
				Help:      "Execution attempts per request, 1 means no failover",
				Buckets:   []float64{1, 2, 3},
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.requestAttempts,
	)

	return rm
}

// RecordRequest records metrics for one completed request.
//
// Parameters:
//   - provider: provider that served (or last attempted) the request
//   - outcome: "success", "error", or "rejected"
//   - duration: end-to-end duration
//   - attempts: execution attempts made
func (rm *RequestMetrics) RecordRequest(provider, outcome string, duration time.Duration, attempts int) {
	rm.requestsTotal.WithLabelValues(provider, outcome).Inc()
	rm.requestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if attempts > 0 {
		rm.requestAttempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}
