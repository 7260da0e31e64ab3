package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls metric collection behavior. It is self-contained so the
// collector can be constructed before (or without) the full application
// configuration.
type Config struct {
	// Enabled toggles all metric recording. When false, record methods
	// return immediately without touching the registry.
	Enabled bool

	// Namespace is the first component of every metric name.
	// Defaults to "polaris".
	Namespace string

	// Subsystem is the second component of every metric name.
	// Defaults to "router".
	Subsystem string

	// DecisionDurationBuckets are histogram buckets, in seconds, for
	// routing decision latency. Defaults target sub-millisecond decisions.
	DecisionDurationBuckets []float64

	// RequestDurationBuckets are histogram buckets, in seconds, for
	// end-to-end request latency including provider execution.
	RequestDurationBuckets []float64
}

// Collector is the orchestrator for all Prometheus metrics in Polaris.
// It manages metric registration and provides a unified recording interface
// for the routing, key, quota, cost, and request domains.
//
// The collector keeps overhead low:
//   - Pre-allocated metric vectors
//   - Cardinality limits on key-id labels
//   - Histogram buckets tuned for routing decisions and LLM latencies
type Collector struct {
	config   Config
	registry *prometheus.Registry

	routingMetrics *RoutingMetrics
	keyMetrics     *KeyMetrics
	quotaMetrics   *QuotaMetrics
	costMetrics    *CostMetrics
	requestMetrics *RequestMetrics

	// Limits unique key-id label combinations.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified
// configuration and Prometheus registry. If registry is nil, a fresh
// registry is created.
//
// Example:
//
//	cfg := metrics.Config{
//		Enabled:   true,
//		Namespace: "polaris",
//		Subsystem: "router",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "polaris"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "router"
	}
	if len(cfg.DecisionDurationBuckets) == 0 {
		// Decisions are in-memory scoring passes (10µs - 100ms)
		cfg.DecisionDurationBuckets = []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		// End-to-end latencies including provider round trips (100ms - 30s)
		cfg.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(10000),
	}

	c.routingMetrics = NewRoutingMetrics(cfg, registry)
	c.keyMetrics = NewKeyMetrics(cfg, registry)
	c.quotaMetrics = NewQuotaMetrics(cfg, registry)
	c.costMetrics = NewCostMetrics(cfg, registry)
	c.requestMetrics = NewRequestMetrics(cfg, registry)

	return c
}

// RecordDecision records a completed routing decision.
//
// Parameters:
//   - provider: provider the decision routed to
//   - strategy: strategy name ("cost_optimized", "reliability_first", ...)
//   - outcome: "selected" or "no_eligible_keys"
//   - duration: scoring pass duration
//   - candidates: number of keys that survived filtering
func (c *Collector) RecordDecision(provider, strategy, outcome string, duration time.Duration, candidates int) {
	if !c.config.Enabled {
		return
	}
	c.routingMetrics.RecordDecision(provider, strategy, outcome, duration, candidates)
}

// RecordFailover records one failover hop during request orchestration.
func (c *Collector) RecordFailover(provider string) {
	if !c.config.Enabled {
		return
	}
	c.routingMetrics.RecordFailover(provider)
}

// UpdateKeysByState sets the number of keys currently in a lifecycle state
// for a provider. Called from periodic state scans, not per request.
func (c *Collector) UpdateKeysByState(provider, keyState string, count int) {
	if !c.config.Enabled {
		return
	}
	c.keyMetrics.UpdateKeysByState(provider, keyState, count)
}

// RecordStateTransition records a key lifecycle transition.
func (c *Collector) RecordStateTransition(provider, from, to string) {
	if !c.config.Enabled {
		return
	}
	c.keyMetrics.RecordTransition(provider, from, to)
}

// RecordRecovery records a key promoted back to available by the
// background recovery task.
func (c *Collector) RecordRecovery(provider string) {
	if !c.config.Enabled {
		return
	}
	c.keyMetrics.RecordRecovery(provider)
}

// UpdateQuotaCapacity sets the remaining capacity ratio for a key.
// Key ids pass through the cardinality limiter; beyond the limit the
// key id is aggregated into "other".
func (c *Collector) UpdateQuotaCapacity(provider, keyID string, ratio float64) {
	if !c.config.Enabled {
		return
	}
	keyID = c.limitKeyID("quota", provider, keyID)
	c.quotaMetrics.UpdateCapacity(provider, keyID, ratio)
}

// RecordCapacityStateChange records a quota capacity-state change
// (abundant, constrained, critical, exhausted).
func (c *Collector) RecordCapacityStateChange(provider, from, to string) {
	if !c.config.Enabled {
		return
	}
	c.quotaMetrics.RecordStateChange(provider, from, to)
}

// RecordSpend records money spent against a provider. Method is
// "estimated" when recorded before execution and "actual" after
// reconciliation with the provider response.
func (c *Collector) RecordSpend(provider, method string, amountUSD float64) {
	if !c.config.Enabled {
		return
	}
	c.costMetrics.RecordSpend(provider, method, amountUSD)
}

// UpdateBudgetUtilization sets the consumed/limit ratio for a budget.
func (c *Collector) UpdateBudgetUtilization(budgetID string, ratio float64) {
	if !c.config.Enabled {
		return
	}
	c.costMetrics.UpdateUtilization(budgetID, ratio)
}

// RecordBudgetViolation records a budget limit breach.
//
// Parameters:
//   - budgetID: violated budget identifier
//   - enforcement: "hard", "soft", or "advisory"
func (c *Collector) RecordBudgetViolation(budgetID, enforcement string) {
	if !c.config.Enabled {
		return
	}
	c.costMetrics.RecordViolation(budgetID, enforcement)
}

// RecordRequest records a completed routed request.
//
// Parameters:
//   - provider: provider that served (or last attempted) the request
//   - outcome: "success", "error", or "rejected"
//   - duration: end-to-end duration including failover attempts
//   - attempts: number of execution attempts (1..3)
func (c *Collector) RecordRequest(provider, outcome string, duration time.Duration, attempts int) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordRequest(provider, outcome, duration, attempts)
}

// Registry returns the Prometheus registry used by this collector.
// This can be used to create an HTTP handler for the /metrics endpoint:
//
//	http.Handle("/metrics", promhttp.HandlerFor(
//		collector.Registry(),
//		promhttp.HandlerOpts{},
//	))
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) limitKeyID(domain, provider, keyID string) string {
	labelSet := fmt.Sprintf("%s:%s:%s", domain, provider, keyID)
	if !c.cardinalityLimiter.Allow(labelSet) {
		return "other"
	}
	return keyID
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label set is allowed. Returns true if the label set
// already exists or if the cardinality limit has not been reached yet.
// Returns false if adding this label set would exceed the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
