// Package metrics provides Prometheus metrics collection for Polaris.
//
// # Overview
//
// The metrics package implements Prometheus metrics for monitoring routing
// decisions, key lifecycle, quota capacity, cost accounting, and end-to-end
// request outcomes. Metric updates are designed to stay off the hot path's
// critical section and to cost well under 50µs each.
//
// # Metrics Categories
//
//   - Routing Metrics: Decision count, duration, candidate pool sizes, failovers
//   - Key Metrics: Keys by state, state transitions, recoveries
//   - Quota Metrics: Capacity ratios, capacity-state changes, predicted exhaustion
//   - Cost Metrics: Recorded spend, reconciliation deltas, budget utilization and violations
//   - Request Metrics: Request count, duration, attempts per request
//
// # Usage
//
//	// Create collector
//	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)
//
//	// Record a routing decision
//	collector.RecordDecision("openai", "cost_optimized", "selected", 870*time.Microsecond, 4)
//
//	// Record key lifecycle
//	collector.RecordStateTransition("openai", "available", "throttled")
//	collector.UpdateKeysByState("openai", "available", 3)
//
//	// Record cost
//	collector.RecordSpend("openai", "actual", 0.0135)
//	collector.UpdateBudgetUtilization("team-alpha-daily", 0.82)
//
// # Cardinality Management
//
// Label sets that include a key id pass through a cardinality limiter
// (10,000 unique combinations). Beyond the limit, key ids are aggregated
// into "other" so a misbehaving registration loop cannot exhaust memory.
//
// # Prometheus Endpoint
//
// All metrics are exposed through Collector.Handler in standard Prometheus
// exposition format:
//
//	# HELP polaris_router_routing_decisions_total Total number of routing decisions
//	# TYPE polaris_router_routing_decisions_total counter
//	polaris_router_routing_decisions_total{outcome="selected",provider="openai",strategy="cost_optimized"} 1234
package metrics
