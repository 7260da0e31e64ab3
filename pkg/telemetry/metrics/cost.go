package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CostMetrics tracks cost accounting and budget enforcement metrics.
//
// Metrics:
//   - polaris_cost_spend_total: Recorded spend in USD by provider and method
//   - polaris_budget_utilization_ratio: Consumed/limit ratio per budget (gauge)
//   - polaris_budget_violations_total: Budget breaches by budget and enforcement
type CostMetrics struct {
	// Recorded spend counter (USD), method is "estimated" or "actual"
	spendTotal *prometheus.CounterVec

	// Budget utilization gauge
	utilization *prometheus.GaugeVec

	// Budget violation counter
	violationsTotal *prometheus.CounterVec
}

// NewCostMetrics creates and registers cost metrics with the provided registry.
func NewCostMetrics(cfg Config, registry *prometheus.Registry) *CostMetrics {
	cm := &CostMetrics{
		spendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cost_spend_total",
				Help:      "Total recorded spend in USD by provider and recording method",
			},
			[]string{"provider", "method"},
		),

		utilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_utilization_ratio",
				Help:      "Consumed amount as a ratio of the budget limit",
			},
			[]string{"budget_id"},
		),

		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_violations_total",
				Help:      "Total number of budget limit breaches",
			},
			[]string{"budget_id", "enforcement"},
		),
	}

	registry.MustRegister(
		cm.spendTotal,
		cm.utilization,
		cm.violationsTotal,
	)

	return cm
}

// RecordSpend records money spent against a provider.
//
// Parameters:
//   - provider: provider the spend was recorded against
//   - method: "estimated" or "actual"
//   - amountUSD: spend in USD
func (cm *CostMetrics) RecordSpend(provider, method string, amountUSD float64) {
	if amountUSD <= 0 {
		return
	}
	cm.spendTotal.WithLabelValues(provider, method).Add(amountUSD)
}

// UpdateUtilization sets the consumed/limit ratio for a budget.
func (cm *CostMetrics) UpdateUtilization(budgetID string, ratio float64) {
	cm.utilization.WithLabelValues(budgetID).Set(ratio)
}

// RecordViolation records one budget breach.
func (cm *CostMetrics) RecordViolation(budgetID, enforcement string) {
	cm.violationsTotal.WithLabelValues(budgetID, enforcement).Inc()
}
