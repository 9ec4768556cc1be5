package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// budgetFractions are latency bucket bounds as fractions of the operation budget.
var budgetFractions = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2} //nolint:gochecknoglobals // constant table

// WithNamespace sets the metric namespace. Empty keeps "amep".
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithLatencyBudget derives the estimator, planner, worker and snapshot
// latency buckets from the operation budget in milliseconds.
func WithLatencyBudget(budgetMs float64) Option {
	return func(m *Manager) {
		if budgetMs <= 0 {
			return
		}
		m.latencyBuckets = make([]float64, len(budgetFractions))
		for i, f := range budgetFractions {
			m.latencyBuckets[i] = budgetMs * f
		}
	}
}

// WithHTTPBuckets sets the request duration buckets in milliseconds.
func WithHTTPBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.httpBuckets = buckets
		}
	}
}

// WithPrometheusRegistry sets the registry collectors are registered on.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}
