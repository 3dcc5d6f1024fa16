package metrics

import (
	"github.com/securewatch/ingest/pkg/flow"
)

// NewGateMetrics returns the Prometheus-backed flow-control gate metrics,
// or nil when metrics are disabled.
func NewGateMetrics() flow.GateMetrics {
	if !IsEnabled() || newPrometheusGateMetrics == nil {
		return nil
	}
	return newPrometheusGateMetrics()
}

// NewBreakerMetrics returns the Prometheus-backed circuit breaker metrics,
// or nil when metrics are disabled.
func NewBreakerMetrics() flow.BreakerMetrics {
	if !IsEnabled() || newPrometheusBreakerMetrics == nil {
		return nil
	}
	return newPrometheusBreakerMetrics()
}

var (
	newPrometheusGateMetrics    func() flow.GateMetrics
	newPrometheusBreakerMetrics func() flow.BreakerMetrics
)

// RegisterGateMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterGateMetricsConstructor(constructor func() flow.GateMetrics) {
	newPrometheusGateMetrics = constructor
}

// RegisterBreakerMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterBreakerMetricsConstructor(constructor func() flow.BreakerMetrics) {
	newPrometheusBreakerMetrics = constructor
}
