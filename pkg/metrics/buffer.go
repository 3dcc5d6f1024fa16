package metrics

import (
	"github.com/securewatch/ingest/pkg/buffer"
)

// NewBufferMetrics returns the Prometheus-backed buffer manager metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the
// buffer manager treats a nil interface as disabled collection.
func NewBufferMetrics() buffer.ManagerMetrics {
	if !IsEnabled() || newPrometheusBufferMetrics == nil {
		return nil
	}
	return newPrometheusBufferMetrics()
}

// NewDiskMetrics returns the Prometheus-backed disk log metrics, or nil
// when metrics are disabled.
func NewDiskMetrics() buffer.DiskMetrics {
	if !IsEnabled() || newPrometheusDiskMetrics == nil {
		return nil
	}
	return newPrometheusDiskMetrics()
}

// Constructors are registered by pkg/metrics/prometheus during package
// initialization. The indirection avoids an import cycle between the
// interface consumers and the implementation.
var (
	newPrometheusBufferMetrics func() buffer.ManagerMetrics
	newPrometheusDiskMetrics   func() buffer.DiskMetrics
)

// RegisterBufferMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterBufferMetricsConstructor(constructor func() buffer.ManagerMetrics) {
	newPrometheusBufferMetrics = constructor
}

// RegisterDiskMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterDiskMetricsConstructor(constructor func() buffer.DiskMetrics) {
	newPrometheusDiskMetrics = constructor
}
