package metrics

import (
	"github.com/securewatch/ingest/pkg/ingest"
)

// NewPipelineMetrics returns the Prometheus-backed pipeline service
// metrics, or nil when metrics are disabled.
func NewPipelineMetrics() ingest.PipelineMetrics {
	if !IsEnabled() || newPrometheusPipelineMetrics == nil {
		return nil
	}
	return newPrometheusPipelineMetrics()
}

var newPrometheusPipelineMetrics func() ingest.PipelineMetrics

// RegisterPipelineMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterPipelineMetricsConstructor(constructor func() ingest.PipelineMetrics) {
	newPrometheusPipelineMetrics = constructor
}
