package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/securewatch/ingest/pkg/ingest"
	"github.com/securewatch/ingest/pkg/metrics"
)

func init() {
	metrics.RegisterPipelineMetricsConstructor(newPipelineMetrics)
}

// pipelineMetrics implements ingest.PipelineMetrics.
type pipelineMetrics struct {
	processed        *prometheus.CounterVec
	batchSize        prometheus.Gauge
	performanceScore prometheus.Gauge
	parserSuccess    *prometheus.GaugeVec
}

func newPipelineMetrics() ingest.PipelineMetrics {
	reg := metrics.GetRegistry()
	return &pipelineMetrics{
		processed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securewatch_pipeline_records_total",
			Help: "Records processed by the pipeline, by result",
		}, []string{"result"}),
		batchSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_adaptive_batch_size",
			Help: "Current adaptive dispatch batch size",
		}),
		performanceScore: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_adaptive_batch_performance_score",
			Help: "Batch sizer performance score (0-1)",
		}),
		parserSuccess: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "securewatch_parser_success_rate",
			Help: "Per-parser success rate (0-1)",
		}, []string{"parser_id"}),
	}
}

func (m *pipelineMetrics) RecordProcessed(n int, result string) {
	m.processed.WithLabelValues(result).Add(float64(n))
}

func (m *pipelineMetrics) SetBatchSize(size int) { m.batchSize.Set(float64(size)) }

func (m *pipelineMetrics) SetPerformanceScore(score float64) {
	m.performanceScore.Set(score)
}

func (m *pipelineMetrics) SetParserSuccessRate(parserID string, rate float64) {
	m.parserSuccess.WithLabelValues(parserID).Set(rate)
}
