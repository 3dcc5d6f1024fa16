// Package prometheus holds the Prometheus implementations of the metric
// interfaces defined next to their consumers. Each implementation registers
// its constructor with pkg/metrics at init time; importing this package is
// what makes metrics.New*Metrics return live collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/securewatch/ingest/pkg/buffer"
	"github.com/securewatch/ingest/pkg/metrics"
)

func init() {
	metrics.RegisterBufferMetricsConstructor(newBufferMetrics)
	metrics.RegisterDiskMetricsConstructor(newDiskMetrics)
}

// bufferMetrics implements buffer.ManagerMetrics.
type bufferMetrics struct {
	enqueued        prometheus.Counter
	throttled       prometheus.Counter
	spilled         prometheus.Counter
	dropped         *prometheus.CounterVec
	memoryDepth     prometheus.Gauge
	diskDepth       prometheus.Gauge
	backpressure    prometheus.Gauge
	dispatchLatency prometheus.Histogram
	dispatchFailed  prometheus.Counter
}

func newBufferMetrics() buffer.ManagerMetrics {
	reg := metrics.GetRegistry()
	return &bufferMetrics{
		enqueued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_buffer_events_enqueued_total",
			Help: "Records accepted into the ingestion buffer",
		}),
		throttled: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_buffer_events_throttled_total",
			Help: "Records refused by the flow-control gate at enqueue",
		}),
		spilled: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_buffer_events_spilled_total",
			Help: "Records moved from the memory tier to the disk tier",
		}),
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securewatch_buffer_events_dropped_total",
			Help: "Records dropped by the buffer manager",
		}, []string{"reason"}),
		memoryDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_buffer_memory_depth",
			Help: "Items currently held in the memory ring",
		}),
		diskDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_buffer_disk_depth",
			Help: "Unread items currently held in the disk log",
		}),
		backpressure: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_backpressure_active",
			Help: "Whether the backpressure monitor signal is active (0/1)",
		}),
		dispatchLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "securewatch_dispatch_latency_seconds",
			Help:    "Latency of downstream batch dispatches",
			Buckets: prometheus.DefBuckets,
		}),
		dispatchFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_dispatch_failures_total",
			Help: "Downstream batch dispatches that were nacked",
		}),
	}
}

func (m *bufferMetrics) RecordEnqueued(n int)  { m.enqueued.Add(float64(n)) }
func (m *bufferMetrics) RecordThrottled(n int) { m.throttled.Add(float64(n)) }
func (m *bufferMetrics) RecordSpilled(n int)   { m.spilled.Add(float64(n)) }

func (m *bufferMetrics) RecordDropped(n int, reason string) {
	m.dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *bufferMetrics) SetMemoryDepth(n int) { m.memoryDepth.Set(float64(n)) }
func (m *bufferMetrics) SetDiskDepth(n int)   { m.diskDepth.Set(float64(n)) }

func (m *bufferMetrics) SetBackpressure(active bool) {
	if active {
		m.backpressure.Set(1)
	} else {
		m.backpressure.Set(0)
	}
}

func (m *bufferMetrics) RecordDispatchLatency(d time.Duration, failed bool) {
	m.dispatchLatency.Observe(d.Seconds())
	if failed {
		m.dispatchFailed.Inc()
	}
}

// diskMetrics implements buffer.DiskMetrics.
type diskMetrics struct {
	writeBytes  prometheus.Counter
	readBytes   prometheus.Counter
	depth       prometheus.Gauge
	quarantined prometheus.Counter
}

func newDiskMetrics() buffer.DiskMetrics {
	reg := metrics.GetRegistry()
	return &diskMetrics{
		writeBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_disk_buffer_written_bytes_total",
			Help: "Bytes appended to the disk log",
		}),
		readBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_disk_buffer_read_bytes_total",
			Help: "Bytes consumed from the disk log",
		}),
		depth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_disk_buffer_items",
			Help: "Unread items in the disk log",
		}),
		quarantined: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securewatch_disk_buffer_quarantined_bytes_total",
			Help: "Corrupt tail bytes moved to the quarantine file",
		}),
	}
}

func (m *diskMetrics) RecordWrite(bytes int)        { m.writeBytes.Add(float64(bytes)) }
func (m *diskMetrics) RecordRead(bytes int)         { m.readBytes.Add(float64(bytes)) }
func (m *diskMetrics) RecordDepth(items int)        { m.depth.Set(float64(items)) }
func (m *diskMetrics) RecordQuarantine(bytes int64) { m.quarantined.Add(float64(bytes)) }
