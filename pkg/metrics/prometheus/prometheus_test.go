package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/securewatch/ingest/pkg/metrics"
)

// findMetric gathers the process registry and returns the named family.
func findMetric(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// The registry is process-global and cannot be torn down, so the disabled
// and enabled paths are exercised in sequence inside one test.
func TestMetricsLifecycle(t *testing.T) {
	if metrics.IsEnabled() {
		t.Fatal("registry enabled before InitRegistry")
	}
	if metrics.NewPipelineMetrics() != nil || metrics.NewBufferMetrics() != nil ||
		metrics.NewGateMetrics() != nil || metrics.NewBreakerMetrics() != nil {
		t.Fatal("constructors returned collectors with metrics disabled")
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled /metrics status = %d, want 404", rec.Code)
	}

	metrics.InitRegistry()
	metrics.InitRegistry() // idempotent
	if !metrics.IsEnabled() {
		t.Fatal("registry disabled after InitRegistry")
	}

	pm := metrics.NewPipelineMetrics()
	if pm == nil {
		t.Fatal("pipeline metrics constructor returned nil after init")
	}
	pm.RecordProcessed(5, "parsed")
	pm.RecordProcessed(2, "no_match")
	pm.SetBatchSize(150)
	pm.SetPerformanceScore(0.8)
	pm.SetParserSuccessRate("syslog-rfc3164", 0.95)

	mf := findMetric(t, "securewatch_pipeline_records_total")
	if mf == nil {
		t.Fatal("securewatch_pipeline_records_total not registered")
	}
	var parsed float64
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "result" && l.GetValue() == "parsed" {
				parsed = m.GetCounter().GetValue()
			}
		}
	}
	if parsed != 5 {
		t.Errorf("parsed counter = %v, want 5", parsed)
	}

	bm := metrics.NewBufferMetrics()
	bm.RecordEnqueued(10)
	bm.RecordThrottled(1)
	bm.RecordSpilled(3)
	bm.RecordDropped(2, "max_attempts")
	bm.SetMemoryDepth(7)
	bm.SetBackpressure(true)
	bm.RecordDispatchLatency(25*time.Millisecond, true)

	if mf := findMetric(t, "securewatch_buffer_events_enqueued_total"); mf == nil ||
		mf.GetMetric()[0].GetCounter().GetValue() != 10 {
		t.Error("enqueued counter not recorded")
	}
	if mf := findMetric(t, "securewatch_backpressure_active"); mf == nil ||
		mf.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Error("backpressure gauge not set")
	}
	if mf := findMetric(t, "securewatch_dispatch_failures_total"); mf == nil ||
		mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Error("dispatch failure counter not recorded")
	}

	dm := metrics.NewDiskMetrics()
	dm.RecordWrite(4096)
	dm.RecordQuarantine(11)
	if mf := findMetric(t, "securewatch_disk_buffer_quarantined_bytes_total"); mf == nil ||
		mf.GetMetric()[0].GetCounter().GetValue() != 11 {
		t.Error("quarantine counter not recorded")
	}

	gm := metrics.NewGateMetrics()
	gm.RecordAllowed(200, 3)
	gm.RecordThrottled(50, 3)
	gm.SetCurrentRate(480)

	km := metrics.NewBreakerMetrics()
	km.RecordRequest("success")
	km.RecordStateTransition("closed", "open")
	km.SetState(1)
	if mf := findMetric(t, "securewatch_circuit_breaker_state"); mf == nil ||
		mf.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Error("breaker state gauge not set")
	}

	rec = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"securewatch_pipeline_records_total",
		"securewatch_buffer_events_enqueued_total",
		"securewatch_flow_control_events_allowed_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics output missing %s", name)
		}
	}
}
