package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/securewatch/ingest/pkg/flow"
	"github.com/securewatch/ingest/pkg/metrics"
)

func init() {
	metrics.RegisterGateMetricsConstructor(newGateMetrics)
	metrics.RegisterBreakerMetricsConstructor(newBreakerMetrics)
}

// gateMetrics implements flow.GateMetrics.
type gateMetrics struct {
	allowed     *prometheus.CounterVec
	throttled   *prometheus.CounterVec
	currentRate prometheus.Gauge
	tokens      prometheus.Gauge
}

func newGateMetrics() flow.GateMetrics {
	reg := metrics.GetRegistry()
	return &gateMetrics{
		allowed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securewatch_flow_control_events_allowed_total",
			Help: "Events admitted by the flow-control gate",
		}, []string{"priority"}),
		throttled: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securewatch_flow_control_events_throttled_total",
			Help: "Events refused by the flow-control gate",
		}, []string{"priority"}),
		currentRate: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_flow_control_current_rate",
			Help: "Observed admission rate over the sliding window (events/s)",
		}),
		tokens: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_flow_control_token_bucket_tokens",
			Help: "Tokens currently available in the bucket",
		}),
	}
}

func (m *gateMetrics) RecordAllowed(n int, priority int) {
	m.allowed.WithLabelValues(strconv.Itoa(priority)).Add(float64(n))
}

func (m *gateMetrics) RecordThrottled(n int, priority int) {
	m.throttled.WithLabelValues(strconv.Itoa(priority)).Add(float64(n))
}

func (m *gateMetrics) SetCurrentRate(eventsPerSecond float64) {
	m.currentRate.Set(eventsPerSecond)
}

func (m *gateMetrics) SetTokens(tokens float64) { m.tokens.Set(tokens) }

// breakerMetrics implements flow.BreakerMetrics.
type breakerMetrics struct {
	requests    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	state       prometheus.Gauge
}

func newBreakerMetrics() flow.BreakerMetrics {
	reg := metrics.GetRegistry()
	return &breakerMetrics{
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securewatch_circuit_breaker_requests_total",
			Help: "Breaker-guarded requests by outcome",
		}, []string{"outcome"}),
		transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securewatch_circuit_breaker_state_transitions_total",
			Help: "Breaker state transitions",
		}, []string{"from", "to"}),
		state: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_circuit_breaker_state",
			Help: "Breaker state: 0 closed, 0.5 half-open, 1 open",
		}),
	}
}

func (m *breakerMetrics) RecordRequest(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *breakerMetrics) RecordStateTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *breakerMetrics) SetState(gauge float64) { m.state.Set(gauge) }
