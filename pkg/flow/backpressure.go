package flow

import (
	"context"
	"sync"
	"time"

	"github.com/securewatch/ingest/internal/logger"
)

// BackpressureConfig controls the monitor.
type BackpressureConfig struct {
	// QueueDepthThreshold activates backpressure at this buffered depth.
	QueueDepthThreshold int

	// LatencyThreshold activates backpressure at this dispatch latency.
	LatencyThreshold time.Duration

	// ErrorRateThreshold activates backpressure at this error rate (0-1).
	ErrorRateThreshold float64

	// MonitoringInterval is the sampling period.
	MonitoringInterval time.Duration

	// RecoveryFactor is the hysteresis band: backpressure clears only when
	// all signals fall below threshold*RecoveryFactor. Typical: 0.7.
	RecoveryFactor float64

	// AdaptiveThresholds slowly adjusts thresholds toward observed stable
	// baselines when enabled.
	AdaptiveThresholds bool

	// WindowSize is the number of recent dispatches averaged. Zero means 100.
	WindowSize int
}

// dispatchSample is one completed dispatch observation.
type dispatchSample struct {
	latency time.Duration
	failed  bool
}

// Monitor observes queue depth, dispatch latency, and error rate, and
// publishes an active/inactive backpressure signal with hysteresis.
type Monitor struct {
	cfg        BackpressureConfig
	queueDepth func() int
	signal     *Signal

	mu      sync.Mutex
	samples []dispatchSample
	next    int
	filled  bool

	// Working thresholds; equal to the configured ones unless adaptive
	// mode has moved them.
	latencyThr   time.Duration
	errorRateThr float64
	depthThr     int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a backpressure monitor. queueDepth is polled each
// interval and must be safe for concurrent use.
func NewMonitor(cfg BackpressureConfig, queueDepth func() int) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.RecoveryFactor <= 0 || cfg.RecoveryFactor > 1 {
		cfg.RecoveryFactor = 0.7
	}
	return &Monitor{
		cfg:          cfg,
		queueDepth:   queueDepth,
		signal:       NewSignal(),
		samples:      make([]dispatchSample, cfg.WindowSize),
		latencyThr:   cfg.LatencyThreshold,
		errorRateThr: cfg.ErrorRateThreshold,
		depthThr:     cfg.QueueDepthThreshold,
	}
}

// RecordDispatch feeds one completed dispatch into the moving window.
func (m *Monitor) RecordDispatch(latency time.Duration, failed bool) {
	m.mu.Lock()
	m.samples[m.next] = dispatchSample{latency: latency, failed: failed}
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.filled = true
	}
	m.mu.Unlock()
}

// windowStats returns the moving-average latency and error rate.
func (m *Monitor) windowStats() (time.Duration, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.filled {
		n = len(m.samples)
	}
	if n == 0 {
		return 0, 0
	}

	var total time.Duration
	var failures int
	for i := 0; i < n; i++ {
		total += m.samples[i].latency
		if m.samples[i].failed {
			failures++
		}
	}
	return total / time.Duration(n), float64(failures) / float64(n)
}

// AvgLatency returns the moving-average dispatch latency.
func (m *Monitor) AvgLatency() time.Duration {
	lat, _ := m.windowStats()
	return lat
}

// ErrorRate returns the moving error rate over the window.
func (m *Monitor) ErrorRate() float64 {
	_, rate := m.windowStats()
	return rate
}

// Active reports whether backpressure is currently signaled.
func (m *Monitor) Active() bool { return m.signal.Get() }

// Subscribe returns the current state and a channel of subsequent edges.
func (m *Monitor) Subscribe() (bool, <-chan bool) { return m.signal.Subscribe() }

// Start launches the sampling loop. Stop or context cancellation ends it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	interval := m.cfg.MonitoringInterval
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Evaluate()
			}
		}
	}()
}

// Stop ends the sampling loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Evaluate samples the pipeline once and updates the signal. Exposed so
// tests and callers without a running loop can drive the monitor.
func (m *Monitor) Evaluate() {
	depth := m.queueDepth()
	latency, errRate := m.windowStats()

	m.mu.Lock()
	depthThr, latThr, errThr := m.depthThr, m.latencyThr, m.errorRateThr
	m.mu.Unlock()

	active := m.signal.Get()
	if !active {
		if (depthThr > 0 && depth >= depthThr) ||
			(latThr > 0 && latency >= latThr) ||
			(errThr > 0 && errRate >= errThr) {
			logger.Warn("backpressure activated",
				"queue_depth", depth, "avg_latency_ms", float64(latency.Microseconds())/1000.0,
				"error_rate", errRate)
			m.signal.Set(true)
		}
	} else {
		// Hysteresis: all three must drop below the recovery band.
		recovered := (depthThr <= 0 || float64(depth) < float64(depthThr)*m.cfg.RecoveryFactor) &&
			(latThr <= 0 || float64(latency) < float64(latThr)*m.cfg.RecoveryFactor) &&
			(errThr <= 0 || errRate < errThr*m.cfg.RecoveryFactor)
		if recovered {
			logger.Info("backpressure cleared",
				"queue_depth", depth, "error_rate", errRate)
			m.signal.Set(false)
		}
	}

	if m.cfg.AdaptiveThresholds && !m.signal.Get() {
		m.adapt(latency)
	}
}

// adapt nudges the latency threshold toward twice the observed stable
// baseline, never below the configured value. Depth and error-rate
// thresholds are capacity statements and stay fixed.
func (m *Monitor) adapt(observed time.Duration) {
	if observed <= 0 {
		return
	}
	const alpha = 0.1
	target := 2 * observed
	if target < m.cfg.LatencyThreshold {
		target = m.cfg.LatencyThreshold
	}

	m.mu.Lock()
	m.latencyThr = time.Duration(float64(m.latencyThr)*(1-alpha) + float64(target)*alpha)
	m.mu.Unlock()
}

// Thresholds returns the current working thresholds (post-adaptation).
func (m *Monitor) Thresholds() (depth int, latency time.Duration, errorRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depthThr, m.latencyThr, m.errorRateThr
}
