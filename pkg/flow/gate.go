package flow

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/event"
)

// EmergencyConfig controls the priority-aware emergency throttle.
type EmergencyConfig struct {
	// Enabled gates the whole mechanism.
	Enabled bool

	// TriggerThreshold is the error rate beyond which an active
	// backpressure signal engages emergency mode.
	TriggerThreshold float64

	// ThrottleRate is the base rejection probability (0-1) applied to
	// normal-priority traffic in emergency mode.
	ThrottleRate float64
}

// GateConfig controls the admission gate.
type GateConfig struct {
	// MaxEventsPerSecond is the token bucket fill rate and the sliding
	// window rate cap.
	MaxEventsPerSecond float64

	// BurstSize is the token bucket capacity.
	BurstSize int

	// SlidingWindowSize is the window over which the observed rate is
	// computed for the second gate.
	SlidingWindowSize time.Duration

	// ThrottleEnabled disables all rate limiting when false.
	ThrottleEnabled bool

	// Emergency configures the priority-aware emergency throttle.
	Emergency EmergencyConfig
}

// GateMetrics receives gate observations. Nil disables collection.
type GateMetrics interface {
	RecordAllowed(n int, priority int)
	RecordThrottled(n int, priority int)
	SetCurrentRate(eventsPerSecond float64)
	SetTokens(tokens float64)
}

// priorityCounters tracks per-band admission outcomes.
type priorityCounters struct {
	allowed   uint64
	throttled uint64
}

// Gate is the flow-control admission gate: a token bucket feeding a sliding
// window rate check, with a probabilistic priority-aware emergency throttle
// on top.
type Gate struct {
	cfg     GateConfig
	metrics GateMetrics

	limiter *rate.Limiter
	window  *slidingWindow

	mu        sync.Mutex
	rng       *rand.Rand
	counters  [6]priorityCounters // index by priority band 1..5
	emergency bool
}

// NewGate creates an admission gate.
func NewGate(cfg GateConfig, metrics GateMetrics) *Gate {
	if cfg.MaxEventsPerSecond <= 0 {
		cfg.MaxEventsPerSecond = 10000
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.MaxEventsPerSecond)
	}
	if cfg.SlidingWindowSize <= 0 {
		cfg.SlidingWindowSize = time.Second
	}
	return &Gate{
		cfg:     cfg,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSecond), cfg.BurstSize),
		window:  newSlidingWindow(cfg.SlidingWindowSize),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RequestPermission asks to admit n events at the given priority.
// It never blocks; denied requests should be counted as throttled by the
// caller and surfaced as a Throttled result, not an error.
func (g *Gate) RequestPermission(n int, priority event.Priority) bool {
	if n <= 0 {
		return true
	}
	if !priority.Valid() {
		priority = event.PriorityNormal
	}
	if !g.cfg.ThrottleEnabled {
		g.record(true, n, priority)
		return true
	}

	if g.rejectEmergency(priority) {
		g.record(false, n, priority)
		return false
	}

	// First gate: token bucket with continuous (fractional) refill.
	if !g.limiter.AllowN(time.Now(), n) {
		g.record(false, n, priority)
		return false
	}

	// Second gate: observed rate over the sliding window.
	if g.window.rate(time.Now()) > g.cfg.MaxEventsPerSecond {
		g.record(false, n, priority)
		return false
	}

	g.window.add(time.Now(), n)
	g.record(true, n, priority)
	return true
}

// rejectEmergency applies the probabilistic priority throttle while
// emergency mode is engaged.
func (g *Gate) rejectEmergency(priority event.Priority) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.emergency {
		return false
	}

	p := g.cfg.Emergency.ThrottleRate
	switch {
	case priority <= event.PriorityHigh:
		p *= 0.5
	case priority >= event.PriorityLow:
		p *= 1.5
	}
	if p > 1 {
		p = 1
	}
	return g.rng.Float64() < p
}

// NotifyBackpressure updates emergency mode from the backpressure monitor.
// Emergency engages only while backpressure is active and the error rate
// exceeds the trigger threshold; it disengages as soon as backpressure
// clears.
func (g *Gate) NotifyBackpressure(active bool, errorRate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	engage := g.cfg.Emergency.Enabled && active && errorRate > g.cfg.Emergency.TriggerThreshold
	if engage != g.emergency {
		g.emergency = engage
		if engage {
			logger.Warn("emergency throttle engaged",
				"error_rate", errorRate, "base_throttle", g.cfg.Emergency.ThrottleRate)
		} else {
			logger.Info("emergency throttle disengaged")
		}
	}
}

// EmergencyActive reports whether the emergency throttle is engaged.
func (g *Gate) EmergencyActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

// AdjustRateLimit changes the sustained events/second limit.
func (g *Gate) AdjustRateLimit(eventsPerSecond float64) {
	if eventsPerSecond <= 0 {
		return
	}
	g.mu.Lock()
	g.cfg.MaxEventsPerSecond = eventsPerSecond
	g.mu.Unlock()
	g.limiter.SetLimit(rate.Limit(eventsPerSecond))
}

// AdjustBurstSize changes the token bucket capacity.
func (g *Gate) AdjustBurstSize(burst int) {
	if burst <= 0 {
		return
	}
	g.mu.Lock()
	g.cfg.BurstSize = burst
	g.mu.Unlock()
	g.limiter.SetBurst(burst)
}

// CurrentRate returns the observed admission rate over the sliding window.
func (g *Gate) CurrentRate() float64 {
	return g.window.rate(time.Now())
}

// Tokens returns the tokens currently available in the bucket.
func (g *Gate) Tokens() float64 {
	return g.limiter.Tokens()
}

// Counters returns the (allowed, throttled) totals for a priority band.
func (g *Gate) Counters(priority event.Priority) (allowed, throttled uint64) {
	if !priority.Valid() {
		return 0, 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.counters[priority]
	return c.allowed, c.throttled
}

// Reset restores the gate to its configured state: fresh bucket, empty
// window, cleared counters, emergency off.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.limiter = rate.NewLimiter(rate.Limit(g.cfg.MaxEventsPerSecond), g.cfg.BurstSize)
	g.window = newSlidingWindow(g.cfg.SlidingWindowSize)
	g.counters = [6]priorityCounters{}
	g.emergency = false
}

func (g *Gate) record(allowed bool, n int, priority event.Priority) {
	g.mu.Lock()
	if allowed {
		g.counters[priority].allowed += uint64(n)
	} else {
		g.counters[priority].throttled += uint64(n)
	}
	g.mu.Unlock()

	if g.metrics != nil {
		if allowed {
			g.metrics.RecordAllowed(n, int(priority))
		} else {
			g.metrics.RecordThrottled(n, int(priority))
		}
		g.metrics.SetCurrentRate(g.window.rate(time.Now()))
		g.metrics.SetTokens(g.limiter.Tokens())
	}
}

// slidingWindow counts admissions over a trailing time window.
type slidingWindow struct {
	mu      sync.Mutex
	size    time.Duration
	entries []windowEntry
	total   int
}

type windowEntry struct {
	at time.Time
	n  int
}

func newSlidingWindow(size time.Duration) *slidingWindow {
	return &slidingWindow{size: size}
}

func (w *slidingWindow) add(now time.Time, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	w.entries = append(w.entries, windowEntry{at: now, n: n})
	w.total += n
}

// rate returns events/second observed over the window.
func (w *slidingWindow) rate(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return float64(w.total) / w.size.Seconds()
}

func (w *slidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for ; i < len(w.entries); i++ {
		if w.entries[i].at.After(cutoff) {
			break
		}
		w.total -= w.entries[i].n
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
