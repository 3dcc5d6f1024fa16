// Package flow implements the flow-control and resilience layer: the
// circuit breaker guarding downstream handoff, the backpressure monitor,
// the adaptive batch sizer, and the admission gate.
package flow

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/securewatch/ingest/internal/logger"
)

// BreakerState is the three-state breaker status.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Gauge returns the metric encoding of the state: closed=0, half-open=0.5,
// open=1.
func (s BreakerState) Gauge() float64 {
	switch s {
	case BreakerHalfOpen:
		return 0.5
	case BreakerOpen:
		return 1
	default:
		return 0
	}
}

// StateChange describes one breaker transition.
type StateChange struct {
	From BreakerState
	To   BreakerState
	At   time.Time
}

// BreakerConfig controls breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the failure rate (0-1) that opens the breaker.
	FailureThreshold float64

	// ResetTimeout is how long the breaker stays OPEN before admitting a
	// probe.
	ResetTimeout time.Duration

	// HalfOpenRequests is the number of successful probes required to
	// close again.
	HalfOpenRequests uint32

	// MinRequests is the evaluation floor: the failure rate is not
	// evaluated before this many requests were observed.
	MinRequests uint32

	// MonitoringInterval is the counter evaluation window while CLOSED.
	MonitoringInterval time.Duration
}

// BreakerMetrics receives breaker observations. Nil disables collection.
type BreakerMetrics interface {
	RecordRequest(outcome string) // success, failure, rejected
	RecordStateTransition(from, to string)
	SetState(gauge float64)
}

// Breaker guards the downstream sink. It wraps sony/gobreaker, which
// carries the three-state machine, and adds the pipeline's error taxonomy,
// state-change broadcast, metrics, and a force-reset.
type Breaker struct {
	name    string
	cfg     BreakerConfig
	metrics BreakerMetrics

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker[any]

	subsMu sync.Mutex
	subs   []chan StateChange
}

// NewBreaker creates a breaker with the given configuration.
func NewBreaker(name string, cfg BreakerConfig, metrics BreakerMetrics) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 3
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	b := &Breaker{name: name, cfg: cfg, metrics: metrics}
	b.cb = b.build()
	if metrics != nil {
		metrics.SetState(BreakerClosed.Gauge())
	}
	return b
}

// build constructs the underlying gobreaker instance from the config.
func (b *Breaker) build() *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        b.name,
		MaxRequests: b.cfg.HalfOpenRequests,
		Interval:    b.cfg.MonitoringInterval,
		Timeout:     b.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.cfg.MinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= b.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(fromGobreaker(from), fromGobreaker(to))
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

func fromGobreaker(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

func (b *Breaker) onStateChange(from, to BreakerState) {
	logger.Warn("circuit breaker state change",
		"breaker", b.name, "from", from.String(), "to", to.String())
	if b.metrics != nil {
		b.metrics.RecordStateTransition(from.String(), to.String())
		b.metrics.SetState(to.Gauge())
	}

	change := StateChange{From: from, To: to, At: time.Now()}
	b.subsMu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
	b.subsMu.Unlock()
}

// Execute runs op through the breaker.
//
// In OPEN it fails fast with ErrCircuitOpen; in HALF_OPEN beyond the probe
// budget it fails with ErrCircuitProbeExceeded; otherwise op runs and its
// outcome is recorded.
func (b *Breaker) Execute(op func() error) error {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()

	_, err := cb.Execute(func() (any, error) {
		return nil, op()
	})

	switch {
	case err == nil:
		if b.metrics != nil {
			b.metrics.RecordRequest("success")
		}
		return nil
	case errors.Is(err, gobreaker.ErrOpenState):
		if b.metrics != nil {
			b.metrics.RecordRequest("rejected")
		}
		return ErrCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		if b.metrics != nil {
			b.metrics.RecordRequest("rejected")
		}
		return ErrCircuitProbeExceeded
	default:
		if b.metrics != nil {
			b.metrics.RecordRequest("failure")
		}
		return err
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fromGobreaker(b.cb.State())
}

// IsOpen reports whether the breaker currently rejects requests outright.
func (b *Breaker) IsOpen() bool { return b.State() == BreakerOpen }

// Subscribe registers a listener for state transitions.
func (b *Breaker) Subscribe() <-chan StateChange {
	ch := make(chan StateChange, 4)
	b.subsMu.Lock()
	b.subs = append(b.subs, ch)
	b.subsMu.Unlock()
	return ch
}

// Reset force-closes the breaker and clears its counters by swapping in a
// fresh instance.
func (b *Breaker) Reset() {
	b.mu.Lock()
	prev := fromGobreaker(b.cb.State())
	b.cb = b.build()
	b.mu.Unlock()

	if prev != BreakerClosed {
		b.onStateChange(prev, BreakerClosed)
	}
	logger.Info("circuit breaker reset", "breaker", b.name)
}
