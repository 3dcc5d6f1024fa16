package flow

import (
	"sync"
	"time"
)

// BatchSizerConfig controls the adaptive batch sizer.
type BatchSizerConfig struct {
	InitialBatchSize int
	MinBatchSize     int
	MaxBatchSize     int

	// TargetLatency is the per-batch processing latency the sizer steers
	// toward.
	TargetLatency time.Duration

	// AdjustmentFactor is the multiplicative step (e.g. 0.2 grows or
	// shrinks the size by 20%).
	AdjustmentFactor float64

	// EvaluationInterval is the minimum time between adjustments.
	EvaluationInterval time.Duration

	// ThroughputTarget is the events/second goal; the size grows only
	// while throughput is below it.
	ThroughputTarget float64

	// AdaptiveEnabled disables adjustment entirely when false; Size then
	// always returns InitialBatchSize.
	AdaptiveEnabled bool
}

// batchSample is one completed batch observation.
type batchSample struct {
	size    int
	latency time.Duration
}

// BatchSizer produces the next dispatch batch size, steering observed batch
// latency toward the target without starving throughput.
type BatchSizer struct {
	cfg BatchSizerConfig

	mu       sync.Mutex
	current  int
	samples  []batchSample
	lastEval time.Time
}

// NewBatchSizer creates a sizer starting at the initial size.
func NewBatchSizer(cfg BatchSizerConfig) *BatchSizer {
	if cfg.InitialBatchSize <= 0 {
		cfg.InitialBatchSize = 100
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		cfg.MaxBatchSize = cfg.MinBatchSize
	}
	if cfg.AdjustmentFactor <= 0 {
		cfg.AdjustmentFactor = 0.2
	}
	current := clampInt(cfg.InitialBatchSize, cfg.MinBatchSize, cfg.MaxBatchSize)
	return &BatchSizer{
		cfg:      cfg,
		current:  current,
		lastEval: time.Now(),
	}
}

// RecordBatch feeds one completed batch into the evaluation window.
func (b *BatchSizer) RecordBatch(size int, latency time.Duration) {
	if size <= 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, batchSample{size: size, latency: latency})
	b.mu.Unlock()
}

// Size returns the batch size to use next, re-evaluating when the
// evaluation interval has elapsed.
func (b *BatchSizer) Size() int {
	if !b.cfg.AdaptiveEnabled {
		return b.cfg.InitialBatchSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastEval) >= b.cfg.EvaluationInterval {
		b.evaluateLocked()
	}
	return b.current
}

// Evaluate forces an immediate adjustment pass.
func (b *BatchSizer) Evaluate() {
	if !b.cfg.AdaptiveEnabled {
		return
	}
	b.mu.Lock()
	b.evaluateLocked()
	b.mu.Unlock()
}

func (b *BatchSizer) evaluateLocked() {
	b.lastEval = time.Now()
	if len(b.samples) == 0 {
		return
	}

	latency, throughput := b.observedLocked()
	b.samples = b.samples[:0]

	factor := b.cfg.AdjustmentFactor
	switch {
	case b.cfg.TargetLatency > 0 && latency > b.cfg.TargetLatency:
		b.current = clampInt(int(float64(b.current)*(1-factor)), b.cfg.MinBatchSize, b.cfg.MaxBatchSize)
	case b.cfg.ThroughputTarget > 0 && throughput < b.cfg.ThroughputTarget:
		b.current = clampInt(int(float64(b.current)*(1+factor))+1, b.cfg.MinBatchSize, b.cfg.MaxBatchSize)
	}
}

// observedLocked returns the mean batch latency and the aggregate
// throughput (events/second) over the sample window.
func (b *BatchSizer) observedLocked() (time.Duration, float64) {
	var totalLatency time.Duration
	var totalEvents int
	for _, s := range b.samples {
		totalLatency += s.latency
		totalEvents += s.size
	}
	mean := totalLatency / time.Duration(len(b.samples))

	var throughput float64
	if totalLatency > 0 {
		throughput = float64(totalEvents) / totalLatency.Seconds()
	}
	return mean, throughput
}

// PerformanceScore normalizes observed latency and throughput against their
// targets into a 0-1 score. 1 means both targets are met.
func (b *BatchSizer) PerformanceScore() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return 1
	}
	latency, throughput := b.observedLocked()

	latScore := 1.0
	if b.cfg.TargetLatency > 0 && latency > 0 {
		latScore = minFloat(1, float64(b.cfg.TargetLatency)/float64(latency))
	}
	tpScore := 1.0
	if b.cfg.ThroughputTarget > 0 {
		tpScore = minFloat(1, throughput/b.cfg.ThroughputTarget)
	}
	return (latScore + tpScore) / 2
}

// Current returns the current size without triggering evaluation.
func (b *BatchSizer) Current() int {
	if !b.cfg.AdaptiveEnabled {
		return b.cfg.InitialBatchSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
