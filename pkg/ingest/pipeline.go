// Package ingest wires the buffer, dispatch, and flow-control layers into
// the pipeline service: a worker pool that drains buffered records, parses
// and enriches them, and delivers normalized events downstream behind the
// circuit breaker.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/buffer"
	"github.com/securewatch/ingest/pkg/event"
	"github.com/securewatch/ingest/pkg/flow"
	"github.com/securewatch/ingest/pkg/parser"
)

// Sink receives normalized events for downstream storage and correlation.
type Sink interface {
	Deliver(ctx context.Context, events []event.NormalizedEvent) error
}

// PipelineMetrics receives pipeline observations. Nil disables collection.
type PipelineMetrics interface {
	RecordProcessed(n int, result string)
	SetBatchSize(size int)
	SetPerformanceScore(score float64)
	SetParserSuccessRate(parserID string, rate float64)
}

// State is the pipeline lifecycle.
type State int32

const (
	StateInit State = iota
	StateReady
	StateDraining
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config controls the pipeline service.
type Config struct {
	// Workers is the number of concurrent dequeue-parse-deliver loops.
	Workers int

	// StatsInterval is how often gauge metrics are refreshed.
	StatsInterval time.Duration
}

// Pipeline is the ingestion service. Producers enqueue raw records through
// Submit; workers drain the buffer, dispatch to parsers and deliver
// downstream.
type Pipeline struct {
	cfg     Config
	buf     *buffer.Manager
	mgr     *parser.Manager
	sink    Sink
	metrics PipelineMetrics

	state  atomic.Int32
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPipeline wires the service. metrics may be nil.
func NewPipeline(cfg Config, buf *buffer.Manager, mgr *parser.Manager, sink Sink, metrics PipelineMetrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 10 * time.Second
	}
	return &Pipeline{
		cfg:     cfg,
		buf:     buf,
		mgr:     mgr,
		sink:    sink,
		metrics: metrics,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Submit enqueues raw records at the given priority.
func (p *Pipeline) Submit(ctx context.Context, recs []*event.RawRecord, priority event.Priority) error {
	if p.State() != StateReady {
		return fmt.Errorf("pipeline not ready (state %s)", p.State())
	}
	return p.buf.Enqueue(ctx, recs, priority)
}

// Start transitions init→ready and launches the worker pool. It returns
// once the workers are running; they stop when ctx is cancelled or the
// buffer finishes draining.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateInit), int32(StateReady)) {
		return fmt.Errorf("pipeline already started (state %s)", p.State())
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.statsLoop(ctx)
	}()

	logger.Info("pipeline started", "workers", p.cfg.Workers)
	return nil
}

// workerLoop is one dequeue-parse-deliver cycle runner.
func (p *Pipeline) workerLoop(ctx context.Context, worker int) {
	lctx := logger.WithContext(ctx, logger.NewLogContext("pipeline"))

	for {
		batch, err := p.buf.DequeueBatch(ctx)
		if err != nil {
			if errors.Is(err, buffer.ErrClosed) {
				logger.Debug("worker exiting, buffer drained", "worker", worker)
			} else if !errors.Is(err, context.Canceled) {
				logger.Error("dequeue failed", "worker", worker, "error", err)
			}
			return
		}
		p.processBatch(lctx, batch)
	}
}

// processBatch parses a dequeued batch and delivers the events downstream
// through the circuit breaker. Parse misses never fail the batch; only a
// delivery failure nacks it.
func (p *Pipeline) processBatch(ctx context.Context, batch *buffer.Batch) {
	recs := make([]*event.RawRecord, len(batch.Items))
	for i, item := range batch.Items {
		recs[i] = item.Record()
	}

	results := p.mgr.ParseBatch(ctx, recs)

	events := make([]event.NormalizedEvent, 0, len(results))
	var matched, missed, failed int
	for _, res := range results {
		switch {
		case res.Err == nil:
			events = append(events, res.Event)
			matched++
		case errors.Is(res.Err, parser.ErrNoMatch):
			missed++
		default:
			failed++
		}
	}
	if p.metrics != nil {
		p.metrics.RecordProcessed(matched, "parsed")
		p.metrics.RecordProcessed(missed, "no_match")
		p.metrics.RecordProcessed(failed, "error")
	}

	if len(events) == 0 {
		batch.Ack()
		return
	}

	err := p.buf.Breaker().Execute(func() error {
		return p.sink.Deliver(ctx, events)
	})
	if err != nil {
		if errors.Is(err, flow.ErrCircuitOpen) || errors.Is(err, flow.ErrCircuitProbeExceeded) {
			logger.WarnCtx(ctx, "delivery rejected by circuit breaker", "error", err)
		} else {
			logger.ErrorCtx(ctx, "delivery failed", "events", len(events), "error", err)
		}
		batch.Nack(err)
		return
	}
	batch.Ack()
}

// statsLoop refreshes gauge metrics.
func (p *Pipeline) statsLoop(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.metrics.SetBatchSize(p.buf.Sizer().Current())
			p.metrics.SetPerformanceScore(p.buf.Sizer().PerformanceScore())
			pm := p.mgr.Metrics()
			if pm == nil {
				continue
			}
			for _, desc := range p.mgr.Registry().List() {
				if stats, ok := pm.Snapshot(desc.ID); ok {
					p.metrics.SetParserSuccessRate(desc.ID, stats.SuccessRate())
				}
			}
		}
	}
}

// Shutdown drains the buffer and stops the workers: ready→draining, wait
// for the workers to finish what remains (bounded by ctx), then close the
// buffer.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateReady), int32(StateDraining)) {
		return fmt.Errorf("pipeline not running (state %s)", p.State())
	}
	logger.Info("pipeline draining")

	p.buf.StartDraining()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		if p.cancel != nil {
			p.cancel()
		}
		<-done
	}

	if p.cancel != nil {
		p.cancel()
	}
	if cerr := p.buf.Close(); cerr != nil && err == nil {
		err = cerr
	}
	p.state.Store(int32(StateShutdown))
	logger.Info("pipeline stopped")
	return err
}
