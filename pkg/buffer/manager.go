package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/buffer/codec"
	"github.com/securewatch/ingest/pkg/event"
	"github.com/securewatch/ingest/pkg/flow"
)

// ManagerState is the buffer manager lifecycle.
type ManagerState int

const (
	StateCreated ManagerState = iota
	StateReady
	StateDraining
	StateClosed
)

// ManagerConfig is the composite configuration of the ingestion queue.
type ManagerConfig struct {
	// MemoryBufferSize is the ring capacity in items.
	MemoryBufferSize int

	// DiskBufferSize is the disk log limit in items. Zero means unlimited.
	DiskBufferSize int

	// DiskBufferPath is the overflow append-file location.
	DiskBufferPath string

	// CompressionEnabled turns on the zstd codec for disk payloads.
	CompressionEnabled bool

	// CompressionLevel is the zstd level when compression is enabled.
	CompressionLevel int

	// MaxDeliveryAttempts bounds redelivery of nacked items; beyond it an
	// item is dropped and counted. Zero means 5.
	MaxDeliveryAttempts int

	CircuitBreaker flow.BreakerConfig
	Backpressure   flow.BackpressureConfig
	AdaptiveBatch  flow.BatchSizerConfig
	FlowControl    flow.GateConfig
}

// ManagerMetrics receives queue observations. Nil disables collection.
type ManagerMetrics interface {
	RecordEnqueued(n int)
	RecordThrottled(n int)
	RecordSpilled(n int)
	RecordDropped(n int, reason string)
	SetMemoryDepth(n int)
	SetDiskDepth(n int)
	SetBackpressure(active bool)
	RecordDispatchLatency(d time.Duration, failed bool)
}

// Deps are externally constructed collaborators. Any nil field is built
// from the config by Initialize.
type Deps struct {
	Gate    *flow.Gate
	Sizer   *flow.BatchSizer
	Monitor *flow.Monitor
	Breaker *flow.Breaker
	Codec   *codec.Codec
	Metrics ManagerMetrics
	Disk    DiskMetrics
}

// Manager composes the memory ring, the disk overflow log, and the
// flow-control layer into the ingestion queue surface.
type Manager struct {
	cfg ManagerConfig

	mu    sync.Mutex
	state ManagerState
	ring  *Ring[*Item]

	disk    *DiskLog
	cdc     *codec.Codec
	gate    *flow.Gate
	sizer   *flow.BatchSizer
	monitor *flow.Monitor
	breaker *flow.Breaker
	metrics ManagerMetrics
	diskM   DiskMetrics

	// notify wakes one blocked dequeuer after an enqueue.
	notify chan struct{}

	// shutdown is closed on the first drain or close transition so every
	// blocked dequeuer wakes, not just one.
	shutdown chan struct{}

	// bpCancel stops the backpressure-to-gate forwarding goroutine.
	bpCancel context.CancelFunc
	bpDone   chan struct{}
}

// NewManager creates an uninitialized manager. Call Initialize before use.
func NewManager(cfg ManagerConfig, deps Deps) (*Manager, error) {
	if cfg.MemoryBufferSize <= 0 {
		return nil, fmt.Errorf("memory buffer size must be positive, got %d", cfg.MemoryBufferSize)
	}
	if cfg.DiskBufferPath == "" {
		return nil, fmt.Errorf("disk buffer path is required")
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 5
	}

	ring, err := NewRing[*Item](cfg.MemoryBufferSize)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		state:    StateCreated,
		ring:     ring,
		cdc:      deps.Codec,
		gate:     deps.Gate,
		sizer:    deps.Sizer,
		monitor:  deps.Monitor,
		breaker:  deps.Breaker,
		metrics:  deps.Metrics,
		diskM:    deps.Disk,
		notify:   make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
	return m, nil
}

// Initialize opens the disk tier, builds any missing collaborators, and
// starts the backpressure loop. The manager is ready afterwards.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCreated {
		return fmt.Errorf("manager already initialized")
	}

	if m.cdc == nil && m.cfg.CompressionEnabled {
		c, err := codec.New(codec.Config{Level: m.cfg.CompressionLevel})
		if err != nil {
			return fmt.Errorf("create codec: %w", err)
		}
		m.cdc = c
	}

	disk, err := OpenDiskLog(DiskConfig{
		Path:     m.cfg.DiskBufferPath,
		MaxItems: m.cfg.DiskBufferSize,
		Codec:    m.cdc,
		Metrics:  m.diskM,
	})
	if err != nil {
		return fmt.Errorf("open disk tier: %w", err)
	}
	m.disk = disk

	if m.gate == nil {
		m.gate = flow.NewGate(m.cfg.FlowControl, nil)
	}
	if m.sizer == nil {
		m.sizer = flow.NewBatchSizer(m.cfg.AdaptiveBatch)
	}
	if m.breaker == nil {
		m.breaker = flow.NewBreaker("ingest-sink", m.cfg.CircuitBreaker, nil)
	}
	if m.monitor == nil {
		m.monitor = flow.NewMonitor(m.cfg.Backpressure, m.totalSize)
	}

	m.monitor.Start(ctx)
	m.startBackpressureLoop(ctx)

	m.state = StateReady
	logger.Info("buffer manager initialized",
		"memory_capacity", m.cfg.MemoryBufferSize,
		"disk_path", m.cfg.DiskBufferPath,
		"disk_recovered", disk.Len(),
		"compression", m.cfg.CompressionEnabled)
	return nil
}

// startBackpressureLoop forwards monitor edges into the gate so emergency
// mode tracks the backpressure signal.
func (m *Manager) startBackpressureLoop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.bpCancel = cancel
	m.bpDone = make(chan struct{})

	active, edges := m.monitor.Subscribe()
	m.gate.NotifyBackpressure(active, m.monitor.ErrorRate())

	go func() {
		defer close(m.bpDone)
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-edges:
				m.gate.NotifyBackpressure(v, m.monitor.ErrorRate())
				if m.metrics != nil {
					m.metrics.SetBackpressure(v)
				}
			}
		}
	}()
}

// Enqueue admits a batch of raw records at the given priority.
//
// The flow gate is consulted for the whole batch; a denial returns
// ErrThrottled without partial admission. Items land in the memory ring;
// evicted oldest items spill to disk. Priority 1 and 2 items bypass the
// ring and write straight to disk so they survive a crash.
func (m *Manager) Enqueue(ctx context.Context, batch []*event.RawRecord, priority event.Priority) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	if !priority.Valid() {
		priority = event.PriorityNormal
	}

	if !m.gate.RequestPermission(len(batch), priority) {
		if m.metrics != nil {
			m.metrics.RecordThrottled(len(batch))
		}
		return ErrThrottled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReady {
		return ErrClosed
	}

	durable := priority <= event.PriorityHigh
	spilled := 0
	for _, rec := range batch {
		it := NewItem(rec, priority)

		if durable {
			if err := m.disk.Write(it); err != nil {
				return fmt.Errorf("durable enqueue: %w", err)
			}
			spilled++
			continue
		}

		evicted, wasEvicted := m.ring.Add(it)
		if wasEvicted {
			if err := m.disk.Write(evicted); err != nil {
				// DiskFull aborts the enqueue; the evicted item is already
				// out of the ring, so count it as dropped rather than
				// losing it silently.
				if m.metrics != nil {
					m.metrics.RecordDropped(1, "disk_full")
				}
				return fmt.Errorf("spill evicted item: %w", err)
			}
			spilled++
		}
	}

	if m.metrics != nil {
		m.metrics.RecordEnqueued(len(batch))
		if spilled > 0 {
			m.metrics.RecordSpilled(spilled)
		}
		m.metrics.SetMemoryDepth(m.ring.Len())
		m.metrics.SetDiskDepth(m.disk.Len())
	}

	// Wake one blocked dequeuer.
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Batch is a dequeued unit of work. The consumer must call Ack or Nack
// exactly once; the outcome feeds the backpressure monitor and the batch
// sizer.
type Batch struct {
	Items []*Item

	mgr     *Manager
	started time.Time
	settled bool

	// fromDisk counts the items read off the disk tier. Their on-disk
	// bytes stay reclaimed-but-present until the batch settles, so a crash
	// before acknowledgment re-delivers them on restart.
	fromDisk int
}

// Ack reports successful downstream handoff.
func (b *Batch) Ack() {
	b.settle(nil)
}

// Nack reports a failed handoff. Items under the delivery attempt limit
// are requeued at the front; the rest are dropped with a metric.
func (b *Batch) Nack(cause error) {
	b.settle(cause)
}

func (b *Batch) settle(cause error) {
	if b.settled || b.mgr == nil {
		return
	}
	b.settled = true

	latency := time.Since(b.started)
	failed := cause != nil

	b.mgr.monitor.RecordDispatch(latency, failed)
	b.mgr.sizer.RecordBatch(len(b.Items), latency)
	if b.mgr.metrics != nil {
		b.mgr.metrics.RecordDispatchLatency(latency, failed)
	}

	if failed {
		b.mgr.requeue(b.Items)
		logger.Warn("batch nacked", "items", len(b.Items),
			"latency_ms", logger.Duration(b.started), "error", cause)
	}

	// Either way the original disk bytes are spent: acked items left the
	// system, nacked items re-entered through requeue.
	if b.fromDisk > 0 {
		b.mgr.disk.Settle(b.fromDisk)
	}
}

// requeue returns failed items to the queue, bounded by the delivery
// attempt limit. Requeued items go to the front so ordering degrades as
// little as possible.
func (m *Manager) requeue(items []*Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	// Walk in reverse so PushFront restores the original order.
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		it.Attempts++
		if it.Attempts >= m.cfg.MaxDeliveryAttempts {
			dropped++
			continue
		}
		if !m.ring.PushFront(it) {
			if err := m.disk.Write(it); err != nil {
				dropped++
			}
		}
	}

	if dropped > 0 && m.metrics != nil {
		m.metrics.RecordDropped(dropped, "max_attempts")
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// DequeueBatch removes up to the adaptive batch size of items, draining
// the memory ring first and refilling from disk when the ring is empty.
//
// It blocks while both tiers are empty, until the context is done or the
// manager starts draining (at which point it returns what remains, then
// ErrClosed once empty).
func (m *Manager) DequeueBatch(ctx context.Context) (*Batch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := m.tryDequeue()
		if err != nil {
			return nil, err
		}
		if batch != nil {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		case <-m.shutdown:
		}
	}
}

// tryDequeue attempts a non-blocking drain. Returns (nil, nil) when both
// tiers are empty.
func (m *Manager) tryDequeue() (*Batch, error) {
	size := m.sizer.Size()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateReady, StateDraining:
	default:
		return nil, ErrClosed
	}

	items := make([]*Item, 0, size)
	for len(items) < size {
		it, ok := m.ring.Get()
		if !ok {
			break
		}
		items = append(items, it)
	}

	diskCount := 0
	if len(items) < size {
		fromDisk, err := m.disk.Read(size - len(items))
		if err != nil {
			return nil, fmt.Errorf("read disk tier: %w", err)
		}
		items = append(items, fromDisk...)
		diskCount = len(fromDisk)
	}

	if len(items) == 0 {
		if m.state == StateDraining {
			return nil, ErrClosed
		}
		return nil, nil
	}

	if m.metrics != nil {
		m.metrics.SetMemoryDepth(m.ring.Len())
		m.metrics.SetDiskDepth(m.disk.Len())
	}

	return &Batch{Items: items, mgr: m, started: time.Now(), fromDisk: diskCount}, nil
}

// Size returns the memory tier depth.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Len()
}

// TotalSize returns the combined memory and disk depth.
func (m *Manager) TotalSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Len() + m.disk.Len()
}

// totalSize is the unexported probe handed to the backpressure monitor.
func (m *Manager) totalSize() int { return m.TotalSize() }

// IsBackpressureActive reports the monitor signal.
func (m *Manager) IsBackpressureActive() bool { return m.monitor.Active() }

// IsCircuitBreakerOpen reports whether the sink breaker rejects requests.
func (m *Manager) IsCircuitBreakerOpen() bool { return m.breaker.IsOpen() }

// Gate returns the admission gate.
func (m *Manager) Gate() *flow.Gate { return m.gate }

// Sizer returns the adaptive batch sizer.
func (m *Manager) Sizer() *flow.BatchSizer { return m.sizer }

// Monitor returns the backpressure monitor.
func (m *Manager) Monitor() *flow.Monitor { return m.monitor }

// Breaker returns the downstream sink breaker.
func (m *Manager) Breaker() *flow.Breaker { return m.breaker }

// StartDraining stops admission; dequeues continue until empty.
//
// Every dequeuer blocked in DequeueBatch wakes: stragglers must observe
// ErrClosed once the queue drains instead of waiting out their context.
func (m *Manager) StartDraining() {
	m.mu.Lock()
	if m.state == StateReady {
		m.state = StateDraining
	}
	m.signalShutdownLocked()
	m.mu.Unlock()
}

// signalShutdownLocked closes the shutdown channel exactly once. Caller
// holds m.mu.
func (m *Manager) signalShutdownLocked() {
	select {
	case <-m.shutdown:
	default:
		close(m.shutdown)
	}
}

// Close stops the monitor, syncs the disk tier, and releases resources.
// Memory-tier items not spilled to disk are lost; this is the documented
// at-least-once crash boundary, and Close logs what it abandons.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	remaining := m.ring.Len()
	m.state = StateClosed
	m.signalShutdownLocked()
	m.mu.Unlock()

	if m.bpCancel != nil {
		m.bpCancel()
		<-m.bpDone
	}
	m.monitor.Stop()

	if remaining > 0 {
		logger.Warn("closing with unspilled memory items", "items", remaining)
	}

	var err error
	if m.disk != nil {
		err = m.disk.Close()
	}
	if m.cdc != nil {
		m.cdc.Close()
	}
	return err
}
