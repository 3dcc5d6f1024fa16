package buffer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/securewatch/ingest/pkg/event"
	"github.com/securewatch/ingest/pkg/flow"
)

func testManagerConfig(t *testing.T) ManagerConfig {
	t.Helper()
	return ManagerConfig{
		MemoryBufferSize: 100,
		DiskBufferPath:   filepath.Join(t.TempDir(), "buffer.log"),
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig, deps Deps) *Manager {
	t.Helper()
	m, err := NewManager(cfg, deps)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func rawRecords(n int) []*event.RawRecord {
	recs := make([]*event.RawRecord, n)
	for i := range recs {
		recs[i] = &event.RawRecord{
			Data:   []byte(fmt.Sprintf(`{"seq":%d}`, i)),
			Source: "test",
		}
	}
	return recs
}

func TestManager_EnqueueDequeueRoundTrip(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	recs := rawRecords(3)
	if err := m.Enqueue(context.Background(), recs, event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if m.Size() != 3 {
		t.Errorf("Size = %d, want 3", m.Size())
	}

	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(batch.Items) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch.Items))
	}
	for i, it := range batch.Items {
		if !bytes.Equal(it.Payload, recs[i].Data) {
			t.Errorf("item %d payload = %q, want %q", i, it.Payload, recs[i].Data)
		}
	}
	batch.Ack()

	if m.TotalSize() != 0 {
		t.Errorf("TotalSize after ack = %d, want 0", m.TotalSize())
	}
}

func TestManager_HighPriorityBypassesRing(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	// Priority 1 and 2 go straight to the durable tier.
	if err := m.Enqueue(context.Background(), rawRecords(4), event.PriorityCritical); err != nil {
		t.Fatalf("Enqueue critical: %v", err)
	}
	if err := m.Enqueue(context.Background(), rawRecords(2), event.PriorityHigh); err != nil {
		t.Fatalf("Enqueue high: %v", err)
	}

	if m.Size() != 0 {
		t.Errorf("memory depth = %d, want 0 for durable priorities", m.Size())
	}
	if m.TotalSize() != 6 {
		t.Errorf("TotalSize = %d, want 6", m.TotalSize())
	}

	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(batch.Items) != 6 {
		t.Errorf("batch size = %d, want 6", len(batch.Items))
	}
	batch.Ack()
}

func TestManager_RingOverflowSpillsToDisk(t *testing.T) {
	cfg := testManagerConfig(t)
	cfg.MemoryBufferSize = 2
	m := newTestManager(t, cfg, Deps{})

	if err := m.Enqueue(context.Background(), rawRecords(5), event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if m.Size() != 2 {
		t.Errorf("memory depth = %d, want 2", m.Size())
	}
	if m.TotalSize() != 5 {
		t.Errorf("TotalSize = %d, want 5 (nothing dropped on overflow)", m.TotalSize())
	}

	// All five survive across both tiers.
	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(batch.Items) != 5 {
		t.Errorf("batch size = %d, want 5", len(batch.Items))
	}
	batch.Ack()
}

func TestManager_ThrottledEnqueue(t *testing.T) {
	gate := flow.NewGate(flow.GateConfig{
		MaxEventsPerSecond: 10,
		BurstSize:          10,
		ThrottleEnabled:    true,
	}, nil)
	m := newTestManager(t, testManagerConfig(t), Deps{Gate: gate})

	if err := m.Enqueue(context.Background(), rawRecords(10), event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue within burst: %v", err)
	}
	err := m.Enqueue(context.Background(), rawRecords(10), event.PriorityNormal)
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("Enqueue beyond burst = %v, want ErrThrottled", err)
	}
	if m.TotalSize() != 10 {
		t.Errorf("TotalSize = %d, want 10 (no partial admission)", m.TotalSize())
	}
}

func TestManager_NackRequeuesInOrder(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	recs := rawRecords(3)
	if err := m.Enqueue(context.Background(), recs, event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	batch.Nack(errors.New("sink down"))

	redelivered, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch after nack: %v", err)
	}
	if len(redelivered.Items) != 3 {
		t.Fatalf("redelivered %d items, want 3", len(redelivered.Items))
	}
	for i, it := range redelivered.Items {
		if !bytes.Equal(it.Payload, recs[i].Data) {
			t.Errorf("item %d out of order after requeue", i)
		}
		if it.Attempts != 1 {
			t.Errorf("item %d attempts = %d, want 1", i, it.Attempts)
		}
	}
	redelivered.Ack()
}

func TestManager_DropsAfterMaxDeliveryAttempts(t *testing.T) {
	cfg := testManagerConfig(t)
	cfg.MaxDeliveryAttempts = 2
	m := newTestManager(t, cfg, Deps{})

	if err := m.Enqueue(context.Background(), rawRecords(1), event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		batch, err := m.DequeueBatch(ctx)
		cancel()
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		batch.Nack(errors.New("sink down"))
	}

	// Second nack hits the attempt limit; the item is dropped, not requeued.
	if m.TotalSize() != 0 {
		t.Errorf("TotalSize = %d, want 0 after drop", m.TotalSize())
	}
}

func TestManager_SettleIsIdempotent(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	if err := m.Enqueue(context.Background(), rawRecords(1), event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	batch.Ack()
	batch.Nack(errors.New("late nack"))

	if m.TotalSize() != 0 {
		t.Errorf("TotalSize = %d, want 0 (nack after ack must be ignored)", m.TotalSize())
	}
}

func TestManager_DequeueBlocksUntilEnqueue(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	got := make(chan int, 1)
	go func() {
		batch, err := m.DequeueBatch(context.Background())
		if err != nil {
			got <- -1
			return
		}
		batch.Ack()
		got <- len(batch.Items)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Enqueue(context.Background(), rawRecords(2), event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case n := <-got:
		if n != 2 {
			t.Errorf("blocked dequeue returned %d items, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestManager_DequeueHonorsContext(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.DequeueBatch(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("DequeueBatch on empty queue = %v, want deadline exceeded", err)
	}
}

func TestManager_DrainingRejectsEnqueueServesRemainder(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	if err := m.Enqueue(context.Background(), rawRecords(2), event.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	m.StartDraining()

	if err := m.Enqueue(context.Background(), rawRecords(1), event.PriorityNormal); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue while draining = %v, want ErrClosed", err)
	}

	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch while draining: %v", err)
	}
	if len(batch.Items) != 2 {
		t.Errorf("drained %d items, want 2", len(batch.Items))
	}
	batch.Ack()

	if _, err := m.DequeueBatch(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("DequeueBatch on drained queue = %v, want ErrClosed", err)
	}
}

func TestManager_DrainingWakesAllBlockedDequeuers(t *testing.T) {
	m := newTestManager(t, testManagerConfig(t), Deps{})

	const workers = 3
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := m.DequeueBatch(context.Background())
			errs <- err
		}()
	}

	// Let every worker park on the empty queue before draining.
	time.Sleep(50 * time.Millisecond)
	m.StartDraining()

	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("dequeuer %d returned %v, want ErrClosed", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("dequeuer %d still blocked after drain started", i)
		}
	}
}

func TestManager_UnackedDurableItemsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := ManagerConfig{
		MemoryBufferSize: 100,
		DiskBufferPath:   filepath.Join(dir, "buffer.log"),
	}

	m := newTestManager(t, cfg, Deps{})
	if err := m.Enqueue(context.Background(), rawRecords(1), event.PriorityCritical); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Dequeue but crash before the consumer acknowledges.
	batch, err := m.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(batch.Items) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch.Items))
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2 := newTestManager(t, cfg, Deps{})
	if m2.TotalSize() != 1 {
		t.Fatalf("TotalSize after restart = %d, want 1", m2.TotalSize())
	}
	recovered, err := m2.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch after restart: %v", err)
	}
	if len(recovered.Items) != 1 {
		t.Errorf("recovered %d items, want 1", len(recovered.Items))
	}
	recovered.Ack()

	// Once acknowledged the durable copy is released for good.
	if err := m2.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	m3 := newTestManager(t, cfg, Deps{})
	if m3.TotalSize() != 0 {
		t.Errorf("TotalSize after acked restart = %d, want 0", m3.TotalSize())
	}
}

func TestManager_DiskRecoveryAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := ManagerConfig{
		MemoryBufferSize: 100,
		DiskBufferPath:   filepath.Join(dir, "buffer.log"),
	}

	m := newTestManager(t, cfg, Deps{})
	if err := m.Enqueue(context.Background(), rawRecords(5), event.PriorityCritical); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2 := newTestManager(t, cfg, Deps{})
	if m2.TotalSize() != 5 {
		t.Errorf("TotalSize after restart = %d, want 5", m2.TotalSize())
	}
	batch, err := m2.DequeueBatch(context.Background())
	if err != nil {
		t.Fatalf("DequeueBatch after restart: %v", err)
	}
	if len(batch.Items) != 5 {
		t.Errorf("recovered %d items, want 5", len(batch.Items))
	}
	batch.Ack()
}

func TestManager_InvalidConfig(t *testing.T) {
	if _, err := NewManager(ManagerConfig{DiskBufferPath: "/tmp/x"}, Deps{}); err == nil {
		t.Error("expected error for zero memory buffer size")
	}
	if _, err := NewManager(ManagerConfig{MemoryBufferSize: 10}, Deps{}); err == nil {
		t.Error("expected error for missing disk buffer path")
	}
}
