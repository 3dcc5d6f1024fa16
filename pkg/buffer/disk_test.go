package buffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/securewatch/ingest/pkg/buffer/codec"
	"github.com/securewatch/ingest/pkg/event"
)

func testItem(i int) *Item {
	return NewItem(&event.RawRecord{
		Data:       []byte(fmt.Sprintf(`{"seq":%d,"msg":"authentication failure for user alice"}`, i)),
		Source:     "test-collector",
		SourceHint: "syslog",
	}, event.PriorityNormal)
}

func TestDiskLog_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	defer d.Close()

	want := make([][]byte, 10)
	for i := range want {
		it := testItem(i)
		want[i] = it.Payload
		if err := d.Write(it); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if d.Len() != 10 {
		t.Errorf("Len = %d, want 10", d.Len())
	}

	items, err := d.Read(10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("Read returned %d items, want 10", len(items))
	}
	for i, it := range items {
		if !bytes.Equal(it.Payload, want[i]) {
			t.Errorf("item %d payload = %q, want %q", i, it.Payload, want[i])
		}
	}
}

func TestDiskLog_RestartRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")

	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	want := make([][]byte, 50)
	for i := range want {
		it := testItem(i)
		want[i] = it.Payload
		if err := d.Write(it); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulated restart: reopen and recover everything unread.
	d, err = OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	if d.Len() != 50 {
		t.Fatalf("Len after recovery = %d, want 50", d.Len())
	}
	items, err := d.Read(50)
	if err != nil {
		t.Fatalf("Read after recovery: %v", err)
	}
	if len(items) != 50 {
		t.Fatalf("recovered %d items, want 50", len(items))
	}
	for i, it := range items {
		if !bytes.Equal(it.Payload, want[i]) {
			t.Errorf("item %d payload mismatch after recovery", i)
		}
	}
	if d.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", d.Len())
	}
}

func TestDiskLog_ResetsFileOnceDrainedAndSettled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	defer d.Close()

	for i := 0; i < 5; i++ {
		if err := d.Write(testItem(i)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if _, err := d.Read(5); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Read but not yet acknowledged: the bytes must survive.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("file truncated before the read items were settled")
	}

	d.Settle(5)
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("file size after drain and settle = %d, want 0", info.Size())
	}
}

func TestDiskLog_UnsettledItemsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}

	it := NewItem(&event.RawRecord{
		Data:   []byte(`{"msg":"root login from unknown host"}`),
		Source: "test-collector",
	}, event.PriorityCritical)
	want := it.Payload
	if err := d.Write(it); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Dequeue without acknowledging, then crash.
	items, err := d.Read(10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Read returned %d items, want 1", len(items))
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d, err = OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	if d.Len() != 1 {
		t.Fatalf("Len after restart = %d, want 1", d.Len())
	}
	recovered, err := d.Read(10)
	if err != nil {
		t.Fatalf("Read after restart: %v", err)
	}
	if len(recovered) != 1 || !bytes.Equal(recovered[0].Payload, want) {
		t.Errorf("unacknowledged item not re-delivered after restart")
	}
}

func TestDiskLog_QuarantinesTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := d.Write(testItem(i)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Append a record whose length prefix claims more bytes than exist,
	// as a crash mid-write would leave behind.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 10_000)
	f.Write(prefix[:])
	f.Write([]byte("partial"))
	f.Close()

	d, err = OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	if d.Len() != 3 {
		t.Errorf("Len after quarantine = %d, want 3", d.Len())
	}
	qInfo, err := os.Stat(path + ".quarantine")
	if err != nil {
		t.Fatalf("quarantine file missing: %v", err)
	}
	if qInfo.Size() != 4+7 {
		t.Errorf("quarantine size = %d, want 11", qInfo.Size())
	}

	items, err := d.Read(3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("read %d items from quarantined log, want 3", len(items))
	}
}

func TestDiskLog_QuarantinesZeroLengthPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	if err := d.Write(testItem(0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	d.Close()

	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	f.Write([]byte{0, 0, 0, 0})
	f.Close()

	d, err = OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestDiskLog_ErrDiskFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path, MaxItems: 2})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	defer d.Close()

	for i := 0; i < 2; i++ {
		if err := d.Write(testItem(i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := d.Write(testItem(2)); err != ErrDiskFull {
		t.Errorf("Write beyond capacity = %v, want ErrDiskFull", err)
	}

	// Draining frees capacity again.
	if _, err := d.Read(1); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := d.Write(testItem(3)); err != nil {
		t.Errorf("Write after drain: %v", err)
	}
}

func TestDiskLog_CompressedRoundTrip(t *testing.T) {
	c, err := codec.New(codec.Config{Level: 3, MinSize: 32})
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	defer c.Close()

	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path, Codec: c})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	defer d.Close()

	it := testItem(0)
	want := it.Payload
	if err := d.Write(it); err != nil {
		t.Fatalf("Write: %v", err)
	}

	items, err := d.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 1 || !bytes.Equal(items[0].Payload, want) {
		t.Error("compressed round trip mismatch")
	}
}

func TestDiskLog_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	defer d.Close()

	for i := 0; i < 4; i++ {
		if err := d.Write(testItem(i)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := d.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if d.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", d.Len())
	}
}

func TestDiskLog_ClosedOperationsFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.log")
	d, err := OpenDiskLog(DiskConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenDiskLog: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := d.Write(testItem(0)); err != ErrClosed {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
	if _, err := d.Read(1); err != ErrClosed {
		t.Errorf("Read after Close = %v, want ErrClosed", err)
	}
}
