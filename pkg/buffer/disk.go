package buffer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/buffer/codec"
)

// lengthPrefixSize is the 4-byte big-endian record length preceding every
// payload in the disk log.
const lengthPrefixSize = 4

// maxRecordSize rejects length prefixes that cannot be real records,
// so a corrupt prefix does not trigger a huge allocation.
const maxRecordSize = 64 * 1024 * 1024

// DiskMetrics receives disk-log observations. Nil disables collection.
type DiskMetrics interface {
	RecordWrite(bytes int)
	RecordRead(bytes int)
	RecordDepth(items int)
	RecordQuarantine(bytes int64)
}

// DiskLog is the append-only overflow tier of the ingestion buffer.
//
// On-disk format: repeating records of 4-byte big-endian length followed by
// the payload (newline-terminated JSON, or codec-framed compressed bytes).
// No header and no per-record checksum in v1; recovery scans the length
// prefix chain.
//
// Writes are serialized; reads advance an in-memory cursor and may run
// concurrently with writes subject to the cursor lock. On startup the
// length-prefix chain is scanned to recover the item count and write
// offset, and the read cursor restarts at zero so unread (and unacked
// in-flight) items are re-delivered, which keeps the at-least-once
// contract.
type DiskLog struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writeOff int64
	readOff  int64
	unread   int
	inFlight int
	maxItems int
	codec    *codec.Codec // nil when compression is disabled
	metrics  DiskMetrics
	closed   bool
}

// DiskConfig controls the disk log.
type DiskConfig struct {
	// Path is the append file location. Parent directories are created.
	Path string

	// MaxItems bounds the unread item count; Write fails with ErrDiskFull
	// beyond it. Zero means unlimited.
	MaxItems int

	// Codec enables per-payload compression when non-nil.
	Codec *codec.Codec

	// Metrics is optional.
	Metrics DiskMetrics
}

// OpenDiskLog opens (or creates) the disk log and recovers its state.
func OpenDiskLog(cfg DiskConfig) (*DiskLog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("disk buffer path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create disk buffer directory: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open disk buffer: %w", err)
	}

	d := &DiskLog{
		path:     cfg.Path,
		file:     f,
		maxItems: cfg.MaxItems,
		codec:    cfg.Codec,
		metrics:  cfg.Metrics,
	}

	if err := d.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// recover scans the length-prefix chain to restore the item count and write
// offset. A truncated tail is quarantined, not deleted.
func (d *DiskLog) recover() error {
	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("stat disk buffer: %w", err)
	}
	fileSize := info.Size()

	var (
		offset int64
		count  int
		prefix [lengthPrefixSize]byte
	)
	for offset < fileSize {
		if fileSize-offset < lengthPrefixSize {
			return d.quarantineTail(offset, fileSize, count)
		}
		if _, err := d.file.ReadAt(prefix[:], offset); err != nil {
			return fmt.Errorf("scan disk buffer at %d: %w", offset, err)
		}
		recLen := int64(binary.BigEndian.Uint32(prefix[:]))
		if recLen == 0 || recLen > maxRecordSize || offset+lengthPrefixSize+recLen > fileSize {
			return d.quarantineTail(offset, fileSize, count)
		}
		offset += lengthPrefixSize + recLen
		count++
	}

	d.writeOff = offset
	d.readOff = 0
	d.unread = count

	if count > 0 {
		logger.Info("disk buffer recovered", "path", d.path, "items", count, "bytes", offset)
	}
	return nil
}

// quarantineTail moves the unparseable tail of the log into a side file and
// truncates the log at the last known-good offset. The log stays usable.
func (d *DiskLog) quarantineTail(goodOff, fileSize int64, goodCount int) error {
	badLen := fileSize - goodOff
	qPath := d.path + ".quarantine"

	q, err := os.OpenFile(qPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open quarantine file: %w", err)
	}
	defer q.Close()

	if _, err := d.file.Seek(goodOff, io.SeekStart); err != nil {
		return fmt.Errorf("seek to corrupt tail: %w", err)
	}
	if _, err := io.CopyN(q, d.file, badLen); err != nil {
		return fmt.Errorf("quarantine corrupt tail: %w", err)
	}
	if err := d.file.Truncate(goodOff); err != nil {
		return fmt.Errorf("truncate corrupt tail: %w", err)
	}

	d.writeOff = goodOff
	d.readOff = 0
	d.unread = goodCount

	logger.Warn("disk buffer tail quarantined",
		"path", d.path, "quarantine", qPath, "bytes", badLen, "recovered_items", goodCount)
	if d.metrics != nil {
		d.metrics.RecordQuarantine(badLen)
	}
	return nil
}

// Write appends one item to the log.
func (d *DiskLog) Write(it *Item) error {
	payload, err := it.Encode()
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if d.codec != nil {
		payload = d.codec.Encode(payload)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.maxItems > 0 && d.unread >= d.maxItems {
		return ErrDiskFull
	}

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := d.file.WriteAt(prefix[:], d.writeOff); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := d.file.WriteAt(payload, d.writeOff+lengthPrefixSize); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	d.writeOff += lengthPrefixSize + int64(len(payload))
	d.unread++

	if d.metrics != nil {
		d.metrics.RecordWrite(len(payload))
		d.metrics.RecordDepth(d.unread)
	}
	return nil
}

// Read returns up to count items, advancing the read cursor.
//
// A truncated record stops iteration: the bad tail is quarantined, already
// decoded items are returned, and subsequent reads continue from the new
// known-good state.
func (d *DiskLog) Read(count int) ([]*Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	items := make([]*Item, 0, count)
	var prefix [lengthPrefixSize]byte

	for len(items) < count && d.unread > 0 && d.readOff < d.writeOff {
		if d.writeOff-d.readOff < lengthPrefixSize {
			return items, d.handleCorrupt(items)
		}
		if _, err := d.file.ReadAt(prefix[:], d.readOff); err != nil {
			return items, fmt.Errorf("read length prefix: %w", err)
		}
		recLen := int64(binary.BigEndian.Uint32(prefix[:]))
		if recLen == 0 || recLen > maxRecordSize || d.readOff+lengthPrefixSize+recLen > d.writeOff {
			return items, d.handleCorrupt(items)
		}

		payload := make([]byte, recLen)
		if _, err := d.file.ReadAt(payload, d.readOff+lengthPrefixSize); err != nil {
			return items, fmt.Errorf("read payload: %w", err)
		}

		if d.codec != nil {
			decoded, err := d.codec.Decode(payload)
			if err != nil {
				logger.Error("disk buffer payload decode failed", "path", d.path, "offset", d.readOff, "error", err)
				return items, d.handleCorrupt(items)
			}
			payload = decoded
		}

		it, err := DecodeItem(payload)
		if err != nil {
			logger.Error("disk buffer item unmarshal failed", "path", d.path, "offset", d.readOff, "error", err)
			return items, d.handleCorrupt(items)
		}

		d.readOff += lengthPrefixSize + recLen
		d.unread--
		d.inFlight++
		items = append(items, it)

		if d.metrics != nil {
			d.metrics.RecordRead(len(payload))
		}
	}

	if err := d.maybeResetLocked(); err != nil {
		return items, err
	}

	if d.metrics != nil {
		d.metrics.RecordDepth(d.unread)
	}
	return items, nil
}

// handleCorrupt quarantines from the read cursor onward. Items decoded
// before the corruption are kept; the caller still gets them.
func (d *DiskLog) handleCorrupt(decoded []*Item) error {
	if err := d.quarantineTail(d.readOff, d.writeOff, len(decoded)); err != nil {
		return err
	}
	// Everything after the cursor is quarantined; everything before it was
	// delivered but may still be unacknowledged, so its bytes stay until
	// the readers settle.
	d.readOff = d.writeOff
	d.unread = 0
	return d.maybeResetLocked()
}

// Settle marks n previously read items as acknowledged. The log truncates
// only when everything written was both read and settled, so a crash in the
// dequeue-to-ack window re-delivers the outstanding items on restart.
func (d *DiskLog) Settle(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.inFlight -= n
	if d.inFlight < 0 {
		d.inFlight = 0
	}
	if err := d.maybeResetLocked(); err != nil {
		logger.Error("disk buffer reset failed", "path", d.path, "error", err)
	}
}

// maybeResetLocked truncates the log once it is fully drained and no read
// item is awaiting acknowledgment, so the file does not grow unbounded.
func (d *DiskLog) maybeResetLocked() error {
	if d.unread != 0 || d.inFlight != 0 || d.writeOff == 0 || d.readOff < d.writeOff {
		return nil
	}
	return d.resetLocked()
}

// resetLocked truncates the log and rewinds both cursors.
func (d *DiskLog) resetLocked() error {
	if err := d.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate disk buffer: %w", err)
	}
	d.writeOff = 0
	d.readOff = 0
	d.unread = 0
	d.inFlight = 0
	return nil
}

// Len returns the number of unread items.
func (d *DiskLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// Clear removes all buffered items.
func (d *DiskLog) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.resetLocked(); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.RecordDepth(0)
	}
	return nil
}

// Sync flushes the log to stable storage.
func (d *DiskLog) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.file.Sync()
}

// Close syncs and closes the log file. Idempotent.
func (d *DiskLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.file.Sync(); err != nil {
		d.file.Close()
		return err
	}
	return d.file.Close()
}
