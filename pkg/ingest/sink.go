package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/securewatch/ingest/pkg/event"
)

// WriterSink serializes normalized events as newline-delimited JSON to an
// io.Writer. It is the default sink for swingest when no downstream
// transport is configured; storage and correlation tiers replace it in a
// full deployment.
type WriterSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriterSink wraps w in a buffered NDJSON sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

// Deliver writes one JSON line per event and flushes the batch.
func (s *WriterSink) Deliver(ctx context.Context, events []event.NormalizedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		if _, err := s.w.Write(data); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
	}
	return s.w.Flush()
}
