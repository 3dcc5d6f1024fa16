package buffer

import (
	"encoding/json"
	"time"

	"github.com/securewatch/ingest/pkg/event"
)

// Item is a buffered record: the raw payload plus the metadata needed to
// route it through the two tiers and retry delivery.
type Item struct {
	// Priority is the admission band (1 highest .. 5 lowest).
	Priority event.Priority `json:"priority"`

	// EnqueuedAt is when the item entered the buffer.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Payload is the raw record bytes.
	Payload []byte `json:"payload"`

	// Attempts counts delivery attempts, for bounded retry.
	Attempts int `json:"attempts"`

	// Collector metadata carried through to dispatch.
	Source       string    `json:"source,omitempty"`
	SourceHint   string    `json:"source_hint,omitempty"`
	CategoryHint string    `json:"category_hint,omitempty"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// NewItem builds a buffered item from a raw record at the given priority.
func NewItem(rec *event.RawRecord, priority event.Priority) *Item {
	return &Item{
		Priority:     priority,
		EnqueuedAt:   time.Now(),
		Payload:      rec.Data,
		Source:       rec.Source,
		SourceHint:   rec.SourceHint,
		CategoryHint: rec.CategoryHint,
		ReceivedAt:   rec.ReceivedAt,
	}
}

// Record reconstructs the raw record view of the item.
func (it *Item) Record() *event.RawRecord {
	return &event.RawRecord{
		Data:         it.Payload,
		ReceivedAt:   it.ReceivedAt,
		Source:       it.Source,
		SourceHint:   it.SourceHint,
		CategoryHint: it.CategoryHint,
		Priority:     it.Priority,
	}
}

// Encode serializes the item as newline-terminated JSON, the raw on-disk
// payload form. Compression, when enabled, is applied by the disk log.
func (it *Item) Encode() ([]byte, error) {
	b, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeItem parses an item from its on-disk JSON form.
func DecodeItem(data []byte) (*Item, error) {
	it := &Item{}
	if err := json.Unmarshal(data, it); err != nil {
		return nil, err
	}
	return it, nil
}
