package parser

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/event"
)

// Enricher is the dispatch-side view of the enrichment engine. Enrich must
// never fail the pipeline; it returns an error only on context cancellation.
type Enricher interface {
	Enrich(ctx context.Context, ev event.NormalizedEvent) error
}

// ManagerConfig controls batch dispatch.
type ManagerConfig struct {
	// ChunkSize is the number of records processed per concurrent unit in
	// the batch path.
	ChunkSize int

	// MaxConcurrency bounds the number of chunks processed in parallel.
	MaxConcurrency int
}

// Result is one batch-path outcome, indexed back to the input slice.
// Exactly one of Event and Err is set; a no-match is reported through Err.
type Result struct {
	Index int
	Event event.NormalizedEvent
	Err   error
}

// Manager is the dispatch pipeline: candidate selection, validate/parse/
// normalize, metadata stamping, confidence scoring and enrichment.
type Manager struct {
	registry *Registry
	metrics  *Metrics
	enricher Enricher
	cfg      ManagerConfig

	dispatched atomic.Uint64
}

// NewManager wires the dispatch pipeline. metrics and enricher may be nil.
func NewManager(registry *Registry, metrics *Metrics, enricher Enricher, cfg ManagerConfig) *Manager {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Manager{
		registry: registry,
		metrics:  metrics,
		enricher: enricher,
		cfg:      cfg,
	}
}

// ParseRecord runs the single-record path: candidates in priority order,
// first successful parse wins. Returns ErrNoMatch when every candidate
// declines or fails.
func (m *Manager) ParseRecord(ctx context.Context, rec *event.RawRecord) (event.NormalizedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.dispatched.Add(1)

	candidates := m.registry.CandidatesFor(rec.SourceHint, rec.CategoryHint)
	for _, reg := range candidates {
		if !reg.Enabled() {
			continue
		}
		ev, ok := m.tryParser(reg, rec)
		if !ok {
			continue
		}
		if m.enricher != nil {
			if err := m.enricher.Enrich(ctx, ev); err != nil {
				logger.WarnCtx(ctx, "enrichment interrupted",
					"parser_id", reg.desc.ID, "error", err)
			}
		}
		return ev, nil
	}

	if m.metrics != nil {
		m.metrics.RecordNoMatch()
	}
	logger.DebugCtx(ctx, "no parser matched",
		"source", rec.Source,
		"source_hint", rec.SourceHint,
		"category_hint", rec.CategoryHint,
		"candidates", len(candidates))
	return nil, ErrNoMatch
}

// tryParser runs one candidate end to end. A false return means dispatch
// should move to the next candidate.
func (m *Manager) tryParser(reg *Registration, rec *event.RawRecord) (event.NormalizedEvent, bool) {
	id := reg.desc.ID
	if m.metrics != nil {
		m.metrics.RecordInvocation(id)
	}

	if !reg.parser.Validate(rec.Data) {
		if m.metrics != nil {
			m.metrics.RecordValidationReject(id)
		}
		return nil, false
	}

	start := time.Now()
	parsed, err := reg.parser.Parse(rec.Data)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError(id)
		}
		logger.Warn("parser failed", "parser_id", id, "error", err)
		return nil, false
	}
	if parsed == nil {
		return nil, false
	}

	ev, err := reg.parser.Normalize(parsed)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError(id)
		}
		logger.Warn("normalize failed", "parser_id", id, "error", err)
		return nil, false
	}

	m.stamp(ev, parsed, reg, rec)
	if m.metrics != nil {
		m.metrics.RecordSuccess(id, time.Since(start))
	}
	return ev, true
}

// stamp writes parser identity, event id, ingestion timestamp and the
// confidence score onto a freshly normalized event.
func (m *Manager) stamp(ev event.NormalizedEvent, parsed *event.ParsedEvent, reg *Registration, rec *event.RawRecord) {
	ev.SetString(event.FieldParserID, reg.desc.ID)
	ev.SetString(event.FieldParserName, reg.desc.Name)
	ev.SetString(event.FieldParserVersion, reg.desc.Version)

	if !ev.Has(event.FieldEventID) {
		ev.SetString(event.FieldEventID, uuid.NewString())
	}

	ingested := rec.ReceivedAt
	if ingested.IsZero() {
		ingested = time.Now().UTC()
	}
	ev.Set(event.FieldIngestionTimestamp, event.Time(ingested))
	if !ev.Has(event.FieldTimestamp) {
		ev.Set(event.FieldTimestamp, event.Time(ingested))
		ev.Set(event.FieldTimestampFallback, event.Bool(true))
	}

	ev.Set(event.FieldConfidence, event.Number(Confidence(parsed, reg.desc)))
}

// Confidence scores how trustworthy a parse is, from the shape of the
// parsed event and the parser's own class: base 0.5, up to +0.2 for core
// field presence, +0.1 for any structured sub-record, +0.15 for a security
// context, plus parser-class adjustments, clamped to [0,1].
func Confidence(parsed *event.ParsedEvent, desc Descriptor) float64 {
	score := 0.5

	if !parsed.Timestamp.IsZero() {
		score += 0.05
	}
	if parsed.Source != "" {
		score += 0.05
	}
	if parsed.Category != "" {
		score += 0.05
	}
	if parsed.Action != "" {
		score += 0.05
	}
	if parsed.HasStructured() {
		score += 0.1
	}
	if parsed.HasSecurityContext() {
		score += 0.15
	}

	if desc.Category == CategoryEndpoint || desc.Category == CategoryNetwork {
		score += 0.05
	}
	lowered := strings.ToLower(desc.ID)
	if strings.Contains(lowered, "generic") || strings.Contains(lowered, "fallback") {
		score -= 0.2
	}
	if desc.Priority > 80 {
		score += 0.1
	} else if desc.Priority < 20 {
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ParseBatch runs the batch path: records are processed in chunks with
// bounded concurrency; results carry the input index and per-record errors
// never abort the batch.
func (m *Manager) ParseBatch(ctx context.Context, recs []*event.RawRecord) []Result {
	results := make([]Result, len(recs))
	if len(recs) == 0 {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrency)

	for start := 0; start < len(recs); start += m.cfg.ChunkSize {
		end := start + m.cfg.ChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		start := start
		g.Go(func() error {
			for i := start; i < end; i++ {
				ev, err := m.parseOne(gctx, recs[i])
				results[i] = Result{Index: i, Event: ev, Err: err}
			}
			return nil
		})
	}

	// Workers only report per-record errors through results.
	_ = g.Wait()
	return results
}

// parseOne shields the batch path from panicking parsers.
func (m *Manager) parseOne(ctx context.Context, rec *event.RawRecord) (ev event.NormalizedEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev = nil
			err = fmt.Errorf("parser panic: %v", r)
			logger.Error("parser panicked", "source", rec.Source, "panic", r)
		}
	}()
	return m.ParseRecord(ctx, rec)
}

// Dispatched returns the total number of single-record dispatches.
func (m *Manager) Dispatched() uint64 {
	return m.dispatched.Load()
}

// Registry exposes the registry for management surfaces.
func (m *Manager) Registry() *Registry { return m.registry }

// Metrics exposes the per-parser metrics tracker.
func (m *Manager) Metrics() *Metrics { return m.metrics }
