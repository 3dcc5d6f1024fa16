package parser

import (
	"sort"
	"sync"
	"time"
)

// parseTimeBuckets are the upper bounds of the parse-time histogram.
var parseTimeBuckets = []time.Duration{
	10 * time.Microsecond,
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
}

// Stats is a point-in-time snapshot of one parser's counters.
type Stats struct {
	Invocations       uint64
	Successes         uint64
	Errors            uint64
	ValidationRejects uint64

	MinParseTime  time.Duration
	MaxParseTime  time.Duration
	AvgParseTime  time.Duration
	TimeHistogram []uint64 // one bucket per parseTimeBuckets bound, plus overflow
}

// SuccessRate is successes over invocations, 0 when never invoked.
func (s Stats) SuccessRate() float64 {
	if s.Invocations == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Invocations)
}

// ErrorRate is errors over invocations, 0 when never invoked.
func (s Stats) ErrorRate() float64 {
	if s.Invocations == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Invocations)
}

// Ranking is one entry of a top-performers listing.
type Ranking struct {
	ParserID string
	Score    float64
	Stats    Stats
}

type parserStats struct {
	invocations       uint64
	successes         uint64
	errors            uint64
	validationRejects uint64

	parseTimeTotal time.Duration
	parseTimeMin   time.Duration
	parseTimeMax   time.Duration
	histogram      [6]uint64
}

func (s *parserStats) observe(d time.Duration) {
	s.parseTimeTotal += d
	if s.parseTimeMin == 0 || d < s.parseTimeMin {
		s.parseTimeMin = d
	}
	if d > s.parseTimeMax {
		s.parseTimeMax = d
	}
	for i, bound := range parseTimeBuckets {
		if d <= bound {
			s.histogram[i]++
			return
		}
	}
	s.histogram[len(parseTimeBuckets)]++
}

// Metrics tracks per-parser dispatch health. A single instance is shared by
// the dispatch manager and management surfaces.
type Metrics struct {
	mu        sync.RWMutex
	perParser map[string]*parserStats
	noMatch   uint64
}

// NewMetrics creates an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{perParser: make(map[string]*parserStats)}
}

func (m *Metrics) stats(id string) *parserStats {
	s, ok := m.perParser[id]
	if !ok {
		s = &parserStats{}
		m.perParser[id] = s
	}
	return s
}

// RecordInvocation counts one dispatch attempt against a parser.
func (m *Metrics) RecordInvocation(id string) {
	m.mu.Lock()
	m.stats(id).invocations++
	m.mu.Unlock()
}

// RecordSuccess counts a successful parse+normalize and its duration.
func (m *Metrics) RecordSuccess(id string, parseTime time.Duration) {
	m.mu.Lock()
	s := m.stats(id)
	s.successes++
	s.observe(parseTime)
	m.mu.Unlock()
}

// RecordError counts a parse or normalize failure.
func (m *Metrics) RecordError(id string) {
	m.mu.Lock()
	m.stats(id).errors++
	m.mu.Unlock()
}

// RecordValidationReject counts a record the parser's Validate declined.
func (m *Metrics) RecordValidationReject(id string) {
	m.mu.Lock()
	m.stats(id).validationRejects++
	m.mu.Unlock()
}

// RecordNoMatch counts a record no candidate parser could handle.
func (m *Metrics) RecordNoMatch() {
	m.mu.Lock()
	m.noMatch++
	m.mu.Unlock()
}

// NoMatchCount returns the running no-match total.
func (m *Metrics) NoMatchCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.noMatch
}

// Snapshot returns a copy of one parser's stats.
func (m *Metrics) Snapshot(id string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.perParser[id]
	if !ok {
		return Stats{}, false
	}
	return snapshotLocked(s), true
}

func snapshotLocked(s *parserStats) Stats {
	out := Stats{
		Invocations:       s.invocations,
		Successes:         s.successes,
		Errors:            s.errors,
		ValidationRejects: s.validationRejects,
		MinParseTime:      s.parseTimeMin,
		MaxParseTime:      s.parseTimeMax,
		TimeHistogram:     append([]uint64(nil), s.histogram[:]...),
	}
	if s.successes > 0 {
		out.AvgParseTime = s.parseTimeTotal / time.Duration(s.successes)
	}
	return out
}

// GlobalSuccessRate aggregates successes over invocations across parsers.
func (m *Metrics) GlobalSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var inv, succ uint64
	for _, s := range m.perParser {
		inv += s.invocations
		succ += s.successes
	}
	if inv == 0 {
		return 0
	}
	return float64(succ) / float64(inv)
}

// TopPerformers ranks parsers by successes weighted by reliability:
// successes x (1 - error rate). Ties break on parser id.
func (m *Metrics) TopPerformers(n int) []Ranking {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Ranking, 0, len(m.perParser))
	for id, s := range m.perParser {
		snap := snapshotLocked(s)
		out = append(out, Ranking{
			ParserID: id,
			Score:    float64(snap.Successes) * (1 - snap.ErrorRate()),
			Stats:    snap,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ParserID < out[j].ParserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ResetParser clears one parser's counters.
func (m *Metrics) ResetParser(id string) {
	m.mu.Lock()
	delete(m.perParser, id)
	m.mu.Unlock()
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.perParser = make(map[string]*parserStats)
	m.noMatch = 0
	m.mu.Unlock()
}
