package logger

import (
	"context"
	"time"
)

// Standard field keys used across the pipeline.
const (
	KeyComponent = "component"
	KeySource    = "source"
	KeyParserID  = "parser_id"
	KeyBatchID   = "batch_id"
	KeyRuleID    = "rule_id"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds pipeline-scoped logging context.
type LogContext struct {
	Component string    // Pipeline component (buffer, dispatch, enrich, ...)
	Source    string    // Ingest source identifier
	ParserID  string    // Parser currently handling the record
	BatchID   string    // Dispatch batch identifier
	RuleID    string    // Enrichment rule being evaluated
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for the given component.
func NewLogContext(component string) *LogContext {
	return &LogContext{
		Component: component,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithSource returns a copy with the ingest source set.
func (lc *LogContext) WithSource(source string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Source = source
	}
	return clone
}

// WithParser returns a copy with the parser id set.
func (lc *LogContext) WithParser(parserID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ParserID = parserID
	}
	return clone
}

// WithBatch returns a copy with the batch id set.
func (lc *LogContext) WithBatch(batchID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BatchID = batchID
	}
	return clone
}

// WithRule returns a copy with the enrichment rule id set.
func (lc *LogContext) WithRule(ruleID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RuleID = ruleID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
