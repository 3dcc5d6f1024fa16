package event

import (
	"fmt"
	"time"
)

// Well-known keys of the normalized schema. The schema is open; these are
// the keys the core itself reads or guarantees.
const (
	FieldTimestamp          = "@timestamp"
	FieldEventID            = "event.id"
	FieldEventKind          = "event.kind"
	FieldEventCategory      = "event.category"
	FieldEventType          = "event.type"
	FieldEventAction        = "event.action"
	FieldEventOutcome       = "event.outcome"
	FieldEventSeverity      = "event.severity"
	FieldIngestionTimestamp = "ingestion.timestamp"

	FieldParserID          = "securewatch.parser.id"
	FieldParserName        = "securewatch.parser.name"
	FieldParserVersion     = "securewatch.parser.version"
	FieldConfidence        = "securewatch.confidence"
	FieldSeverityLabel     = "securewatch.severity"
	FieldTimestampFallback = "securewatch.timestamp_fallback"

	FieldEnrichmentTimestamp = "securewatch.enrichment.timestamp"
	FieldEnrichmentRules     = "securewatch.enrichment.rules_applied"

	FieldRelatedIP    = "related.ip"
	FieldRelatedUser  = "related.user"
	FieldRelatedHash  = "related.hash"
	FieldRelatedHosts = "related.hosts"
)

// NormalizedEvent is the flat, dotted-key mapping handed to downstream
// sinks. Values are scalars or small arrays; additional fields beyond the
// required set are allowed.
type NormalizedEvent map[string]Value

// NewNormalizedEvent returns an event pre-sized for a typical field count.
func NewNormalizedEvent() NormalizedEvent {
	return make(NormalizedEvent, 32)
}

// Set stores a field, dropping nil values.
func (n NormalizedEvent) Set(key string, v Value) {
	if v.IsNil() {
		return
	}
	n[key] = v
}

// SetString stores a string field, dropping empty values.
func (n NormalizedEvent) SetString(key, s string) {
	if s == "" {
		return
	}
	n[key] = String(s)
}

// SetInt stores an integer field.
func (n NormalizedEvent) SetInt(key string, v int) { n[key] = Int(v) }

// Get returns the field value, or Nil when absent.
func (n NormalizedEvent) Get(key string) Value { return n[key] }

// GetString returns the field rendered as a string, or "" when absent.
func (n NormalizedEvent) GetString(key string) string { return n[key].Text() }

// Has reports whether the field is present.
func (n NormalizedEvent) Has(key string) bool {
	_, ok := n[key]
	return ok
}

// SetTimestamp stores @timestamp in RFC 3339 form with timezone.
func (n NormalizedEvent) SetTimestamp(t time.Time) {
	n[FieldTimestamp] = String(t.Format(time.RFC3339))
}

// Timestamp parses @timestamp back into a time.Time.
func (n NormalizedEvent) Timestamp() (time.Time, error) {
	v, ok := n[FieldTimestamp]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", FieldTimestamp)
	}
	return time.Parse(time.RFC3339, v.Str())
}

// SetSeverity stores both severity representations so that the integer
// event.severity and the securewatch.severity label always agree.
func (n NormalizedEvent) SetSeverity(s Severity) {
	n[FieldEventSeverity] = Int(s.Int())
	n[FieldSeverityLabel] = String(string(s))
}

// Severity returns the severity label, defaulting to low.
func (n NormalizedEvent) Severity() Severity {
	v, ok := n[FieldSeverityLabel]
	if !ok {
		return SeverityLow
	}
	return Severity(v.Str())
}

// AppendUnique appends a string to an array field, creating the array when
// absent and skipping duplicates.
func (n NormalizedEvent) AppendUnique(key, s string) {
	if s == "" {
		return
	}
	cur, ok := n[key]
	if !ok {
		n[key] = Strings(s)
		return
	}
	if cur.Contains(s) {
		return
	}
	n[key] = Value{kind: KindArray, arr: append(cur.ArrayVal(), String(s))}
}

// AddRelatedIP aggregates an address into related.ip.
func (n NormalizedEvent) AddRelatedIP(ip string) { n.AppendUnique(FieldRelatedIP, ip) }

// AddRelatedUser aggregates an account name into related.user.
func (n NormalizedEvent) AddRelatedUser(user string) { n.AppendUnique(FieldRelatedUser, user) }

// AddRelatedHash aggregates a hash into related.hash.
func (n NormalizedEvent) AddRelatedHash(hash string) { n.AppendUnique(FieldRelatedHash, hash) }

// AddRelatedHost aggregates a hostname into related.hosts.
func (n NormalizedEvent) AddRelatedHost(host string) { n.AppendUnique(FieldRelatedHosts, host) }

// Validate checks the required keys of the normalized schema. It is used by
// tests and by the dispatch pipeline in debug builds; production dispatch
// trusts parsers that passed registration validation.
func (n NormalizedEvent) Validate() error {
	required := []string{
		FieldTimestamp,
		FieldEventKind,
		FieldEventCategory,
		FieldEventType,
		FieldEventOutcome,
		FieldEventSeverity,
		FieldParserID,
		FieldParserName,
		FieldParserVersion,
		FieldConfidence,
		FieldSeverityLabel,
	}
	for _, key := range required {
		if !n.Has(key) {
			return fmt.Errorf("missing required field %q", key)
		}
	}
	if _, err := n.Timestamp(); err != nil {
		return fmt.Errorf("malformed @timestamp: %w", err)
	}
	sev := int(n[FieldEventSeverity].Num())
	if sev < 0 || sev > 100 {
		return fmt.Errorf("event.severity %d out of range", sev)
	}
	if want := n.Severity().Int(); want != sev {
		return fmt.Errorf("severity mismatch: event.severity=%d securewatch.severity=%q", sev, n.Severity())
	}
	conf := n[FieldConfidence].Num()
	if conf < 0 || conf > 1 {
		return fmt.Errorf("securewatch.confidence %f out of range", conf)
	}
	return nil
}

// Clone returns a shallow copy of the event map.
func (n NormalizedEvent) Clone() NormalizedEvent {
	out := make(NormalizedEvent, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}
