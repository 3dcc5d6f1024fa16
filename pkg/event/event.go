// Package event defines the data model shared by the ingestion pipeline:
// raw records as they arrive from collectors, parser-produced intermediate
// events, and the flat normalized schema handed to downstream sinks.
package event

import (
	"time"
)

// Priority is the admission band attached to buffered records.
// 1 is highest, 5 is lowest. The default for unmarked traffic is 3.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
	PriorityBulk     Priority = 5
)

// Valid reports whether the priority is in the 1..5 band.
func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PriorityBulk }

// Outcome is the result classification of a parsed event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Severity is the common four-level severity vocabulary.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Int returns the fixed numeric mapping for event.severity.
func (s Severity) Int() int {
	switch s {
	case SeverityLow:
		return 25
	case SeverityMedium:
		return 50
	case SeverityHigh:
		return 75
	case SeverityCritical:
		return 100
	default:
		return 0
	}
}

// SeverityFromInt maps a 0-100 score back onto the severity vocabulary.
func SeverityFromInt(n int) Severity {
	switch {
	case n >= 100:
		return SeverityCritical
	case n >= 75:
		return SeverityHigh
	case n >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RawRecord is an opaque log record plus collector metadata.
type RawRecord struct {
	// Data is the raw payload exactly as received.
	Data []byte

	// ReceivedAt is the arrival timestamp stamped by the collector.
	ReceivedAt time.Time

	// Source identifies the ingest source (collector, listener, file).
	Source string

	// SourceHint and CategoryHint steer parser candidate selection.
	// Both are optional.
	SourceHint   string
	CategoryHint string

	// Priority is the admission band; zero means PriorityNormal.
	Priority Priority
}

// EffectivePriority returns the record priority with the default applied.
func (r *RawRecord) EffectivePriority() Priority {
	if !r.Priority.Valid() {
		return PriorityNormal
	}
	return r.Priority
}

// User describes the acting or target account of an event.
type User struct {
	Name   string
	ID     string
	Domain string
	Email  string
	Roles  []string
}

// Device describes the host an event originated from or targeted.
type Device struct {
	Name      string
	ID        string
	IP        string
	MAC       string
	OS        string
	OSVersion string
}

// Network describes connection endpoints and transport.
type Network struct {
	SourceIP        string
	SourcePort      int
	DestinationIP   string
	DestinationPort int
	Protocol        string
	Transport       string
	Direction       string
	Bytes           int64
	Packets         int64
}

// Process describes an executing program.
type Process struct {
	Name        string
	PID         int
	PPID        int
	CommandLine string
	Executable  string
	Hash        string
	User        string
}

// File describes a file system object referenced by an event.
type File struct {
	Path      string
	Name      string
	Extension string
	Size      int64
	Hash      string
	Owner     string
}

// Registry describes a Windows registry operation.
type Registry struct {
	Key       string
	ValueName string
	ValueData string
	Hive      string
}

// URL describes a web resource referenced by an event.
type URL struct {
	Full   string
	Domain string
	Path   string
	Query  string
	Scheme string
	Port   int
}

// DNS describes a name resolution event.
type DNS struct {
	Question     string
	QuestionType string
	Answers      []string
	ResponseCode string
}

// Authentication describes a login or credential validation attempt.
type Authentication struct {
	Method    string
	Protocol  string
	Success   bool
	FailureReason,
	SessionID string
}

// Authorization describes an access control decision.
type Authorization struct {
	Action     string
	Resource   string
	Granted    bool
	PolicyName string
}

// Threat carries detection metadata attached by the producing parser.
type Threat struct {
	Name       string
	Category   string
	Severity   Severity
	Confidence float64
	// Technique and Tactic are MITRE identifiers (T####, TA####),
	// treated as opaque strings by the core.
	Technique string
	Tactic    string
	Indicator string
}

// ParsedEvent is the intermediate representation a parser produces before
// normalization. Sub-records are optional; Custom holds parser-private
// fields as a Value tree.
type ParsedEvent struct {
	Timestamp time.Time
	Source    string
	Category  string
	Action    string
	Outcome   Outcome
	Severity  Severity

	// Raw is the original payload the event was parsed from.
	Raw []byte

	User           *User
	Device         *Device
	Network        *Network
	Process        *Process
	File           *File
	Registry       *Registry
	URL            *URL
	DNS            *DNS
	Authentication *Authentication
	Authorization  *Authorization
	Threat         *Threat

	Custom map[string]Value
}

// SetCustom stores a parser-private field, allocating the bag lazily.
func (e *ParsedEvent) SetCustom(key string, v Value) {
	if e.Custom == nil {
		e.Custom = make(map[string]Value)
	}
	e.Custom[key] = v
}

// HasStructured reports whether any structured sub-record is present.
func (e *ParsedEvent) HasStructured() bool {
	return e.User != nil || e.Device != nil || e.Network != nil ||
		e.Process != nil || e.File != nil || e.Registry != nil ||
		e.URL != nil || e.DNS != nil || e.Authentication != nil ||
		e.Authorization != nil || e.Threat != nil
}

// HasSecurityContext reports whether the event carries authentication,
// authorization, or threat detail. Used by confidence scoring.
func (e *ParsedEvent) HasSecurityContext() bool {
	return e.Authentication != nil || e.Authorization != nil || e.Threat != nil
}
