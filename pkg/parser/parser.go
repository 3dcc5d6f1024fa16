// Package parser defines the inbound parser contract, the registry that
// indexes parsers by source and category, and the dispatch pipeline that
// turns raw records into normalized events.
package parser

import (
	"github.com/securewatch/ingest/pkg/event"
)

// Format is the closed wire-format vocabulary.
type Format string

const (
	FormatSyslog Format = "syslog"
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatXML    Format = "xml"
	FormatEVTX   Format = "evtx"
	FormatCustom Format = "custom"
)

// Valid reports whether the format is in the closed vocabulary.
func (f Format) Valid() bool {
	switch f {
	case FormatSyslog, FormatJSON, FormatCSV, FormatXML, FormatEVTX, FormatCustom:
		return true
	}
	return false
}

// Category is the closed parser-category vocabulary.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNetwork        Category = "network"
	CategoryEndpoint       Category = "endpoint"
	CategoryCloud          Category = "cloud"
	CategoryApplication    Category = "application"
	CategoryDatabase       Category = "database"
	CategoryWeb            Category = "web"
	CategoryIAM            Category = "iam"
	CategoryThreat         Category = "threat"
	CategorySystem         Category = "system"
	CategoryAudit          Category = "audit"
)

// Valid reports whether the category is in the closed vocabulary.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuthentication, CategoryAuthorization, CategoryNetwork,
		CategoryEndpoint, CategoryCloud, CategoryApplication,
		CategoryDatabase, CategoryWeb, CategoryIAM, CategoryThreat,
		CategorySystem, CategoryAudit:
		return true
	}
	return false
}

// Descriptor identifies a parser. It is immutable after registration; only
// the enabled flag changes, and that lives on the registration, not here.
type Descriptor struct {
	// ID uniquely identifies the parser within the registry.
	ID string

	// Name is the human-readable parser name.
	Name string

	// Vendor is the product vendor the parser understands.
	Vendor string

	// LogSource tags the ingest sources this parser applies to
	// (e.g. "syslog", "aws-cloudtrail", "windows-security").
	LogSource string

	// Version is the parser implementation version.
	Version string

	// Format is the wire format the parser consumes.
	Format Format

	// Category classifies the events the parser produces.
	Category Category

	// Priority orders candidate parsers; higher is tried first.
	Priority int

	// Enabled is the initial enablement at registration time.
	Enabled bool
}

// Parser is the uniform contract every parser implementation satisfies.
// The ~40 vendor parsers are external to the core; they plug in here.
type Parser interface {
	// Descriptor returns the parser identity.
	Descriptor() Descriptor

	// Validate is a cheap format sniff. It must accept a strict subset of
	// what Parse accepts: Validate(raw) == true whenever Parse(raw)
	// returns a non-nil event.
	Validate(raw []byte) bool

	// Parse extracts a structured event. It returns (nil, nil) when raw is
	// not this parser's format; an error indicates the payload matched the
	// format but could not be processed.
	Parse(raw []byte) (*event.ParsedEvent, error)

	// Normalize deterministically maps a parsed event onto the flat
	// normalized schema.
	Normalize(ev *event.ParsedEvent) (event.NormalizedEvent, error)
}
