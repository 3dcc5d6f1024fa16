package parser

import (
	"fmt"
	"regexp"
)

// idPattern is the canonical parser id shape: lowercase alphanumerics with
// dash/underscore separators, e.g. "aws-cloudtrail" or "syslog_rfc3164".
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidationResult is the outcome of registration-time parser validation.
// Errors block registration; warnings do not.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateParser checks a parser's descriptor against the contract before it
// is admitted to the registry.
func ValidateParser(p Parser) ValidationResult {
	var res ValidationResult
	if p == nil {
		res.Errors = append(res.Errors, "parser is nil")
		return res
	}

	desc := p.Descriptor()

	if desc.ID == "" {
		res.Errors = append(res.Errors, "descriptor id is empty")
	} else if !idPattern.MatchString(desc.ID) {
		res.Errors = append(res.Errors,
			fmt.Sprintf("descriptor id %q is malformed (want lowercase alphanumerics, dash, underscore)", desc.ID))
	}

	if desc.LogSource == "" {
		res.Errors = append(res.Errors, "descriptor log source is empty")
	}
	if !desc.Format.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown format %q", desc.Format))
	}
	if !desc.Category.Valid() {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown category %q", desc.Category))
	}

	if desc.Name == "" {
		res.Warnings = append(res.Warnings, "descriptor name is empty")
	}
	if desc.Vendor == "" {
		res.Warnings = append(res.Warnings, "descriptor vendor is empty")
	}
	if desc.Version == "" {
		res.Warnings = append(res.Warnings, "descriptor version is empty")
	}
	if desc.Priority < 0 || desc.Priority > 100 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("priority %d outside the conventional 0-100 range", desc.Priority))
	}

	res.Valid = len(res.Errors) == 0
	return res
}
