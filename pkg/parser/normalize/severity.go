// Package normalize holds the shared mapping tables parser implementations
// use: severity conversions, syslog facility/severity decoding, category
// classification and multi-format timestamp parsing. Everything here is a
// pure function over its inputs.
package normalize

import (
	"strings"

	"github.com/securewatch/ingest/pkg/event"
)

// levelToSeverity maps vendor level strings onto the common scale.
var levelToSeverity = map[string]event.Severity{
	"trace":         event.SeverityLow,
	"debug":         event.SeverityLow,
	"info":          event.SeverityLow,
	"informational": event.SeverityLow,
	"notice":        event.SeverityLow,
	"low":           event.SeverityLow,
	"warn":          event.SeverityMedium,
	"warning":       event.SeverityMedium,
	"medium":        event.SeverityMedium,
	"moderate":      event.SeverityMedium,
	"err":           event.SeverityHigh,
	"error":         event.SeverityHigh,
	"high":          event.SeverityHigh,
	"severe":        event.SeverityHigh,
	"crit":          event.SeverityCritical,
	"critical":      event.SeverityCritical,
	"alert":         event.SeverityCritical,
	"emerg":         event.SeverityCritical,
	"emergency":     event.SeverityCritical,
	"fatal":         event.SeverityCritical,
	"panic":         event.SeverityCritical,
}

// SeverityFromLevel maps a vendor severity level string to the common
// severity. Unknown levels default to medium.
func SeverityFromLevel(level string) event.Severity {
	if sev, ok := levelToSeverity[strings.ToLower(strings.TrimSpace(level))]; ok {
		return sev
	}
	return event.SeverityMedium
}

// SeverityFromSyslog maps a syslog severity code (0-7) to the common
// severity: 0-2 critical, 3 high, 4 medium, 5-7 low.
func SeverityFromSyslog(code int) event.Severity {
	switch {
	case code <= 2:
		return event.SeverityCritical
	case code == 3:
		return event.SeverityHigh
	case code == 4:
		return event.SeverityMedium
	default:
		return event.SeverityLow
	}
}
