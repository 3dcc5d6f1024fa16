// Package builtin ships reference parser implementations: an RFC 3164
// syslog parser and a CloudTrail-style JSON parser. They exercise the
// inbound parser contract end to end; vendor parser fleets live outside
// this module and plug in the same way.
package builtin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/securewatch/ingest/pkg/event"
	"github.com/securewatch/ingest/pkg/parser"
	"github.com/securewatch/ingest/pkg/parser/normalize"
)

// rfc3164Pattern matches "<PRI>Mmm dd hh:mm:ss host tag: message".
var rfc3164Pattern = regexp.MustCompile(
	`^<(\d{1,3})>([A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2}) (\S+) ([^:\s\[]+)(?:\[(\d+)\])?:\s*(.*)$`)

// SyslogParser parses classic RFC 3164 syslog lines.
type SyslogParser struct {
	desc parser.Descriptor
}

// NewSyslogParser creates the reference syslog parser.
func NewSyslogParser() *SyslogParser {
	return &SyslogParser{desc: parser.Descriptor{
		ID:        "syslog-rfc3164",
		Name:      "Syslog RFC 3164",
		Vendor:    "SecureWatch",
		LogSource: "syslog",
		Version:   "1.0.0",
		Format:    parser.FormatSyslog,
		Category:  parser.CategorySystem,
		Priority:  60,
		Enabled:   true,
	}}
}

func (p *SyslogParser) Descriptor() parser.Descriptor { return p.desc }

// Validate sniffs for the <PRI> prefix followed by a month abbreviation.
func (p *SyslogParser) Validate(raw []byte) bool {
	return rfc3164Pattern.Match(raw)
}

func (p *SyslogParser) Parse(raw []byte) (*event.ParsedEvent, error) {
	m := rfc3164Pattern.FindSubmatch(raw)
	if m == nil {
		return nil, nil
	}

	pri, err := strconv.Atoi(string(m[1]))
	if err != nil || pri > 191 {
		return nil, fmt.Errorf("invalid syslog priority %q", m[1])
	}
	facility, sysSeverity := normalize.SplitPriority(pri)

	ts, err := normalize.ParseTimestamp(string(m[2]))
	if err != nil {
		return nil, fmt.Errorf("syslog timestamp: %w", err)
	}

	host := string(m[3])
	tag := string(m[4])
	message := string(m[6])

	ev := &event.ParsedEvent{
		Timestamp: ts,
		Source:    host,
		Category:  normalize.CategoryFromFacility(facility),
		Action:    tag,
		Outcome:   classifyOutcome(message),
		Severity:  classifySeverity(message, sysSeverity),
		Raw:       raw,
		Device:    &event.Device{Name: host},
		Process:   &event.Process{Name: tag},
	}
	if pid := string(m[5]); pid != "" {
		if n, err := strconv.Atoi(pid); err == nil {
			ev.Process.PID = n
		}
	}
	if ev.Category == "authentication" {
		ev.Authentication = &event.Authentication{
			Success: ev.Outcome == event.OutcomeSuccess,
		}
		if ev.Outcome == event.OutcomeFailure {
			ev.Authentication.FailureReason = message
		}
	}

	ev.SetCustom("message", event.String(message))
	ev.SetCustom("syslog.facility.code", event.Int(facility))
	ev.SetCustom("syslog.facility.name", event.String(normalize.FacilityName(facility)))
	ev.SetCustom("syslog.severity.code", event.Int(sysSeverity))
	return ev, nil
}

func (p *SyslogParser) Normalize(ev *event.ParsedEvent) (event.NormalizedEvent, error) {
	out := event.NewNormalizedEvent()
	if !ev.Timestamp.IsZero() {
		out.SetTimestamp(ev.Timestamp)
	}
	out.SetString(event.FieldEventKind, "event")
	out.Set(event.FieldEventCategory, event.Strings(ev.Category))
	out.Set(event.FieldEventType, event.Strings("info"))
	out.SetString(event.FieldEventAction, ev.Action)
	out.SetString(event.FieldEventOutcome, string(ev.Outcome))
	out.SetSeverity(ev.Severity)

	if ev.Device != nil && ev.Device.Name != "" {
		out.SetString("host.name", ev.Device.Name)
		out.AddRelatedHost(ev.Device.Name)
	}
	if ev.Process != nil {
		out.SetString("process.name", ev.Process.Name)
		if ev.Process.PID > 0 {
			out.SetInt("process.pid", ev.Process.PID)
		}
	}
	for k, v := range ev.Custom {
		out.Set(k, v)
	}
	return out, nil
}

// classifyOutcome reads the message body for success or failure markers.
func classifyOutcome(message string) event.Outcome {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "failure"),
		strings.Contains(lowered, "failed"),
		strings.Contains(lowered, "denied"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "incorrect"):
		return event.OutcomeFailure
	case strings.Contains(lowered, "accepted"),
		strings.Contains(lowered, "success"),
		strings.Contains(lowered, "session opened"):
		return event.OutcomeSuccess
	default:
		return event.OutcomeUnknown
	}
}

// classifySeverity prefers message content over the wire severity code:
// daemons routinely log routine denials at LOG_CRIT, so keywords are the
// better signal and the code is the fallback.
func classifySeverity(message string, sysSeverity int) event.Severity {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "panic"),
		strings.Contains(lowered, "emergency"),
		strings.Contains(lowered, "fatal"):
		return event.SeverityCritical
	case strings.Contains(lowered, "error"):
		return event.SeverityHigh
	case strings.Contains(lowered, "failure"),
		strings.Contains(lowered, "failed"),
		strings.Contains(lowered, "denied"),
		strings.Contains(lowered, "warning"):
		return event.SeverityMedium
	default:
		return normalize.SeverityFromSyslog(sysSeverity)
	}
}
