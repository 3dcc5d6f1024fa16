package builtin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/securewatch/ingest/pkg/event"
	"github.com/securewatch/ingest/pkg/parser"
	"github.com/securewatch/ingest/pkg/parser/normalize"
)

// cloudTrailRecord is the subset of the CloudTrail record shape the parser
// consumes.
type cloudTrailRecord struct {
	EventTime       string `json:"eventTime"`
	EventName       string `json:"eventName"`
	EventSource     string `json:"eventSource"`
	AWSRegion       string `json:"awsRegion"`
	SourceIPAddress string `json:"sourceIPAddress"`
	UserAgent       string `json:"userAgent"`
	ErrorCode       string `json:"errorCode"`
	ErrorMessage    string `json:"errorMessage"`
	UserIdentity    struct {
		Type     string `json:"type"`
		UserName string `json:"userName"`
		ARN      string `json:"arn"`
	} `json:"userIdentity"`
}

// CloudTrailParser parses CloudTrail-style JSON audit records.
type CloudTrailParser struct {
	desc parser.Descriptor
}

// NewCloudTrailParser creates the reference cloud audit parser.
func NewCloudTrailParser() *CloudTrailParser {
	return &CloudTrailParser{desc: parser.Descriptor{
		ID:        "aws-cloudtrail",
		Name:      "AWS CloudTrail",
		Vendor:    "Amazon Web Services",
		LogSource: "aws-cloudtrail",
		Version:   "1.0.0",
		Format:    parser.FormatJSON,
		Category:  parser.CategoryCloud,
		Priority:  70,
		Enabled:   true,
	}}
}

func (p *CloudTrailParser) Descriptor() parser.Descriptor { return p.desc }

// Validate sniffs for a JSON object carrying the two mandatory CloudTrail
// keys without paying for a full parse.
func (p *CloudTrailParser) Validate(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return bytes.HasPrefix(trimmed, []byte("{")) &&
		bytes.Contains(trimmed, []byte(`"eventTime"`)) &&
		bytes.Contains(trimmed, []byte(`"eventName"`))
}

func (p *CloudTrailParser) Parse(raw []byte) (*event.ParsedEvent, error) {
	var rec cloudTrailRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}
	if rec.EventTime == "" || rec.EventName == "" {
		return nil, nil
	}

	ts, err := normalize.ParseTimestamp(rec.EventTime)
	if err != nil {
		return nil, fmt.Errorf("cloudtrail eventTime: %w", err)
	}

	outcome := event.OutcomeSuccess
	if rec.ErrorCode != "" {
		outcome = event.OutcomeFailure
	}

	ev := &event.ParsedEvent{
		Timestamp: ts,
		Source:    rec.EventSource,
		Category:  categoryForEventSource(rec.EventSource),
		Action:    rec.EventName,
		Outcome:   outcome,
		Severity:  cloudTrailSeverity(rec),
		Raw:       raw,
	}
	if rec.UserIdentity.UserName != "" || rec.UserIdentity.ARN != "" {
		ev.User = &event.User{
			Name: rec.UserIdentity.UserName,
			ID:   rec.UserIdentity.ARN,
		}
	}
	if rec.SourceIPAddress != "" {
		ev.Network = &event.Network{SourceIP: rec.SourceIPAddress}
	}
	if rec.ErrorCode == "AccessDenied" || rec.ErrorCode == "UnauthorizedOperation" {
		ev.Authorization = &event.Authorization{
			Action:  rec.EventName,
			Granted: false,
		}
	}

	ev.SetCustom("cloud.provider", event.String("aws"))
	if rec.AWSRegion != "" {
		ev.SetCustom("cloud.region", event.String(rec.AWSRegion))
	}
	if rec.ErrorCode != "" {
		ev.SetCustom("error.code", event.String(rec.ErrorCode))
	}
	if rec.ErrorMessage != "" {
		ev.SetCustom("error.message", event.String(rec.ErrorMessage))
	}
	if rec.UserAgent != "" {
		ev.SetCustom("user_agent.original", event.String(rec.UserAgent))
	}
	return ev, nil
}

func (p *CloudTrailParser) Normalize(ev *event.ParsedEvent) (event.NormalizedEvent, error) {
	out := event.NewNormalizedEvent()
	if !ev.Timestamp.IsZero() {
		out.SetTimestamp(ev.Timestamp)
	}
	out.SetString(event.FieldEventKind, "event")
	categories := []string{ev.Category}
	if ev.Authorization != nil && !ev.Authorization.Granted && ev.Category != "iam" {
		// Denied API calls are IAM policy decisions as much as service
		// activity; classify them under both.
		categories = append(categories, "iam")
	}
	out.Set(event.FieldEventCategory, event.Strings(categories...))
	out.Set(event.FieldEventType, event.Strings(eventTypesForAction(ev.Action)...))
	out.SetString(event.FieldEventAction, ev.Action)
	out.SetString(event.FieldEventOutcome, string(ev.Outcome))
	out.SetSeverity(ev.Severity)

	if ev.Source != "" {
		out.SetString("event.provider", ev.Source)
	}
	if ev.User != nil && ev.User.Name != "" {
		out.SetString("user.name", ev.User.Name)
		out.AddRelatedUser(ev.User.Name)
	}
	if ev.Network != nil && ev.Network.SourceIP != "" {
		out.SetString("source.ip", ev.Network.SourceIP)
		out.AddRelatedIP(ev.Network.SourceIP)
	}
	for k, v := range ev.Custom {
		out.Set(k, v)
	}
	return out, nil
}

// categoryForEventSource maps the emitting service to an event category.
func categoryForEventSource(source string) string {
	switch {
	case strings.HasPrefix(source, "iam."), strings.HasPrefix(source, "sts."):
		return "iam"
	case strings.HasPrefix(source, "signin."):
		return "authentication"
	default:
		return "cloud"
	}
}

// cloudTrailSeverity rates denials and destructive operations above routine
// API activity.
func cloudTrailSeverity(rec cloudTrailRecord) event.Severity {
	if rec.ErrorCode == "AccessDenied" || rec.ErrorCode == "UnauthorizedOperation" {
		return event.SeverityHigh
	}
	if rec.ErrorCode != "" {
		return event.SeverityMedium
	}
	if isDestructiveAction(rec.EventName) {
		return event.SeverityMedium
	}
	return event.SeverityLow
}

func isDestructiveAction(name string) bool {
	for _, prefix := range []string{"Delete", "Terminate", "Remove", "Revoke", "Stop"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func eventTypesForAction(action string) []string {
	switch {
	case strings.HasPrefix(action, "Create"):
		return []string{"creation"}
	case strings.HasPrefix(action, "Delete"), strings.HasPrefix(action, "Terminate"):
		return []string{"deletion"}
	case strings.HasPrefix(action, "Get"), strings.HasPrefix(action, "List"),
		strings.HasPrefix(action, "Describe"):
		return []string{"access"}
	default:
		return []string{"change"}
	}
}
