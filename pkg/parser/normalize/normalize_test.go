package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/securewatch/ingest/pkg/event"
)

func TestSeverityFromLevel(t *testing.T) {
	tests := []struct {
		level string
		want  event.Severity
	}{
		{"debug", event.SeverityLow},
		{"INFO", event.SeverityLow},
		{"notice", event.SeverityLow},
		{"warning", event.SeverityMedium},
		{"Warn", event.SeverityMedium},
		{"error", event.SeverityHigh},
		{"err", event.SeverityHigh},
		{"critical", event.SeverityCritical},
		{"FATAL", event.SeverityCritical},
		{"panic", event.SeverityCritical},
		{" emerg ", event.SeverityCritical},
		{"something-else", event.SeverityMedium},
		{"", event.SeverityMedium},
	}
	for _, tt := range tests {
		if got := SeverityFromLevel(tt.level); got != tt.want {
			t.Errorf("SeverityFromLevel(%q) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestSeverityFromSyslog(t *testing.T) {
	tests := []struct {
		code int
		want event.Severity
	}{
		{0, event.SeverityCritical},
		{1, event.SeverityCritical},
		{2, event.SeverityCritical},
		{3, event.SeverityHigh},
		{4, event.SeverityMedium},
		{5, event.SeverityLow},
		{6, event.SeverityLow},
		{7, event.SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityFromSyslog(tt.code); got != tt.want {
			t.Errorf("SeverityFromSyslog(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestSplitPriority(t *testing.T) {
	// PRI 34 = facility 4 (auth), severity 2 (critical).
	fac, sev := SplitPriority(34)
	if fac != 4 || sev != 2 {
		t.Errorf("SplitPriority(34) = (%d, %d), want (4, 2)", fac, sev)
	}

	fac, sev = SplitPriority(165)
	if fac != 20 || sev != 5 {
		t.Errorf("SplitPriority(165) = (%d, %d), want (20, 5)", fac, sev)
	}
}

func TestFacilityName(t *testing.T) {
	if got := FacilityName(4); got != "auth" {
		t.Errorf("FacilityName(4) = %q, want auth", got)
	}
	if got := FacilityName(23); got != "local7" {
		t.Errorf("FacilityName(23) = %q, want local7", got)
	}
	if got := FacilityName(99); got != "unknown" {
		t.Errorf("FacilityName(99) = %q, want unknown", got)
	}
	if got := FacilityName(-1); got != "unknown" {
		t.Errorf("FacilityName(-1) = %q, want unknown", got)
	}
}

func TestCategoryFromFacility(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{4, "authentication"},
		{10, "authentication"},
		{13, "audit"},
		{2, "network"},
		{0, "system"},
		{3, "system"},
		{9, "system"},
		{16, "application"},
		{1, "application"},
	}
	for _, tt := range tests {
		if got := CategoryFromFacility(tt.code); got != tt.want {
			t.Errorf("CategoryFromFacility(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCategoryFromEventID(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{4624, "authentication"}, // successful logon
		{4625, "authentication"}, // failed logon
		{4768, "authentication"}, // Kerberos TGT request
		{4720, "iam"},            // account created
		{4740, "iam"},            // account locked out
		{4672, "authorization"},  // special privileges
		{5140, "network"},        // share accessed
		{4663, "endpoint"},       // object access attempt
		{1102, "audit"},          // audit log cleared
		{9999, "system"},
	}
	for _, tt := range tests {
		if got := CategoryFromEventID(tt.id); got != tt.want {
			t.Errorf("CategoryFromEventID(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestParseTimestamp_Formats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01T12:30:45Z", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"2024-06-01T12:30:45.123456789Z", time.Date(2024, 6, 1, 12, 30, 45, 123456789, time.UTC)},
		{"2024-06-01T12:30:45", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"2024-06-01 12:30:45", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"2024/06/01 12:30:45", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"01/Jun/2024:12:30:45", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"1717245045", time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"1717245045123", time.Date(2024, 6, 1, 12, 30, 45, 123000000, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestamp_CommonLogWithZone(t *testing.T) {
	got, err := ParseTimestamp("01/Jun/2024:12:30:45 +0200")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	want := time.Date(2024, 6, 1, 10, 30, 45, 0, time.UTC)
	if !got.UTC().Equal(want) {
		t.Errorf("got %v, want %v", got.UTC(), want)
	}
}

func TestParseTimestamp_RFC3164AssumesCurrentYear(t *testing.T) {
	got, err := ParseTimestamp("Oct 11 22:14:15")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if got.Month() != time.October || got.Day() != 11 || got.Hour() != 22 {
		t.Errorf("fields = %v", got)
	}

	now := time.Now().UTC()
	year := got.Year()
	if year != now.Year() && year != now.Year()-1 {
		t.Errorf("year = %d, want current or previous year", year)
	}
	if got.After(now.Add(24 * time.Hour)) {
		t.Errorf("RFC 3164 stamp resolved to the future: %v", got)
	}
}

func TestParseTimestamp_Unparsable(t *testing.T) {
	for _, in := range []string{"", "   ", "not a time", "123456", "99999999999999999999"} {
		if _, err := ParseTimestamp(in); !errors.Is(err, ErrUnparsableTimestamp) {
			t.Errorf("ParseTimestamp(%q) = %v, want ErrUnparsableTimestamp", in, err)
		}
	}
}
