package normalize

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsableTimestamp is returned when no known format matches.
var ErrUnparsableTimestamp = errors.New("unparsable timestamp")

// textFormats are tried in order after the numeric (epoch) fast paths.
var textFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05", // ISO, no zone
	"2006-01-02 15:04:05.999",
	"2006-01-02 15:04:05",
	"02/Jan/2006:15:04:05 -0700", // common log format
	"02/Jan/2006:15:04:05",
	"2006/01/02 15:04:05",
	time.UnixDate,
	time.ANSIC,
}

// ParseTimestamp parses the timestamp formats seen across log sources:
// RFC 3339, RFC 3164, epoch seconds (10 digits), epoch milliseconds
// (13 digits), and common log-file formats. RFC 3164 stamps carry no year;
// the current year is assumed, rolled back one year when that would place
// the event in the future.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnparsableTimestamp
	}

	if isDigits(s) {
		switch len(s) {
		case 10:
			sec, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return time.Unix(sec, 0).UTC(), nil
			}
		case 13:
			ms, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return time.UnixMilli(ms).UTC(), nil
			}
		}
		return time.Time{}, ErrUnparsableTimestamp
	}

	for _, layout := range textFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if t, err := parseRFC3164(s, time.Now().UTC()); err == nil {
		return t, nil
	}
	return time.Time{}, ErrUnparsableTimestamp
}

// parseRFC3164 handles the classic "Jan _2 15:04:05" syslog header stamp.
func parseRFC3164(s string, now time.Time) (time.Time, error) {
	t, err := time.Parse(time.Stamp, s)
	if err != nil {
		return time.Time{}, err
	}
	t = t.AddDate(now.Year(), 0, 0)
	// A stamp more than a day ahead of now is last year's.
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
