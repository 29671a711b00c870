package records

import (
	"fmt"
	"strings"
	"time"
)

// DateError is returned for a value no known layout accepts.
type DateError struct {
	RecordID string
	Column   string
	Value    string
}

func (e *DateError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("record %s: malformed date %q in column %q", e.RecordID, e.Value, e.Column)
	}
	return fmt.Sprintf("malformed date %q", e.Value)
}

// Layouts tried in order. Numeric forms are month-first; the day-first
// forms only match when the first field cannot be a month.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, 2 Jan 2006",
	"Monday, 2 January 2006",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01.02.2006",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"20060102",
}

// ParseDate accepts the calendar-date shapes the workspace store and its
// users produce and returns the date at midnight in the value's own zone.
func ParseDate(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return time.Time{}, &DateError{Value: s}
	}
	// Date ranges render as "start → end"; only the start matters here.
	if i := strings.Index(raw, " → "); i > 0 {
		raw = raw[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
		}
	}
	return time.Time{}, &DateError{Value: s}
}
