// Package records holds the typed view of a workspace data-source snapshot.
//
// The workspace store returns loosely typed property bags keyed by display
// name. Snapshot and Row flatten them into Values once, at the client
// boundary, and the pipelines project rows into their own narrow shapes
// through the accessors here, failing fast when a column is absent.
package records

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Value is one flattened property of a record.
type Value struct {
	Type   string   `json:"type"`
	Text   string   `json:"text,omitempty"`
	Bool   bool     `json:"bool,omitempty"`
	Number *float64 `json:"number,omitempty"`
	Items  []string `json:"items,omitempty"`
}

// Row is one record of a data source.
type Row struct {
	ID         string           `json:"id"`
	URL        string           `json:"url,omitempty"`
	Properties map[string]Value `json:"properties"`
}

// Snapshot is the full set of live records of a data source at fetch time,
// in the order the store returned them.
type Snapshot struct {
	DataSourceID string `json:"data_source_id"`
	Rows         []Row  `json:"rows"`
}

// MissingColumnError reports columns a projection needs but the snapshot lacks.
type MissingColumnError struct {
	DataSourceID string
	Columns      []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("data source %s is missing column(s): %s", e.DataSourceID, strings.Join(e.Columns, ", "))
}

// Require checks every row exposes the named columns.
func (s Snapshot) Require(cols ...string) error {
	missing := map[string]struct{}{}
	for _, r := range s.Rows {
		for _, c := range cols {
			if _, ok := r.Properties[c]; !ok {
				missing[c] = struct{}{}
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for c := range missing {
		names = append(names, c)
	}
	sort.Strings(names)
	return &MissingColumnError{DataSourceID: s.DataSourceID, Columns: names}
}

// Columns lists every property name seen across the snapshot.
func (s Snapshot) Columns() []string {
	seen := map[string]struct{}{}
	for _, r := range s.Rows {
		for c := range r.Properties {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Text returns the textual form of a column. Multi-valued properties are
// joined with ", ".
func (r Row) Text(col string) string {
	v, ok := r.Properties[col]
	if !ok {
		return ""
	}
	if v.Text != "" {
		return v.Text
	}
	if len(v.Items) > 0 {
		return strings.Join(v.Items, ", ")
	}
	if v.Number != nil {
		return formatNumber(*v.Number)
	}
	if v.Type == "checkbox" {
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

// Bool reads a checkbox-like column. A missing column is an error.
func (r Row) Bool(col string) (bool, error) {
	v, ok := r.Properties[col]
	if !ok {
		return false, fmt.Errorf("record %s: column %q not present", r.ID, col)
	}
	switch v.Type {
	case "checkbox", "formula":
		if v.Type == "formula" && v.Text != "" {
			return strings.EqualFold(v.Text, "true"), nil
		}
		return v.Bool, nil
	default:
		return false, fmt.Errorf("record %s: column %q is %s, not a checkbox", r.ID, col, v.Type)
	}
}

// Int reads a numeric column, truncating toward zero. Empty numbers read as 0.
func (r Row) Int(col string) (int, error) {
	v, ok := r.Properties[col]
	if !ok {
		return 0, fmt.Errorf("record %s: column %q not present", r.ID, col)
	}
	if v.Number == nil {
		return 0, nil
	}
	return int(math.Trunc(*v.Number)), nil
}

// Date parses a date column with ParseDate. ok is false for an empty value.
func (r Row) Date(col string) (time.Time, bool, error) {
	raw := strings.TrimSpace(r.Text(col))
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseDate(raw)
	if err != nil {
		var de *DateError
		if errors.As(err, &de) {
			de.RecordID = r.ID
			de.Column = col
		}
		return time.Time{}, false, err
	}
	return t, true, nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
