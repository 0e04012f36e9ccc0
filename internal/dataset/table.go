// Package dataset holds the tabular snapshot of a training submission and
// the structural checks that run against it before any engine does.
//
// The table is deliberately untyped (string cells keyed by column name):
// column roles are only known from the training parameters, and the
// heavy-duty readers for other input formats are external collaborators.
package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Table is a column-ordered, row-major tabular dataset.
type Table struct {
	Columns []string
	Records []map[string]string
}

// Point is one observation of a single series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// ParseTime parses a cell into a timestamp, trying the supported layouts
// in order.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns, Records: make([]map[string]string, 0)}
}

// NumRows returns the number of records.
func (t *Table) NumRows() int {
	return len(t.Records)
}

// HasColumn reports whether the table carries the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds one record. Columns absent from the record are left empty.
func (t *Table) Append(record map[string]string) {
	t.Records = append(t.Records, record)
}

// Column returns all values of the named column in row order.
func (t *Table) Column(name string) []string {
	values := make([]string, 0, len(t.Records))
	for _, rec := range t.Records {
		values = append(values, rec[name])
	}
	return values
}

// Series groups the table into per-item series of (timestamp, value) points
// sorted by timestamp. Rows with an unparseable timestamp or a blank target
// are skipped; the caller is expected to have validated and filled the
// table beforehand.
func (t *Table) Series(idColumn, datetimeColumn, targetColumn string) map[string][]Point {
	series := make(map[string][]Point)
	for _, rec := range t.Records {
		ts, err := ParseTime(rec[datetimeColumn])
		if err != nil {
			continue
		}
		raw := strings.TrimSpace(rec[targetColumn])
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		id := rec[idColumn]
		series[id] = append(series[id], Point{Timestamp: ts, Value: value})
	}

	for id := range series {
		pts := series[id]
		sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
		series[id] = pts
	}

	return series
}

// ItemIDs returns the distinct values of the given column in first-seen order.
func (t *Table) ItemIDs(idColumn string) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, rec := range t.Records {
		id := rec[idColumn]
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// StaticFeatures extracts one record per item id carrying the given static
// feature columns, dropping duplicate ids (first occurrence wins).
func (t *Table) StaticFeatures(idColumn string, featureColumns []string) *Table {
	out := NewTable(append([]string{idColumn}, featureColumns...)...)
	seen := make(map[string]struct{})
	for _, rec := range t.Records {
		id := rec[idColumn]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		row := map[string]string{idColumn: id}
		for _, col := range featureColumns {
			row[col] = rec[col]
		}
		out.Append(row)
	}
	return out
}
