package engine

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// ReferenceColumn is the column holding the unique, monotonic result reference number.
const ReferenceColumn = "id"

// Column is a table column identified by the API id, with an optional human label.
type Column struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Header returns the label when useLabels is set and a label exists, the id otherwise.
func (c Column) Header(useLabels bool) string {
	if useLabels && c.Label != "" {
		return c.Label
	}
	return c.ID
}

// Row holds cell values keyed by column id. Missing keys are empty cells.
type Row map[string]any

// Reference returns the row's reference number.
func (r Row) Reference() (int64, bool) {
	return toInt64(r[ReferenceColumn])
}

// Table is an ordered set of columns and the rows in API order.
type Table struct {
	Columns []Column
	Rows    []Row
}

func NewTable(columns []Column, rows []Row) *Table {
	return &Table{Columns: columns, Rows: rows}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Headers returns the column headers in order.
func (t *Table) Headers(useLabels bool) []string {
	headers := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		headers[i] = c.Header(useLabels)
	}
	return headers
}

// ColumnIndex returns the position of a column id, or -1.
func (t *Table) ColumnIndex(id string) int {
	return slices.IndexFunc(t.Columns, func(c Column) bool { return c.ID == id })
}

// Relabel sets column labels from an id to label map. Columns absent from the
// map keep their current label.
func (t *Table) Relabel(labels map[string]string) {
	for i, c := range t.Columns {
		if label, ok := labels[c.ID]; ok {
			t.Columns[i].Label = label
		}
	}
}

// Head keeps only the first n rows. n <= 0 keeps everything.
func (t *Table) Head(n int) {
	if n > 0 && n < len(t.Rows) {
		t.Rows = t.Rows[:n]
	}
}

// ReferenceNumbers returns the reference number of every row in order.
// Rows without a valid reference are skipped.
func (t *Table) ReferenceNumbers() []int64 {
	refs := make([]int64, 0, len(t.Rows))
	for _, row := range t.Rows {
		if ref, ok := row.Reference(); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// LatestReference returns the highest reference number in the table.
func (t *Table) LatestReference() (int64, bool) {
	refs := t.ReferenceNumbers()
	if len(refs) == 0 {
		return 0, false
	}
	return slices.Max(refs), true
}

// Merge returns a new table holding the rows of t followed by the rows of
// other whose reference number is not already present. Columns are the union,
// in first-seen order.
func (t *Table) Merge(other *Table) *Table {
	merged := &Table{
		Columns: slices.Clone(t.Columns),
		Rows:    make([]Row, 0, t.Len()+other.Len()),
	}

	for _, c := range other.Columns {
		if merged.ColumnIndex(c.ID) == -1 {
			merged.Columns = append(merged.Columns, c)
		}
	}

	seen := make(map[int64]struct{}, t.Len()+other.Len())
	for _, src := range []*Table{t, other} {
		for _, row := range src.Rows {
			if ref, ok := row.Reference(); ok {
				if _, dup := seen[ref]; dup {
					continue
				}
				seen[ref] = struct{}{}
			}
			merged.Rows = append(merged.Rows, row)
		}
	}

	return merged
}

// InZone converts every time value of the table to loc.
func (t *Table) InZone(loc *time.Location) {
	for _, row := range t.Rows {
		for k, v := range row {
			if ts, ok := v.(time.Time); ok {
				row[k] = ts.In(loc)
			}
		}
	}
}

// Records returns the rows as ordered column/value pairs, keyed by header.
func (t *Table) Records(useLabels bool) []map[string]any {
	headers := t.Headers(useLabels)
	records := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		record := make(map[string]any, len(t.Columns))
		for j, c := range t.Columns {
			record[headers[j]] = row[c.ID]
		}
		records[i] = record
	}
	return records
}

// FormatCell renders a cell value as text. Times use the given layout func,
// nil values render as an empty string.
func FormatCell(v any, formatTime func(time.Time) string) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		if formatTime == nil {
			return val.Format(time.DateTime)
		}
		return formatTime(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
