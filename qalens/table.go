package qalens

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RawTable is one parsed upload. It never changes after construction and is the sole
// owner of its rows; derived records only point back at it.
type RawTable struct {
	id      string
	name    string
	headers []string
	rows    []map[string]Value
}

// NewRawTable copies headers and rows into a new immutable table. Blank headers become
// "#N" and repeated headers get a " (2)" style suffix so that every column name is unique.
func NewRawTable(name string, headers []string, rows []map[string]Value) *RawTable {
	t := &RawTable{
		id:      uuid.NewString(),
		name:    name,
		headers: uniqueHeaders(headers),
		rows:    make([]map[string]Value, len(rows)),
	}
	for i, row := range rows {
		copied := make(map[string]Value, len(row))
		for k, v := range row {
			copied[k] = v
		}
		t.rows[i] = copied
	}
	return t
}

// newRawTableFromRecords builds a table from positional string cells.
func newRawTableFromRecords(name string, header []string, records [][]string) *RawTable {
	t := &RawTable{
		id:      uuid.NewString(),
		name:    name,
		headers: uniqueHeaders(header),
		rows:    make([]map[string]Value, 0, len(records)),
	}
	for _, record := range records {
		row := make(map[string]Value, len(t.headers))
		for i, col := range t.headers {
			if i < len(record) {
				row[col] = StringValue(record[i])
			}
		}
		t.rows = append(t.rows, row)
	}
	return t
}

func uniqueHeaders(headers []string) []string {
	out := make([]string, len(headers))
	used := make(map[string]struct{}, len(headers))
	for i, h := range headers {
		base := cleanCell(h)
		if base == "" {
			base = fmt.Sprintf("#%d", i+1)
		}
		name := base
		for n := 2; ; n++ {
			if _, dup := used[name]; !dup {
				break
			}
			name = fmt.Sprintf("%s (%d)", base, n)
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}

// ID returns the table identity assigned at construction.
func (t *RawTable) ID() string { return t.id }

// Name returns the upload name, typically the file base name.
func (t *RawTable) Name() string { return t.name }

// Headers returns a copy of the column names.
func (t *RawTable) Headers() []string { return cloneStrings(t.headers) }

// Len returns the number of data rows.
func (t *RawTable) Len() int { return len(t.rows) }

// Cell returns the value at row i, column col.
func (t *RawTable) Cell(i int, col string) Value {
	if i < 0 || i >= len(t.rows) {
		return Value{}
	}
	return t.rows[i][col]
}

// Row returns a copy of row i.
func (t *RawTable) Row(i int) map[string]Value {
	if i < 0 || i >= len(t.rows) {
		return nil
	}
	out := make(map[string]Value, len(t.rows[i]))
	for k, v := range t.rows[i] {
		out[k] = v
	}
	return out
}

// TableInfo is the serializable summary of a table.
type TableInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	Rows    int      `json:"rows"`
}

// Info summarizes the table without its rows.
func (t *RawTable) Info() TableInfo {
	return TableInfo{ID: t.id, Name: t.name, Headers: t.Headers(), Rows: len(t.rows)}
}

// MarshalJSON encodes the table with headers and rows in order.
func (t *RawTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TableInfo
		Data []map[string]Value `json:"data"`
	}{TableInfo: t.Info(), Data: t.rows})
}
