// Package table holds the loaded dataset and the live filtered view.
// Rows are positional; a Schema resolves column names to indices once, at
// construction time, so that rows built from spreadsheets (arrays) and rows
// built from preloaded records (objects) are addressed the same way.
package table

import (
	"strings"

	"github.com/spf13/cast"
)

// ColumnKey addresses a column either by name or by position.
type ColumnKey struct {
	name   string
	index  int
	byName bool
}

// ByName returns a key that resolves a column by its header name.
func ByName(name string) ColumnKey {
	return ColumnKey{name: name, byName: true}
}

// ByIndex returns a key that resolves a column by its zero-based position.
func ByIndex(i int) ColumnKey {
	return ColumnKey{index: i}
}

// Schema is the ordered list of column names plus a name→index table.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema builds a schema. Header names are trimmed; for duplicate names
// the first occurrence wins.
func NewSchema(columns []string) *Schema {
	s := &Schema{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		c = strings.TrimSpace(c)
		s.columns[i] = c
		if _, ok := s.index[c]; !ok {
			s.index[c] = i
		}
	}
	return s
}

// Columns returns a copy of the column names.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// Resolve maps a key to a column index.
func (s *Schema) Resolve(key ColumnKey) (int, bool) {
	if key.byName {
		i, ok := s.index[key.name]
		return i, ok
	}
	if key.index < 0 || key.index >= len(s.columns) {
		return 0, false
	}
	return key.index, true
}

// Row is one immutable record aligned to its Schema.
type Row struct {
	schema *Schema
	cells  []any
}

// Get returns the raw cell value for key, or nil when the key does not resolve.
func (r Row) Get(key ColumnKey) any {
	if r.schema == nil {
		return nil
	}
	i, ok := r.schema.Resolve(key)
	if !ok {
		return nil
	}
	return r.cells[i]
}

// String returns the display form of the cell for key. Absent values become "".
func (r Row) String(key ColumnKey) string {
	return CellString(r.Get(key))
}

// Cell returns the raw value at position i.
func (r Row) Cell(i int) any {
	if i < 0 || i >= len(r.cells) {
		return nil
	}
	return r.cells[i]
}

// Cells returns a copy of the raw values in column order.
func (r Row) Cells() []any {
	out := make([]any, len(r.cells))
	copy(out, r.cells)
	return out
}

// Strings returns the display form of every cell in column order.
func (r Row) Strings() []string {
	out := make([]string, len(r.cells))
	for i, c := range r.cells {
		out[i] = CellString(c)
	}
	return out
}

// Len returns the number of cells, always equal to the schema width.
func (r Row) Len() int { return len(r.cells) }

// CellString coerces a cell value to text: nil is "", numbers print without
// exponent or trailing zeros.
func CellString(v any) string {
	if v == nil {
		return ""
	}
	return cast.ToString(v)
}

// isBlank reports whether every cell is absent or the empty string.
func isBlank(cells []any) bool {
	for _, c := range cells {
		if c == nil {
			continue
		}
		if s, ok := c.(string); ok && s == "" {
			continue
		}
		return false
	}
	return true
}

// Dataset is the full loaded table. It is never mutated after construction.
type Dataset struct {
	schema *Schema
	rows   []Row
	source string
}

// NewDataset builds a dataset from positional rows. Short rows are padded,
// cells beyond the header width are dropped and blank rows are removed.
func NewDataset(columns []string, rows [][]any, source string) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, &EmptyDatasetError{Source: source, Reason: "no columns"}
	}
	schema := NewSchema(columns)
	width := schema.Len()

	out := make([]Row, 0, len(rows))
	for _, raw := range rows {
		cells := make([]any, width)
		copy(cells, raw)
		if isBlank(cells) {
			continue
		}
		out = append(out, Row{schema: schema, cells: cells})
	}
	if len(out) == 0 {
		return nil, &EmptyDatasetError{Source: source, Reason: "no non-blank rows"}
	}
	return &Dataset{schema: schema, rows: out, source: source}, nil
}

// NewDatasetFromRecords builds a dataset from mapping-shaped rows. Every
// record is laid out along columns, so both loading paths share one column list.
func NewDatasetFromRecords(columns []string, records []map[string]any, source string) (*Dataset, error) {
	rows := make([][]any, len(records))
	for i, rec := range records {
		cells := make([]any, len(columns))
		for j, c := range columns {
			cells[j] = rec[c]
		}
		rows[i] = cells
	}
	return NewDataset(columns, rows, source)
}

// Schema returns the dataset schema.
func (d *Dataset) Schema() *Schema { return d.schema }

// Columns returns the column names.
func (d *Dataset) Columns() []string { return d.schema.Columns() }

// Rows returns the rows. The slice must not be modified.
func (d *Dataset) Rows() []Row { return d.rows }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Source returns the provenance label, usually the originating file name.
func (d *Dataset) Source() string { return d.source }

// Snapshot converts the dataset to its persisted form.
func (d *Dataset) Snapshot() Snapshot {
	data := make([][]any, len(d.rows))
	for i, r := range d.rows {
		data[i] = r.Cells()
	}
	return Snapshot{Columns: d.Columns(), Data: data, FileName: d.source}
}
