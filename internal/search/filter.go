package search

import (
	"strings"

	"ewmsearch/internal/table"
)

// Filter returns the rows of ds that satisfy q, in dataset order. An empty
// query returns every row. Matching is case-insensitive substring containment
// over the string form of each cell.
func Filter(ds *table.Dataset, q Query) []table.Row {
	if ds == nil {
		return nil
	}
	rows := ds.Rows()
	needle := q.needle()
	if needle == "" {
		out := make([]table.Row, len(rows))
		copy(out, rows)
		return out
	}

	out := make([]table.Row, 0)
	for _, r := range rows {
		if Matches(r, needle, q.Scope) {
			out = append(out, r)
		}
	}
	return out
}

// Matches reports whether row r contains the already lower-cased needle
// within scope.
func Matches(r table.Row, needle string, scope Scope) bool {
	if !scope.IsAll() {
		return strings.Contains(strings.ToLower(table.CellString(r.Cell(scope.Index()))), needle)
	}
	for _, s := range r.Strings() {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
