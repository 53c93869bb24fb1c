// Package search filters a Dataset by a text query and turns the result into
// a bounded, highlighted render plan.
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ewmsearch/internal/table"
)

// ScopeAll is the column selector value that searches every column.
const ScopeAll = "all"

// ErrUnknownColumn is returned when a column selector does not match the schema.
var ErrUnknownColumn = errors.New("unknown column")

// Scope limits matching to every column or to a single one.
type Scope struct {
	all    bool
	column int
}

// AllColumns matches against every cell of a row.
func AllColumns() Scope { return Scope{all: true} }

// Column matches against the single column at index i.
func Column(i int) Scope { return Scope{column: i} }

// IsAll reports whether the scope covers every column.
func (s Scope) IsAll() bool { return s.all }

// Index returns the column index for a single-column scope.
func (s Scope) Index() int { return s.column }

func (s Scope) String() string {
	if s.all {
		return ScopeAll
	}
	return strconv.Itoa(s.column)
}

// ParseScope reads a column selector: "all" (or empty), a column index, or a
// column name.
func ParseScope(v string, schema *table.Schema) (Scope, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == ScopeAll {
		return AllColumns(), nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		if _, ok := schema.Resolve(table.ByIndex(i)); !ok {
			return Scope{}, fmt.Errorf("%w: index %d", ErrUnknownColumn, i)
		}
		return Column(i), nil
	}
	i, ok := schema.Resolve(table.ByName(v))
	if !ok {
		return Scope{}, fmt.Errorf("%w: %q", ErrUnknownColumn, v)
	}
	return Column(i), nil
}

// Query is a search request: free text plus a column scope.
type Query struct {
	Text  string
	Scope Scope
}

// NewQuery normalizes the text (trimmed) and pairs it with a scope.
func NewQuery(text string, scope Scope) Query {
	return Query{Text: strings.TrimSpace(text), Scope: scope}
}

// needle is the lower-cased trimmed query text.
func (q Query) needle() string {
	return strings.ToLower(strings.TrimSpace(q.Text))
}

// Empty reports whether the query matches everything.
func (q Query) Empty() bool {
	return q.needle() == ""
}
