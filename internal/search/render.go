package search

import (
	"fmt"
	"encoding/json"
	"html"
	"strings"
	"unicode/utf8"

	"ewmsearch/internal/table"
)

// DefaultMaxRows caps the number of rows in a render plan.
const DefaultMaxRows = 500

// Segment is a run of cell text, highlighted when it matched the query.
type Segment struct {
	Text      string `json:"text"`
	Highlight bool   `json:"highlight,omitempty"`
}

// Cell is the rendering of one table cell.
type Cell struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Highlighted reports whether any part of the cell matched.
func (c Cell) Highlighted() bool {
	for _, s := range c.Segments {
		if s.Highlight {
			return true
		}
	}
	return false
}

// HTML returns the escaped cell text with matches wrapped in a highlight span.
func (c Cell) HTML() string {
	var sb strings.Builder
	for _, s := range c.Segments {
		if s.Highlight {
			sb.WriteString(`<span class="highlight">`)
			sb.WriteString(html.EscapeString(s.Text))
			sb.WriteString(`</span>`)
			continue
		}
		sb.WriteString(html.EscapeString(s.Text))
	}
	return sb.String()
}

// MarshalJSON adds the escaped, highlighted markup next to the segments.
func (c Cell) MarshalJSON() ([]byte, error) {
	type plain Cell
	return json.Marshal(struct {
		plain
		HTML string `json:"html"`
	}{plain(c), c.HTML()})
}

// RenderPlan describes what to display for a filtered view.
type RenderPlan struct {
	Columns    []string `json:"columns"`
	Rows       [][]Cell `json:"rows"`
	Summary    string   `json:"summary"`
	TotalLabel string   `json:"total_label"`
	Total      int      `json:"total"`
	Matched    int      `json:"matched"`
	Shown      int      `json:"shown"`
	Truncated  bool     `json:"truncated"`
	NoResults  bool     `json:"no_results"`
}

// Render builds the plan for view: at most maxRows rows in view order, each
// cell highlighted against query, and the result-count summary. A maxRows of
// zero or less means DefaultMaxRows.
func Render(view []table.Row, columns []string, query string, maxRows int) RenderPlan {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	plan := RenderPlan{
		Columns: columns,
		Matched: len(view),
		Summary: Summary(len(view), maxRows),
	}
	if len(view) == 0 {
		plan.NoResults = true
		plan.Rows = [][]Cell{}
		return plan
	}

	shown := view
	if len(shown) > maxRows {
		shown = shown[:maxRows]
		plan.Truncated = true
	}
	plan.Shown = len(shown)

	hl := NewHighlighter(query)
	plan.Rows = make([][]Cell, len(shown))
	for i, r := range shown {
		cells := make([]Cell, len(columns))
		for j := range columns {
			cells[j] = hl.Cell(table.CellString(r.Cell(j)))
		}
		plan.Rows[i] = cells
	}
	return plan
}

// Summary formats the result count: "1 resultado", "N resultados", with
// " (mostrando M)" appended when the count exceeds maxRows.
func Summary(count, maxRows int) string {
	var s string
	if count == 1 {
		s = "1 resultado"
	} else {
		s = fmt.Sprintf("%d resultados", count)
	}
	if maxRows > 0 && count > maxRows {
		s += fmt.Sprintf(" (mostrando %d)", maxRows)
	}
	return s
}

// TotalLabel formats the dataset size shown next to the summary.
func TotalLabel(n int) string {
	return fmt.Sprintf("Total: %d itens", n)
}

// Highlighter wraps occurrences of the query in cell text. Case is folded
// the same way Filter folds it, so every matching cell shows a highlight.
type Highlighter struct {
	needle string
}

// NewHighlighter prepares query for matching. The query is a literal: pattern
// metacharacters have no meaning.
func NewHighlighter(query string) *Highlighter {
	return &Highlighter{needle: strings.ToLower(strings.TrimSpace(query))}
}

// Cell splits text into plain and highlighted segments, leftmost
// non-overlapping matches first.
func (h *Highlighter) Cell(text string) Cell {
	c := Cell{Text: text}
	if h.needle == "" || text == "" {
		c.Segments = []Segment{{Text: text}}
		return c
	}
	f := foldText(text)
	pos := 0
	for from := 0; from < len(f.lower); {
		i := strings.Index(f.lower[from:], h.needle)
		if i < 0 {
			break
		}
		lo, hi := from+i, from+i+len(h.needle)
		start, end := f.start[f.owner[lo]], f.end[f.owner[hi-1]]
		if start > pos {
			c.Segments = append(c.Segments, Segment{Text: text[pos:start]})
		}
		if end > start && start >= pos {
			c.Segments = append(c.Segments, Segment{Text: text[start:end], Highlight: true})
			pos = end
		}
		from = hi
	}
	if len(c.Segments) == 0 {
		c.Segments = []Segment{{Text: text}}
		return c
	}
	if pos < len(text) {
		c.Segments = append(c.Segments, Segment{Text: text[pos:]})
	}
	return c
}

// folded is text lower-cased rune by rune, remembering which source rune
// produced each byte. Lower-casing can change byte length (İ -> i).
type folded struct {
	lower string
	owner []int // lower byte -> rune number
	start []int // rune number -> byte offset in the source text
	end   []int
}

func foldText(text string) folded {
	var (
		sb strings.Builder
		f  folded
	)
	n := 0
	for i, r := range text {
		size := utf8.RuneLen(r)
		if r == utf8.RuneError {
			_, size = utf8.DecodeRuneInString(text[i:])
		}
		lower := strings.ToLower(string(r))
		sb.WriteString(lower)
		for range len(lower) {
			f.owner = append(f.owner, n)
		}
		f.start = append(f.start, i)
		f.end = append(f.end, i+size)
		n++
	}
	f.lower = sb.String()
	return f
}
