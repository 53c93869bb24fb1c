// Package requisition builds the material requisition form. Each line's
// description is filled by looking its material id up in the loaded dataset.
package requisition

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"

	"ewmsearch/internal/table"
)

// NotFoundMarker is the description shown for an id missing from the dataset.
const NotFoundMarker = "(Material não encontrado)"

// Status is the outcome of the description lookup for one line.
type Status string

const (
	StatusEmpty    Status = "empty"
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
)

// Options configures form shape and lookup columns.
type Options struct {
	Lines             int
	LookupColumn      string
	DescriptionColumn string
	IDMaxLength       int
}

// DefaultOptions matches the paper form: ten lines, seven-digit material ids.
func DefaultOptions() Options {
	return Options{
		Lines:             10,
		LookupColumn:      "Material",
		DescriptionColumn: "Texto breve material",
		IDMaxLength:       7,
	}
}

// Line is one requested item.
type Line struct {
	Material    string `json:"material"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
	Quantity    int    `json:"quantity"`
	OS          string `json:"os"`
	Status      Status `json:"status"`
}

// Form is a requisition header plus its lines.
type Form struct {
	Solicitante string    `json:"solicitante"`
	Matricula   string    `json:"matricula"`
	CCFrota     string    `json:"cc_frota"`
	Gestor      string    `json:"gestor"`
	Data        time.Time `json:"data"`
	Lines       []Line    `json:"lines"`
}

// NewForm returns a blank form dated today with n empty lines.
func NewForm(now time.Time, n int) *Form {
	f := &Form{}
	f.Clear(now, n)
	return f
}

// AddLine appends an empty line.
func (f *Form) AddLine() {
	f.Lines = append(f.Lines, Line{Status: StatusEmpty})
}

// Clear blanks the header, sets the date to now and rebuilds n empty lines.
func (f *Form) Clear(now time.Time, n int) {
	*f = Form{Data: DateOnly(now), Lines: make([]Line, 0, n)}
	for i := 0; i < n; i++ {
		f.AddLine()
	}
}

// DateOnly returns the calendar date of t at midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts ISO dates from date inputs as well as typed day-first
// dates such as 09/03/2024.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(false))
	if err != nil {
		return time.Time{}, false
	}
	return DateOnly(t), true
}

// FromValues reads a submitted form. Line fields are parallel lists named
// id, ref, qty and os; at least n lines are returned.
func FromValues(v url.Values, now time.Time, n int) *Form {
	f := NewForm(now, 0)
	f.Solicitante = strings.TrimSpace(v.Get("solicitante"))
	f.Matricula = strings.TrimSpace(v.Get("matricula"))
	f.CCFrota = strings.TrimSpace(v.Get("ccFrota"))
	f.Gestor = strings.TrimSpace(v.Get("gestor"))
	if d, ok := ParseDate(v.Get("dataReq")); ok {
		f.Data = d
	}

	ids, refs, qtys, oss := v["id"], v["ref"], v["qty"], v["os"]
	count := max(len(ids), len(refs), len(qtys), len(oss), n)
	for i := 0; i < count; i++ {
		line := Line{
			Material:  at(ids, i),
			Reference: strings.TrimSpace(at(refs, i)),
			OS:        strings.TrimSpace(at(oss, i)),
			Status:    StatusEmpty,
		}
		if q, err := strconv.Atoi(strings.TrimSpace(at(qtys, i))); err == nil && q > 0 {
			line.Quantity = q
		}
		f.Lines = append(f.Lines, line)
	}
	return f
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

// Lookup finds a row whose column equals value.
type Lookup interface {
	LookupByColumn(column, value string) (table.Row, bool)
}

// Filler fills line descriptions from the dataset.
type Filler struct {
	lookup Lookup
	opts   Options
}

// NewFiller creates a Filler. Zero option fields fall back to DefaultOptions.
func NewFiller(lookup Lookup, opts Options) *Filler {
	def := DefaultOptions()
	if opts.LookupColumn == "" {
		opts.LookupColumn = def.LookupColumn
	}
	if opts.DescriptionColumn == "" {
		opts.DescriptionColumn = def.DescriptionColumn
	}
	if opts.Lines <= 0 {
		opts.Lines = def.Lines
	}
	return &Filler{lookup: lookup, opts: opts}
}

// Options returns the effective options.
func (f *Filler) Options() Options { return f.opts }

// NormalizeID trims the id and cuts it to the configured maximum length.
func (f *Filler) NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if f.opts.IDMaxLength > 0 && utf8.RuneCountInString(id) > f.opts.IDMaxLength {
		id = string([]rune(id)[:f.opts.IDMaxLength])
	}
	return id
}

// Fill sets line's description and status from its material id. A blank id
// clears the description.
func (f *Filler) Fill(line *Line) {
	line.Material = f.NormalizeID(line.Material)
	if line.Material == "" {
		line.Description = ""
		line.Status = StatusEmpty
		return
	}
	row, ok := f.lookup.LookupByColumn(f.opts.LookupColumn, line.Material)
	if !ok {
		line.Description = NotFoundMarker
		line.Status = StatusNotFound
		return
	}
	line.Description = row.String(table.ByName(f.opts.DescriptionColumn))
	line.Status = StatusFound
}

// FillForm fills every line of form.
func (f *Filler) FillForm(form *Form) {
	for i := range form.Lines {
		f.Fill(&form.Lines[i])
	}
}

// Resolve looks a single id up, as the form does while the user types.
func (f *Filler) Resolve(id string) Line {
	line := Line{Material: id}
	f.Fill(&line)
	return line
}
