package requisition

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/goodsign/monday"
)

//go:embed templates/form.html
var templateFS embed.FS

var formTemplate = template.Must(template.New("form.html").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	ParseFS(templateFS, "templates/form.html"))

// LongDate formats t as a Brazilian Portuguese long date, e.g. "9 de março de 2024".
func LongDate(t time.Time) string {
	return monday.Format(t, "2 de January de 2006", monday.LocalePtBR)
}

// Render writes the printable form as an HTML document.
func Render(w io.Writer, form *Form) error {
	return formTemplate.Execute(w, struct {
		Form     *Form
		LongDate string
	}{Form: form, LongDate: LongDate(form.Data)})
}
