package handler

import (
	"bytes"
	"net/http"

	"go.uber.org/zap"

	"ewmsearch/internal/requisition"
)

// HandleRequisitionLookup resolves ?material= to a filled line.
func HandleRequisitionLookup(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		WriteJSON(w, http.StatusOK, app.filler.Resolve(r.URL.Query().Get("material")))
	}
}

// HandleRequisitionFill accepts a JSON form and returns it with every line
// resolved against the dataset.
func HandleRequisitionFill(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var form requisition.Form
		if err := ReadJSONBody(r, &form); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if form.Data.IsZero() {
			form.Data = requisition.DateOnly(app.now())
		}
		app.filler.FillForm(&form)
		WriteJSON(w, http.StatusOK, form)
	}
}

// HandleRequisitionForm renders the printable form: blank on GET, filled
// from the submitted fields on POST.
func HandleRequisitionForm(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines := app.filler.Options().Lines
		var form *requisition.Form
		switch r.Method {
		case http.MethodGet:
			form = requisition.NewForm(app.now(), lines)
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid form")
				return
			}
			form = requisition.FromValues(r.PostForm, app.now(), lines)
			app.filler.FillForm(form)
		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var buf bytes.Buffer
		if err := requisition.Render(&buf, form); err != nil {
			app.logger.Error("failed to render requisition", zap.Error(err))
			WriteError(w, http.StatusInternalServerError, "Erro ao gerar a requisição")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(buf.Bytes())
	}
}
