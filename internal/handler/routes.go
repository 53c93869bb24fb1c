package handler

import (
	"net/http"

	"ewmsearch/internal/middleware"
)

// Routes registers the API and requisition form on mux. uploadLimit wraps
// dataset uploads only; nil leaves them unthrottled.
func Routes(mux *http.ServeMux, app *App, uploadLimit middleware.Middleware) {
	mux.HandleFunc("/api/settings", HandleSettings(app))
	mux.HandleFunc("/api/dataset", HandleDataset(app, uploadLimit))
	mux.HandleFunc("/api/search", HandleSearch(app))
	mux.HandleFunc("/api/export", HandleExport(app))
	mux.HandleFunc("/api/requisition/lookup", HandleRequisitionLookup(app))
	mux.HandleFunc("/api/requisition", HandleRequisitionFill(app))
	mux.HandleFunc("/requisicao", HandleRequisitionForm(app))
}

// HandleSettings serves the page script's tunables.
func HandleSettings(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		WriteJSON(w, http.StatusOK, app.Settings())
	}
}
