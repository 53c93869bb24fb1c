package handler

import (
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"ewmsearch/internal/export"
	"ewmsearch/internal/search"
)

// XLSXContentType is the media type of exported workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HandleSearch filters the dataset by ?q= within ?column= (index, name or
// "all") and returns the render plan.
func HandleSearch(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		q := r.URL.Query()
		scope := search.AllColumns()
		if ds := app.store.Dataset(); ds != nil {
			s, err := search.ParseScope(q.Get("column"), ds.Schema())
			if err != nil {
				WriteError(w, http.StatusBadRequest, MsgBadColumn)
				return
			}
			scope = s
		}
		WriteJSON(w, http.StatusOK, app.engine.Search(search.NewQuery(q.Get("q"), scope)))
	}
}

// HandleExport streams the current filtered view as an .xlsx attachment.
func HandleExport(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		ds := app.store.Dataset()
		view := app.store.View()
		if ds == nil || len(view) == 0 {
			WriteWarning(w, http.StatusConflict, MsgNothingExport)
			return
		}

		data, err := export.XLSX(ds.Columns(), view)
		if err != nil {
			app.logger.Error("export failed", zap.String("source", ds.Source()), zap.Error(err))
			WriteError(w, http.StatusInternalServerError, MsgExportFailed)
			return
		}

		name := export.FileName(ds.Source(), app.now())
		h := w.Header()
		h.Set("Content-Type", XLSXContentType)
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		h.Set("Content-Length", strconv.Itoa(len(data)))
		h.Set("X-Export-Count", strconv.Itoa(len(view)))
		h.Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
