package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"ewmsearch/internal/middleware"
	"ewmsearch/internal/parser"
	"ewmsearch/internal/search"
	"ewmsearch/internal/table"
)

// DatasetInfo describes the loaded dataset.
type DatasetInfo struct {
	Loaded     bool     `json:"loaded"`
	Source     string   `json:"source,omitempty"`
	Columns    []string `json:"columns"`
	Total      int      `json:"total"`
	TotalLabel string   `json:"total_label,omitempty"`
	Notice     *Toast   `json:"notice,omitempty"`
}

func describe(ds *table.Dataset) DatasetInfo {
	if ds == nil {
		return DatasetInfo{Columns: []string{}}
	}
	return DatasetInfo{
		Loaded:     true,
		Source:     ds.Source(),
		Columns:    ds.Columns(),
		Total:      ds.Len(),
		TotalLabel: search.TotalLabel(ds.Len()),
	}
}

// HandleDataset handles GET (describe), POST (upload) and DELETE (reset).
func HandleDataset(app *App, uploadLimit middleware.Middleware) http.HandlerFunc {
	upload := app.upload
	if uploadLimit != nil {
		upload = uploadLimit(upload)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			info := describe(app.store.Dataset())
			info.Notice = app.currentNotice()
			WriteJSON(w, http.StatusOK, info)

		case http.MethodPost:
			upload(w, r)

		case http.MethodDelete:
			app.store.Reset(r.Context())
			app.clearNotice()
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"dataset": describe(nil),
				"toast":   Toast{Message: MsgCleared, Kind: KindSuccess},
			})

		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// upload reads the multipart "file" field, parses it and replaces the dataset.
func (a *App) upload(w http.ResponseWriter, r *http.Request) {
	limit := a.maxUploadBytes()
	if r.ContentLength > limit {
		WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(MsgTooLarge, a.opts.MaxUploadMB))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(MsgTooLarge, a.opts.MaxUploadMB))
			return
		}
		WriteError(w, http.StatusBadRequest, MsgNoFile)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	mime := header.Header.Get("Content-Type")
	if !parser.IsSupported(name, mime) {
		WriteError(w, http.StatusBadRequest, MsgUnsupported)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		a.logger.Error("failed to read upload", zap.String("file", name), zap.Error(err))
		WriteError(w, http.StatusBadRequest, MsgParseFailed)
		return
	}

	tbl, err := parser.Parse(data, name, mime)
	switch {
	case errors.Is(err, parser.ErrTooSmall):
		WriteError(w, http.StatusBadRequest, MsgTooSmall)
		return
	case errors.Is(err, parser.ErrUnsupportedFormat):
		WriteError(w, http.StatusBadRequest, MsgUnsupported)
		return
	case err != nil:
		a.logger.Error("failed to parse upload", zap.String("file", name), zap.Error(err))
		WriteError(w, http.StatusUnprocessableEntity, MsgParseFailed)
		return
	}

	ds, err := a.store.Load(r.Context(), tbl.Columns, tbl.Rows, name)
	if err != nil {
		if table.IsEmptyDataset(err) {
			WriteError(w, http.StatusBadRequest, MsgTooSmall)
			return
		}
		a.logger.Error("failed to load upload", zap.String("file", name), zap.Error(err))
		WriteError(w, http.StatusUnprocessableEntity, MsgParseFailed)
		return
	}
	a.clearNotice()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"dataset": describe(ds),
		"toast": Toast{
			Message: fmt.Sprintf("Arquivo carregado: %d itens encontrados", ds.Len()),
			Kind:    KindSuccess,
		},
	})
}
