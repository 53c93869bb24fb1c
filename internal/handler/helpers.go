package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Toast kinds understood by the page script.
const (
	KindSuccess = "success"
	KindWarning = "warning"
	KindError   = "error"
)

// Toast is a short user-visible notification carried in JSON responses.
type Toast struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

type errorBody struct {
	Error string `json:"error"`
	Toast Toast  `json:"toast"`
}

// WriteJSON writes data as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response whose message is also shown as an error toast.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message, Toast: Toast{Message: message, Kind: KindError}})
}

// WriteWarning is WriteError with a warning toast, for requests that are
// valid but have nothing to act on.
func WriteWarning(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message, Toast: Toast{Message: message, Kind: KindWarning}})
}

// maxJSONBody caps JSON request bodies; a filled requisition is far smaller.
const maxJSONBody = 1 << 20

var (
	errJSONContentType = errors.New("expected Content-Type application/json")
	errTrailingData    = errors.New("unexpected trailing data in request body")
)

// ReadJSONBody decodes one JSON value from the request body into v.
func ReadJSONBody(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errJSONContentType
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}
