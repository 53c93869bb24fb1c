package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request trace ID.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestID tags each request with a fresh UUID, exposed in the response
// header and in the request context.
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set(RequestIDHeader, id)
			next(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		}
	}
}

// RequestIDFrom returns the ID stored by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
