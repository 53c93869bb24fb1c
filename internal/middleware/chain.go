package middleware

import "net/http"

// Middleware wraps a handler.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Chain composes middlewares so the first argument is the outermost layer:
// Chain(m1, m2)(h) runs m1, then m2, then h, and unwinds in reverse.
// With no middlewares the handler is returned unchanged.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.HandlerFunc) http.HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
