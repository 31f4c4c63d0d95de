// Package middleware provides HTTP middleware for the development server.
package middleware

import (
	"net/http"
	"slices"

	"github.com/ashureev/neuralterm/internal/identity"
)

// Origins is an origin allow-list shared by CORS and the websocket
// upgrade. "*" admits any origin.
type Origins []string

// Allows reports whether origin may call the server. Requests without an
// Origin header come from non-browser clients and are always allowed.
func (o Origins) Allows(origin string) bool {
	return origin == "" || slices.Contains(o, "*") || o.Explicit(origin)
}

// Explicit reports whether origin is listed by name.
func (o Origins) Explicit(origin string) bool {
	return origin != "" && origin != "*" && slices.Contains(o, origin)
}

// CORS returns middleware that handles CORS headers.
func CORS(allowed Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && allowed.Allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+identity.SessionHeaderName)
				// Credentials only for explicitly listed origins.
				if allowed.Explicit(origin) {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
