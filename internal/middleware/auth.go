// Package middleware provides HTTP middleware for the control API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireToken authenticates requests against a static bearer token. An
// empty token disables authentication (the API binds to localhost by
// default). WebSocket clients cannot always set headers, so the token is
// also accepted as a query parameter.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == r.Header.Get("Authorization") {
				presented = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
