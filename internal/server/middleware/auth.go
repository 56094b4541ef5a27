package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authExempt paths never require a key.
var authExempt = map[string]bool{
	"/api/health": true,
}

// Auth returns middleware enforcing a static API key via the X-API-Key
// header or a Bearer token. An empty apiKey disables authentication.
// WebSocket upgrades pass the key as an apiKey query parameter since browser
// clients cannot set headers on the upgrade request.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
					provided = strings.TrimPrefix(bearer, "Bearer ")
				}
			}
			if provided == "" {
				provided = r.URL.Query().Get("apiKey")
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
