// Package middleware provides HTTP middleware for the pagehook server.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/Rorqualx/pagehook/internal/config"
)

// APIKeyHeader carries the API key. Query parameters are not accepted so
// keys stay out of access logs.
const APIKeyHeader = "X-API-Key"

// APIKey returns middleware that requires the configured API key.
// Health and metrics endpoints are always allowed.
func APIKey(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIKeyEnabled || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing API key", time.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
