// Package middleware holds HTTP middleware for the operational endpoints.
package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// RequireAPIKey guards a handler behind an X-API-Key header checked against
// a bcrypt hash. An empty hash disables the check, which only makes sense
// behind a private network.
func RequireAPIKey(hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				logger.WarnContext(r.Context(), "unauthorized access to operational endpoint",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Missing or invalid API key"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
