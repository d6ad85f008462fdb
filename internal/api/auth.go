package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// APIKeyMiddleware enforces a shared-key header on every request when mode
// is "apikey". With mode "none" (or empty) it is a pass-through. An "apikey"
// mode without a configured key rejects everything, which is safer than
// silently running open.
func APIKeyMiddleware(mode, header, key string, next http.Handler) http.Handler {
	if mode != "apikey" {
		return next
	}
	if key == "" {
		slog.Warn("api: auth mode is apikey but no key is configured — rejecting all requests")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			jsonErr(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
