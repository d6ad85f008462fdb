package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authTarget() (http.Handler, *int) {
	hits := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}), &hits
}

func authGet(h http.Handler, header, key string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	next, hits := authTarget()
	h := APIKeyMiddleware("apikey", "x-api-key", "s3cr3t", next)

	if code := authGet(h, "x-api-key", "s3cr3t"); code != http.StatusOK {
		t.Errorf("valid key: %d", code)
	}
	if code := authGet(h, "x-api-key", "wrong"); code != http.StatusUnauthorized {
		t.Errorf("wrong key: %d", code)
	}
	if code := authGet(h, "x-api-key", ""); code != http.StatusUnauthorized {
		t.Errorf("missing key: %d", code)
	}
	if *hits != 1 {
		t.Errorf("next reached %d times, want 1", *hits)
	}
}

func TestAPIKeyMiddleware_ModeNone(t *testing.T) {
	next, hits := authTarget()
	h := APIKeyMiddleware("none", "x-api-key", "", next)

	if code := authGet(h, "", ""); code != http.StatusOK {
		t.Errorf("mode none: %d", code)
	}
	if *hits != 1 {
		t.Errorf("next reached %d times, want 1", *hits)
	}
}

func TestAPIKeyMiddleware_EmptyKeyRejectsAll(t *testing.T) {
	next, hits := authTarget()
	h := APIKeyMiddleware("apikey", "x-api-key", "", next)

	if code := authGet(h, "x-api-key", "anything"); code != http.StatusUnauthorized {
		t.Errorf("empty configured key: %d", code)
	}
	if *hits != 0 {
		t.Error("next must not be reached")
	}
}
