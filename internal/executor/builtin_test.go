package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/creds"
	"github.com/coalmine/coalmine/internal/model"
)

func serverlessWithMetadata(md map[string]string) *catalog.ServerlessCheck {
	return &catalog.ServerlessCheck{
		CheckBase: catalog.CheckBase{Name: "probe", Interval: 1, TimeoutSec: 5, Metadata: md},
		Executor:  "test",
	}
}

func TestHTTPGet(t *testing.T) {
	cases := []struct {
		name string
		code int
		want model.Status
	}{
		{"200", http.StatusOK, model.StatusOK},
		{"204", http.StatusNoContent, model.StatusOK},
		{"404", http.StatusNotFound, model.StatusWarning},
		{"503", http.StatusServiceUnavailable, model.StatusCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			fn := HTTPGet(srv.Client())
			out, err := fn(context.Background(), serverlessWithMetadata(map[string]string{"url": srv.URL}), creds.Credentials{})
			if err != nil {
				t.Fatalf("HTTPGet: %v", err)
			}
			if out.Status != tc.want {
				t.Errorf("Status: got %s, want %s", out.Status, tc.want)
			}
		})
	}
}

func TestHTTPGet_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening any more

	fn := HTTPGet(&http.Client{})
	out, err := fn(context.Background(), serverlessWithMetadata(map[string]string{"url": srv.URL}), creds.Credentials{})
	if err != nil {
		t.Fatalf("HTTPGet: %v", err)
	}
	if out.Status != model.StatusCritical {
		t.Errorf("Status: got %s, want CRITICAL", out.Status)
	}
}

func TestHTTPGet_MissingURL(t *testing.T) {
	fn := HTTPGet(&http.Client{})
	if _, err := fn(context.Background(), serverlessWithMetadata(nil), creds.Credentials{}); err == nil {
		t.Error("want error for missing url metadata")
	}
}

func TestHTTPGet_SendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	fn := HTTPGet(srv.Client())
	if _, err := fn(context.Background(), serverlessWithMetadata(map[string]string{"url": srv.URL}), creds.Credentials{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer tok" {
		t.Errorf("Authorization: %q", got)
	}
}

const promBody = `# HELP queue_depth Pending items.
# TYPE queue_depth gauge
queue_depth{shard="a"} 40
queue_depth{shard="b"} 35
`

func promServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if _, err := w.Write([]byte(promBody)); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPromThreshold(t *testing.T) {
	srv := promServer(t)

	cases := []struct {
		name string
		md   map[string]string
		want model.Status
	}{
		{"under thresholds", map[string]string{"warn": "100", "crit": "200"}, model.StatusOK},
		{"over warn", map[string]string{"warn": "50", "crit": "200"}, model.StatusWarning},
		{"over crit", map[string]string{"warn": "50", "crit": "70"}, model.StatusCritical},
		{"lt operator", map[string]string{"op": "<", "crit": "100"}, model.StatusCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			md := map[string]string{"url": srv.URL, "metric": "queue_depth"}
			for k, v := range tc.md {
				md[k] = v
			}
			fn := PromThreshold(srv.Client())
			out, err := fn(context.Background(), serverlessWithMetadata(md), creds.Credentials{})
			if err != nil {
				t.Fatalf("PromThreshold: %v", err)
			}
			// Series are summed before comparison: 40 + 35 = 75.
			if out.Status != tc.want {
				t.Errorf("Status: got %s (%s), want %s", out.Status, out.Output, tc.want)
			}
		})
	}
}

func TestPromThreshold_MissingMetric(t *testing.T) {
	srv := promServer(t)
	fn := PromThreshold(srv.Client())
	out, err := fn(context.Background(), serverlessWithMetadata(map[string]string{
		"url": srv.URL, "metric": "no_such_series", "crit": "1",
	}), creds.Credentials{})
	if err != nil {
		t.Fatalf("PromThreshold: %v", err)
	}
	if out.Status != model.StatusUnknown {
		t.Errorf("Status: got %s, want UNKNOWN", out.Status)
	}
}

func TestPromThreshold_ScrapeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fn := PromThreshold(srv.Client())
	out, err := fn(context.Background(), serverlessWithMetadata(map[string]string{
		"url": srv.URL, "metric": "queue_depth",
	}), creds.Credentials{})
	if err != nil {
		t.Fatalf("PromThreshold: %v", err)
	}
	if out.Status != model.StatusCritical {
		t.Errorf("Status: got %s, want CRITICAL", out.Status)
	}
}

func TestCompareFloat(t *testing.T) {
	cases := []struct {
		v    float64
		op   string
		t    float64
		want bool
	}{
		{5, ">", 3, true},
		{3, ">", 3, false},
		{3, ">=", 3, true},
		{2, "<", 3, true},
		{3, "<=", 3, true},
		{3, "==", 3, true},
		{3, "~", 3, false},
	}
	for _, tc := range cases {
		if got := compareFloat(tc.v, tc.op, tc.t); got != tc.want {
			t.Errorf("compareFloat(%v %s %v) = %v", tc.v, tc.op, tc.t, got)
		}
	}
}

func TestTLSHost(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "example.com:443", false},
		{"example.com:8443", "example.com:8443", false},
		{"https://example.com/path", "example.com:443", false},
		{"https://example.com:9443", "example.com:9443", false},
		{"http://example.com", "", true},
	}
	for _, tc := range cases {
		got, err := tlsHost(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("tlsHost(%q): want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("tlsHost(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("tlsHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
