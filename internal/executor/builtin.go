package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/creds"
	"github.com/coalmine/coalmine/internal/model"
)

// RegisterBuiltins installs the bundled executors. Each reads its target and
// thresholds from the check's metadata map.
func RegisterBuiltins(reg *Registry, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	reg.Register("httpGet", Entry{
		Run:  HTTPGet(client),
		Role: "executor.httpGet",
		Permissions: []model.Permission{
			{Actions: []string{"http:Get"}, Resources: []string{"*"}},
		},
	})
	reg.Register("promThreshold", Entry{
		Run:  PromThreshold(client),
		Role: "executor.promThreshold",
		Permissions: []model.Permission{
			{Actions: []string{"http:Get"}, Resources: []string{"*"}},
		},
	})
	reg.Register("tlsExpiry", Entry{
		Run:  TLSExpiry(),
		Role: "executor.tlsExpiry",
		Permissions: []model.Permission{
			{Actions: []string{"net:Dial"}, Resources: []string{"*"}},
		},
	})
}

// HTTPGet probes metadata["url"] with a GET request. 5xx and connection
// failures are CRITICAL, 4xx is WARNING, anything else is OK.
func HTTPGet(client *http.Client) Func {
	return func(ctx context.Context, chk *catalog.ServerlessCheck, cr creds.Credentials) (Outcome, error) {
		target := chk.Metadata["url"]
		if target == "" {
			return Outcome{}, fmt.Errorf("httpGet: metadata url is required")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return Outcome{}, fmt.Errorf("httpGet: build request: %w", err)
		}
		if cr.Token != "" {
			req.Header.Set("Authorization", "Bearer "+cr.Token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return Outcome{Status: model.StatusCritical, Output: fmt.Sprintf("GET %s: %v", target, err)}, nil
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

		out := fmt.Sprintf("GET %s: %s", target, resp.Status)
		switch {
		case resp.StatusCode >= 500:
			return Outcome{Status: model.StatusCritical, Output: out}, nil
		case resp.StatusCode >= 400:
			return Outcome{Status: model.StatusWarning, Output: out}, nil
		default:
			return Outcome{Status: model.StatusOK, Output: out}, nil
		}
	}
}

// PromThreshold scrapes a Prometheus text exposition from metadata["url"]
// and compares the summed value of metadata["metric"] against the "warn"
// and "crit" thresholds using the "op" comparison (one of > >= < <= ==,
// default >).
func PromThreshold(client *http.Client) Func {
	return func(ctx context.Context, chk *catalog.ServerlessCheck, cr creds.Credentials) (Outcome, error) {
		target := chk.Metadata["url"]
		metric := chk.Metadata["metric"]
		if target == "" || metric == "" {
			return Outcome{}, fmt.Errorf("promThreshold: metadata url and metric are required")
		}
		op := chk.Metadata["op"]
		if op == "" {
			op = ">"
		}

		mfs, err := fetchMetrics(ctx, client, target, cr.Token)
		if err != nil {
			return Outcome{Status: model.StatusCritical, Output: fmt.Sprintf("scrape %s: %v", target, err)}, nil
		}
		mf, ok := mfs[metric]
		if !ok {
			return Outcome{Status: model.StatusUnknown, Output: fmt.Sprintf("metric %q not present at %s", metric, target)}, nil
		}
		value := sumFamily(mf)

		if threshold, set := chk.Metadata["crit"]; set {
			t, err := strconv.ParseFloat(threshold, 64)
			if err != nil {
				return Outcome{}, fmt.Errorf("promThreshold: crit threshold %q: %w", threshold, err)
			}
			if compareFloat(value, op, t) {
				return Outcome{
					Status: model.StatusCritical,
					Output: fmt.Sprintf("%s = %.2f (%s %s)", metric, value, op, threshold),
				}, nil
			}
		}
		if threshold, set := chk.Metadata["warn"]; set {
			t, err := strconv.ParseFloat(threshold, 64)
			if err != nil {
				return Outcome{}, fmt.Errorf("promThreshold: warn threshold %q: %w", threshold, err)
			}
			if compareFloat(value, op, t) {
				return Outcome{
					Status: model.StatusWarning,
					Output: fmt.Sprintf("%s = %.2f (%s %s)", metric, value, op, threshold),
				}, nil
			}
		}
		return Outcome{Status: model.StatusOK, Output: fmt.Sprintf("%s = %.2f", metric, value)}, nil
	}
}

// TLSExpiry dials metadata["endpoint"] (an https URL or host[:port]) and
// checks the leaf certificate's remaining validity against "warn_days" and
// "crit_days" (defaults 14 and 3).
func TLSExpiry() Func {
	return func(ctx context.Context, chk *catalog.ServerlessCheck, cr creds.Credentials) (Outcome, error) {
		endpoint := chk.Metadata["endpoint"]
		if endpoint == "" {
			return Outcome{}, fmt.Errorf("tlsExpiry: metadata endpoint is required")
		}
		host, err := tlsHost(endpoint)
		if err != nil {
			return Outcome{}, fmt.Errorf("tlsExpiry: %w", err)
		}
		warnDays := metadataInt(chk.Metadata, "warn_days", 14)
		critDays := metadataInt(chk.Metadata, "crit_days", 3)

		dialer := &tls.Dialer{NetDialer: &net.Dialer{}}
		netConn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return Outcome{Status: model.StatusCritical, Output: fmt.Sprintf("dial %s: %v", host, err)}, nil
		}
		conn := netConn.(*tls.Conn)
		defer conn.Close()

		peerCerts := conn.ConnectionState().PeerCertificates
		if len(peerCerts) == 0 {
			return Outcome{Status: model.StatusUnknown, Output: fmt.Sprintf("%s presented no certificates", host)}, nil
		}
		leaf := peerCerts[0]
		daysLeft := int(time.Until(leaf.NotAfter).Hours() / 24)
		out := fmt.Sprintf("%s expires in %d days (%s)", host, daysLeft, leaf.NotAfter.UTC().Format(time.RFC3339))

		switch {
		case daysLeft < critDays:
			return Outcome{Status: model.StatusCritical, Output: out}, nil
		case daysLeft < warnDays:
			return Outcome{Status: model.StatusWarning, Output: out}, nil
		default:
			return Outcome{Status: model.StatusOK, Output: out}, nil
		}
	}
}

// --- helpers ----------------------------------------------------------------

// fetchMetrics performs an HTTP GET to target and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, target, token string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	// Non-empty result with a non-nil err means partial parse (trailing
	// lines, format warnings). Treat as success.
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}

// tlsHost normalizes an https URL or bare host into host:port form.
func tlsHost(endpoint string) (string, error) {
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		if u.Scheme != "https" {
			return "", fmt.Errorf("endpoint %q is not https", endpoint)
		}
		host = u.Host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	return host, nil
}

func metadataInt(md map[string]string, key string, def int) int {
	v, ok := md[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
