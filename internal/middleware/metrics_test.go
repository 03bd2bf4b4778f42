package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"webproxy/internal/metrics"
)

// adminRequestLabels returns the label sets recorded on the admin request counter.
func adminRequestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "webproxy_admin_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{"_value": ""}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if metric.GetCounter().GetValue() == 1 {
				labels["_value"] = "1"
			}
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		route      string
		path       string
		handler    echo.HandlerFunc
		wantMethod string
		wantStatus string
		wantPrefix string
	}{
		{
			name:       "healthz ok",
			method:     http.MethodGet,
			route:      "/healthz",
			path:       "/healthz",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantMethod: "GET",
			wantStatus: "200",
			wantPrefix: "/healthz",
		},
		{
			name:       "http error status",
			method:     http.MethodGet,
			route:      "/proxy/status",
			path:       "/proxy/status",
			handler:    func(echo.Context) error { return echo.NewHTTPError(http.StatusServiceUnavailable, "down") },
			wantMethod: "GET",
			wantStatus: "503",
			wantPrefix: "/proxy/status",
		},
		{
			name:       "unknown method normalized",
			method:     "XYZZY",
			route:      "/metrics",
			path:       "/metrics",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantMethod: "other",
			wantStatus: "200",
			wantPrefix: "/metrics",
		},
		{
			name:       "router not found",
			method:     http.MethodGet,
			path:       "/nonexistent",
			wantMethod: "GET",
			wantStatus: "404",
			wantPrefix: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			e := echo.New()
			e.Use(MetricsMiddleware(m))
			if tt.handler != nil {
				e.Any(tt.route, tt.handler)
			}

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			for _, labels := range adminRequestLabels(t, m) {
				if labels["path_prefix"] != tt.wantPrefix {
					continue
				}
				if labels["method"] != tt.wantMethod {
					t.Errorf("method = %q, want %q", labels["method"], tt.wantMethod)
				}
				if labels["status_code"] != tt.wantStatus {
					t.Errorf("status_code = %q, want %q", labels["status_code"], tt.wantStatus)
				}
				if labels["_value"] != "1" {
					t.Error("counter value != 1")
				}
				return
			}
			t.Errorf("expected webproxy_admin_http_requests_total with path_prefix=%s", tt.wantPrefix)
		})
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "webproxy_admin_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					return
				}
			}
		}
	}
	t.Error("expected webproxy_admin_http_request_duration_seconds with at least one sample")
}
