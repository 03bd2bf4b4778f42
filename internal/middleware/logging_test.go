package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantLog bool
	}{
		{"logged at info", "/healthz", true},
		{"quiet path at debug", "/metrics", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			e := echo.New()
			e.Use(RequestLogger(logger, "/metrics"))
			e.GET(tt.path, func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			out := buf.String()
			if got := strings.Contains(out, "path="+tt.path); got != tt.wantLog {
				t.Errorf("log output = %q, want logged=%v", out, tt.wantLog)
			}
			if tt.wantLog && !strings.Contains(out, "component=admin") {
				t.Errorf("log output = %q, want component=admin", out)
			}
		})
	}
}
