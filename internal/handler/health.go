// Package handler implements the admin HTTP endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"webproxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, started: time.Now()}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of GET /proxy/status.
type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Listen        string `json:"listen"`
	RelayMode     string `json:"relay_mode"`
	EscapeHTML    bool   `json:"escape_html"`
	ConfigFile    string `json:"config_file,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:        "ok",
		Version:       string(h.version),
		Listen:        h.cfg.Server.Addr(),
		RelayMode:     h.cfg.Relay.Mode,
		EscapeHTML:    h.cfg.Errors.EscapeHTML,
		ConfigFile:    h.cfg.FilePath(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
