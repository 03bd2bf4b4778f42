// Package client opens connections to origin servers on behalf of clients.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/uri"
)

// DialError reports that the origin server could not be reached.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string { return fmt.Sprintf("dial upstream %s: %v", e.Addr, e.Err) }

func (e *DialError) Unwrap() error { return e.Err }

// UpstreamDialer opens one TCP connection per proxy transaction. Connections
// are never pooled or reused.
type UpstreamDialer struct {
	dialer  *net.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewUpstreamDialer creates an UpstreamDialer with the configured connect timeout.
// The metrics parameter is optional; pass nil to disable dial metrics recording.
func NewUpstreamDialer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamDialer {
	return &UpstreamDialer{
		dialer: &net.Dialer{
			Timeout: time.Duration(cfg.Upstream.DialTimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_dialer"),
		metrics: m,
	}
}

// Dial connects to the origin server named by target.
// The caller is responsible for closing the returned connection.
func (d *UpstreamDialer) Dial(ctx context.Context, target uri.ParsedURI) (net.Conn, error) {
	addr := target.Addr()
	d.logger.Debug("dialing upstream", "addr", addr)

	start := time.Now()
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	duration := time.Since(start).Seconds()

	if err != nil {
		if d.metrics != nil {
			d.metrics.UpstreamDialDuration.WithLabelValues("error").Observe(duration)
		}
		return nil, &DialError{Addr: addr, Err: err}
	}

	if d.metrics != nil {
		d.metrics.UpstreamDialDuration.WithLabelValues("ok").Observe(duration)
	}
	return conn, nil
}
