// Package server accepts client connections and hands each one to the relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/service"
)

// Accept backoff bounds, used when Accept fails without the listener closing.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Handler serves one client connection and closes it.
type Handler interface {
	Serve(ctx context.Context, conn net.Conn) error
}

// Server is the proxy's connection dispatcher. Every accepted connection is
// served on its own goroutine; the accept loop never waits for them.
type Server struct {
	cfg     *config.Config
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu sync.Mutex
	ln net.Listener
}

// New creates a Server. The metrics parameter is optional.
func New(cfg *config.Config, relay *service.Relay, logger *slog.Logger, m *metrics.Metrics) *Server {
	return newServer(cfg, relay, logger, m)
}

func newServer(cfg *config.Config, h Handler, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		handler: h,
		logger:  logger.With("component", "server"),
		metrics: m,
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), max(rl.Burst, 1))
	}
	return s
}

// Start binds the configured listen address and serves it in the background.
func (s *Server) Start(_ context.Context) error {
	addr := s.cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.logger.Info("starting proxy", "addr", ln.Addr().String())
	if s.limiter != nil {
		s.logger.Info("accept rate limiter enabled",
			"rps", s.cfg.Server.RateLimit.RequestsPerSecond,
			"burst", s.limiter.Burst(),
		)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.Serve(context.Background(), ln); err != nil {
			s.logger.Error("proxy server error", "err", err)
		}
	}()
	return nil
}

// Stop closes the listener. Transactions already in progress run to
// completion on their own.
func (s *Server) Stop(_ context.Context) error {
	s.logger.Info("shutting down proxy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the bound listen address, or nil before Serve is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections on ln until ln is closed or ctx is done, then
// returns nil. Failed accepts are retried with exponential backoff.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var delay time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			delay = nextDelay(delay)
			s.logger.Warn("accept failed; retrying", "err", err, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		delay = 0

		if s.metrics != nil {
			s.metrics.ConnectionsAccepted.Inc()
		}
		go s.serveConn(context.WithoutCancel(ctx), conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Debug("accepted connection", "remote", remote)

	err := s.handler.Serve(ctx, conn)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotImplemented), errors.Is(err, service.ErrBadURI):
		s.logger.Debug("rejected request", "remote", remote, "err", err)
	default:
		s.logger.Warn("transaction failed", "remote", remote, "err", err)
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(2*d, maxAcceptDelay)
}
