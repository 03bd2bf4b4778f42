package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/uri"
)

func newTestDialer(m *metrics.Metrics) *UpstreamDialer {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{DialTimeoutSeconds: 2},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamDialer(cfg, logger, m)
}

// targetFor converts a listener address into a ParsedURI.
func targetFor(t *testing.T, addr net.Addr) uri.ParsedURI {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return uri.ParsedURI{Host: host, Port: p, Path: "/"}
}

func TestUpstreamDialer_Dial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
		close(accepted)
	}()

	m := metrics.New()
	d := newTestDialer(m)

	conn, err := d.Dial(context.Background(), targetFor(t, ln.Addr()))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()
	<-accepted

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "webproxy_upstream_dial_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == "ok" && metric.GetHistogram().GetSampleCount() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected one webproxy_upstream_dial_duration_seconds sample with result=ok")
	}
}

func TestUpstreamDialer_Dial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	target := targetFor(t, ln.Addr())
	ln.Close()

	d := newTestDialer(nil)
	_, err = d.Dial(context.Background(), target)
	if err == nil {
		t.Fatal("Dial() expected error for closed port, got nil")
	}

	var dialErr *DialError
	if !errors.As(err, &dialErr) {
		t.Fatalf("Dial() error = %T, want *DialError", err)
	}
	if dialErr.Addr != target.Addr() {
		t.Errorf("DialError.Addr = %q, want %q", dialErr.Addr, target.Addr())
	}
}

func TestUpstreamDialer_Dial_PortZero(t *testing.T) {
	d := newTestDialer(nil)
	_, err := d.Dial(context.Background(), uri.ParsedURI{Host: "127.0.0.1", Port: 0, Path: "/"})
	if err == nil {
		t.Fatal("Dial() expected error for port 0, got nil")
	}
}

func TestUpstreamDialer_Dial_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDialer(nil)
	_, err := d.Dial(ctx, uri.ParsedURI{Host: "127.0.0.1", Port: 9, Path: "/"})
	if err == nil {
		t.Fatal("Dial() expected error for canceled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("errors.Is(err, context.Canceled) = false; err = %v", err)
	}
}
