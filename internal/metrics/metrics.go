// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for transaction and dial latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	TransactionsActive  prometheus.Gauge
	BytesRelayed        *prometheus.CounterVec

	UpstreamDialDuration *prometheus.HistogramVec

	AdminRequestsTotal   *prometheus.CounterVec
	AdminRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webproxy_connections_accepted_total",
			Help: "Total client connections accepted.",
		}),

		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webproxy_transactions_total",
			Help: "Total proxy transactions by method and outcome.",
		}, []string{"method", "outcome"}),

		TransactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webproxy_transaction_duration_seconds",
			Help:    "Time from accept to close of a proxy transaction.",
			Buckets: defaultBuckets,
		}, []string{"outcome"}),

		TransactionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webproxy_transactions_active",
			Help: "Number of proxy transactions currently being processed.",
		}),

		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webproxy_bytes_relayed_total",
			Help: "Bytes written by the proxy, by direction.",
		}, []string{"direction"}),

		UpstreamDialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webproxy_upstream_dial_duration_seconds",
			Help:    "Upstream connect latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"result"}),

		AdminRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webproxy_admin_http_requests_total",
			Help: "Total admin HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		AdminRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webproxy_admin_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted,
		m.TransactionsTotal,
		m.TransactionDuration,
		m.TransactionsActive,
		m.BytesRelayed,
		m.UpstreamDialDuration,
		m.AdminRequestsTotal,
		m.AdminRequestDuration,
	)

	return m
}

// Byte directions for BytesRelayed.
const (
	DirectionUpstream = "upstream"
	DirectionClient   = "client"
)

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "CONNECT": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Request lines are matched case-insensitively; anything else maps to "other".
func NormalizeMethod(method string) string {
	if m := strings.ToUpper(method); knownMethods[m] {
		return m
	}
	return "other"
}

// knownPrefixes lists the allowed admin path label values (bounded cardinality).
var knownPrefixes = []string{"/healthz", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
