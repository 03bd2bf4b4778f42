// Package service implements the per-connection proxy transaction.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/model"
	"webproxy/internal/rio"
	"webproxy/internal/uri"
)

var (
	// ErrNotImplemented is returned when the client used a method other than GET.
	ErrNotImplemented = errors.New("method not implemented")
	// ErrBadURI is returned when the request target is not an absolute http URI.
	ErrBadURI = errors.New("request target could not be handled")
)

// Fixed upstream headers sent after Host and User-Agent.
const (
	connectionHdr      = "Connection: close\r\n"
	proxyConnectionHdr = "Proxy-Connection: close\r\n"
)

var crlf = []byte("\r\n")

// Dialer opens a connection to an origin server.
type Dialer interface {
	Dial(ctx context.Context, target uri.ParsedURI) (net.Conn, error)
}

// Relay runs one proxy transaction per client connection. A Relay holds no
// per-connection state and is safe to share between goroutines.
type Relay struct {
	dialer  Dialer
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelay creates a Relay. The metrics parameter is optional.
func NewRelay(d Dialer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		dialer:  d,
		cfg:     cfg,
		logger:  logger.With("component", "relay"),
		metrics: m,
	}
}

// Serve handles a single HTTP exchange on conn and closes it, along with any
// upstream connection, before returning. Protocol errors are answered with an
// error page and returned wrapped in ErrNotImplemented or ErrBadURI. An
// upstream connect failure closes the client without writing anything.
func (r *Relay) Serve(ctx context.Context, conn net.Conn) error {
	tx := &model.Transaction{Client: conn, Started: time.Now()}
	if r.metrics != nil {
		r.metrics.TransactionsActive.Inc()
	}
	defer r.finish(tx)

	err := r.handle(ctx, tx)
	if err != nil && tx.Outcome == "" {
		tx.Outcome = model.OutcomeIOError
	}
	return err
}

func (r *Relay) handle(ctx context.Context, tx *model.Transaction) error {
	in := rio.NewReader(tx.Client)
	line := make([]byte, r.maxLine())

	n, err := in.ReadLine(line)
	if errors.Is(err, io.EOF) {
		tx.Outcome = model.OutcomeClientEOF
		return nil
	}
	if err != nil {
		return fmt.Errorf("read request line: %w", err)
	}
	tx.Request = model.ParseRequestLine(string(line[:n]))

	if !strings.EqualFold(tx.Request.Method, "GET") {
		tx.Outcome = model.OutcomeNotImplemented
		r.clientError(tx, tx.Request.Method, "501", "Not Implemented",
			"Proxy does not implement this method")
		return fmt.Errorf("%w: %q", ErrNotImplemented, tx.Request.Method)
	}

	if err := consumeHeaders(in, line); err != nil {
		return fmt.Errorf("read request headers: %w", err)
	}

	target, err := uri.Parse(tx.Request.URI)
	if err != nil {
		tx.Outcome = model.OutcomeBadURI
		r.clientError(tx, tx.Request.URI, "400", "Bad Request",
			"Proxy could not handle the request")
		return fmt.Errorf("%w: %w", ErrBadURI, err)
	}
	tx.Target = target

	up, err := r.dialer.Dial(ctx, target)
	if err != nil {
		tx.Outcome = model.OutcomeUpstreamFailed
		return err
	}
	tx.Upstream = up

	if err := r.forwardRequest(tx); err != nil {
		return fmt.Errorf("forward request: %w", err)
	}

	if r.cfg.Relay.Mode == config.RelayModeLength {
		err = r.relayByLength(tx, line)
	} else {
		err = r.relayLines(tx, line)
	}
	if err != nil {
		return fmt.Errorf("relay response: %w", err)
	}
	tx.Outcome = model.OutcomeRelayed
	return nil
}

// consumeHeaders discards request header lines up to and including the blank
// "\r\n" line. End of stream also ends the headers.
func consumeHeaders(in *rio.Reader, line []byte) error {
	for {
		n, err := in.ReadLine(line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if bytes.Equal(line[:n], crlf) {
			return nil
		}
	}
}

// forwardRequest writes the normalized HTTP/1.0 request to the upstream.
func (r *Relay) forwardRequest(tx *model.Transaction) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", tx.Target.Path)
	fmt.Fprintf(&b, "Host: %s\r\n", tx.Target.Host)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", r.userAgent())
	b.WriteString(connectionHdr)
	b.WriteString(proxyConnectionHdr)
	b.Write(crlf)

	n, err := rio.WriteAll(tx.Upstream, b.Bytes())
	tx.BytesUpstream += int64(n)
	return err
}

// relayLines copies the upstream response to the client one line at a time
// until the upstream closes.
func (r *Relay) relayLines(tx *model.Transaction, line []byte) error {
	in := rio.NewReader(tx.Upstream)
	for {
		n, err := in.ReadLine(line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.toClient(tx, line[:n]); err != nil {
			return err
		}
	}
}

// relayByLength copies the status line and headers line by line, then copies
// exactly Content-Length body bytes when the header is present, or everything
// up to the upstream close otherwise.
func (r *Relay) relayByLength(tx *model.Transaction, line []byte) error {
	in := rio.NewReader(tx.Upstream)
	length := int64(-1)
	for {
		n, err := in.ReadLine(line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.toClient(tx, line[:n]); err != nil {
			return err
		}
		if isBlankLine(line[:n]) {
			break
		}
		if cl, ok := contentLength(line[:n]); ok {
			length = cl
		}
	}

	buf := make([]byte, rio.BufSize)
	for length != 0 {
		chunk := buf
		if length > 0 && length < int64(len(buf)) {
			chunk = buf[:length]
		}
		n, err := in.ReadExact(chunk)
		if err != nil {
			return err
		}
		if err := r.toClient(tx, chunk[:n]); err != nil {
			return err
		}
		if n < len(chunk) {
			return nil
		}
		if length > 0 {
			length -= int64(n)
		}
	}
	return nil
}

// isBlankLine reports whether p ends a header block. Upstream servers may
// terminate lines with a bare '\n'.
func isBlankLine(p []byte) bool {
	return bytes.Equal(p, crlf) || (len(p) == 1 && p[0] == '\n')
}

// contentLength reports the value of a Content-Length header line.
func contentLength(line []byte) (int64, bool) {
	name, value, ok := strings.Cut(string(line), ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (r *Relay) toClient(tx *model.Transaction, p []byte) error {
	n, err := rio.WriteAll(tx.Client, p)
	tx.BytesClient += int64(n)
	return err
}

func (r *Relay) clientError(tx *model.Transaction, cause, code, shortMsg, longMsg string) {
	n, err := ClientError(tx.Client, cause, code, shortMsg, longMsg, r.cfg.Errors.EscapeHTML)
	tx.BytesClient += int64(n)
	if err != nil {
		r.logger.Debug("writing error page", "err", err, "remote", tx.RemoteAddr())
	}
}

// finish releases both connections and records the transaction.
func (r *Relay) finish(tx *model.Transaction) {
	if tx.Upstream != nil {
		_ = tx.Upstream.Close()
	}
	_ = tx.Client.Close()

	duration := time.Since(tx.Started)
	if r.metrics != nil {
		r.metrics.TransactionsActive.Dec()
		r.metrics.TransactionsTotal.WithLabelValues(metrics.NormalizeMethod(tx.Request.Method), string(tx.Outcome)).Inc()
		r.metrics.TransactionDuration.WithLabelValues(string(tx.Outcome)).Observe(duration.Seconds())
		r.metrics.BytesRelayed.WithLabelValues(metrics.DirectionUpstream).Add(float64(tx.BytesUpstream))
		r.metrics.BytesRelayed.WithLabelValues(metrics.DirectionClient).Add(float64(tx.BytesClient))
	}

	r.logger.Info("transaction",
		"remote", tx.RemoteAddr(),
		"method", tx.Request.Method,
		"uri", tx.Request.URI,
		"upstream", tx.Target.Host,
		"outcome", string(tx.Outcome),
		"bytes_out", tx.BytesClient,
		"duration_ms", duration.Milliseconds(),
	)
}

func (r *Relay) maxLine() int {
	if r.cfg.Relay.MaxLine > 0 {
		return r.cfg.Relay.MaxLine
	}
	return rio.MaxLine
}

func (r *Relay) userAgent() string {
	if r.cfg.Upstream.UserAgent != "" {
		return r.cfg.Upstream.UserAgent
	}
	return config.DefaultUserAgent
}
