// Package model defines shared types for the proxy.
package model

import (
	"net"
	"strings"
	"time"

	"webproxy/internal/uri"
)

// RequestLine is the first line of a client request, split on whitespace.
// Missing tokens are left empty.
type RequestLine struct {
	Method  string
	URI     string
	Version string
}

// ParseRequestLine splits line into at most three whitespace-separated
// tokens. Extra tokens are ignored; a short line leaves trailing fields empty
// so that validation, not tokenization, rejects it.
func ParseRequestLine(line string) RequestLine {
	var rl RequestLine
	fields := strings.Fields(line)
	for i, dst := range []*string{&rl.Method, &rl.URI, &rl.Version} {
		if i < len(fields) {
			*dst = fields[i]
		}
	}
	return rl
}

// Outcome classifies how a transaction ended.
type Outcome string

const (
	OutcomeRelayed        Outcome = "relayed"
	OutcomeNotImplemented Outcome = "not_implemented"
	OutcomeBadURI         Outcome = "bad_uri"
	OutcomeUpstreamFailed Outcome = "upstream_failed"
	OutcomeClientEOF      Outcome = "client_eof"
	OutcomeIOError        Outcome = "io_error"
)

// Transaction is the state of one client exchange. It lives only as long as
// the client connection and is never shared between goroutines.
type Transaction struct {
	Client   net.Conn
	Upstream net.Conn

	Request RequestLine
	Target  uri.ParsedURI

	Started       time.Time
	Outcome       Outcome
	BytesUpstream int64
	BytesClient   int64
}

// RemoteAddr returns the client address, or "" when unknown.
func (t *Transaction) RemoteAddr() string {
	if t.Client == nil || t.Client.RemoteAddr() == nil {
		return ""
	}
	return t.Client.RemoteAddr().String()
}
