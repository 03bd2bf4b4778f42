// Package uri decomposes absolute-form http request targets.
package uri

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when the authority carries no explicit port.
const DefaultPort = 80

var (
	// ErrScheme is returned when the target has no scheme or a scheme other than http.
	ErrScheme = errors.New("uri: scheme must be http")
	// ErrAuthority is returned when the scheme is not followed by "//".
	ErrAuthority = errors.New("uri: missing // before authority")
)

// ParsedURI is the origin server and path named by an absolute-form target.
type ParsedURI struct {
	Host string
	Port int
	Path string
}

// Addr returns the host:port pair to dial.
func (u ParsedURI) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// Parse splits an http://host[:port][/path] target into its parts.
//
// The port is converted like C atoi: leading digits only, 0 when there are
// none, with no range check. An absent path becomes "/".
func Parse(raw string) (ParsedURI, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || !strings.EqualFold(scheme, "http") {
		return ParsedURI{}, ErrScheme
	}
	rest, ok = strings.CutPrefix(rest, "//")
	if !ok {
		return ParsedURI{}, ErrAuthority
	}

	u := ParsedURI{Port: DefaultPort, Path: "/"}

	end := strings.IndexAny(rest, "/:")
	if end < 0 {
		u.Host = rest
		return u, nil
	}
	u.Host, rest = rest[:end], rest[end:]

	if port, ok := strings.CutPrefix(rest, ":"); ok {
		end = strings.IndexByte(port, '/')
		if end < 0 {
			end = len(port)
		}
		u.Port = atoi(port[:end])
		rest = port[end:]
	}

	if rest != "" {
		u.Path = rest
	}
	return u, nil
}

// atoi mirrors C atoi: optional leading space and sign, then decimal digits
// up to the first non-digit. Overflow saturates.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		if n > (1<<31-1)/10 {
			n = 1<<31 - 1
			break
		}
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}
