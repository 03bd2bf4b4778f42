package service

import (
	"fmt"
	"html"
	"io"
	"strings"

	"webproxy/internal/rio"
)

// ErrorPage renders the HTML body of a proxy error response.
//
// cause is client-supplied text (a method or request target). It is embedded
// verbatim unless escape is set.
func ErrorPage(cause, code, shortMsg, longMsg string, escape bool) string {
	if escape {
		cause = html.EscapeString(cause)
	}
	var b strings.Builder
	b.WriteString("<html><title>Proxy Error</title>")
	b.WriteString("<body bgcolor=ffffff>\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", code, shortMsg)
	fmt.Fprintf(&b, "<p>%s: %s\r\n", longMsg, cause)
	b.WriteString("<hr><em>The webproxy server</em>\r\n")
	return b.String()
}

// ClientError writes a complete HTTP/1.0 error response to w and returns the
// number of bytes accounted as written. Writes are best-effort: a client that
// has already gone away is not an error.
func ClientError(w io.Writer, cause, code, shortMsg, longMsg string, escape bool) (int, error) {
	body := ErrorPage(cause, code, shortMsg, longMsg, escape)
	head := fmt.Sprintf("HTTP/1.0 %s %s\r\nContent-type: text/html\r\nContent-length: %d\r\n\r\n",
		code, shortMsg, len(body))

	n, err := rio.WriteAll(w, []byte(head))
	if err != nil {
		return n, fmt.Errorf("write error header: %w", err)
	}
	m, err := rio.WriteAll(w, []byte(body))
	if err != nil {
		return n + m, fmt.Errorf("write error body: %w", err)
	}
	return n + m, nil
}
