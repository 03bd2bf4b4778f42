// Package rio provides robust buffered reads and best-effort writes over
// connection-oriented byte streams.
//
// Reads tolerate short counts and interrupted system calls. A peer reset is
// reported as a clean end of stream, and a broken pipe on write is reported as
// a completed write, so one misbehaving peer cannot fail the other half of a
// proxied exchange.
package rio

import (
	"errors"
	"io"
	"syscall"
)

const (
	// BufSize is the capacity of the internal read buffer.
	BufSize = 8192

	// MaxLine is the default line buffer size used by callers of ReadLine.
	MaxLine = 8192

	// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
	maxEmptyReads = 100
)

// IOError is a non-recoverable read or write failure on the underlying stream.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "rio: " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// Reader is a per-connection read buffer. It is not safe for concurrent use;
// every connection direction owns its own Reader.
//
// The unread bytes are buf[ptr:ptr+cnt]; ptr+cnt never exceeds len(buf).
type Reader struct {
	rd  io.Reader
	cnt int
	ptr int
	err error // deferred error from a read that also returned data
	buf [BufSize]byte
}

// NewReader associates rd with a fresh, empty buffer.
func NewReader(rd io.Reader) *Reader {
	return &Reader{rd: rd}
}

// Buffered returns the number of unread bytes held in the buffer.
func (r *Reader) Buffered() int { return r.cnt }

// fill refills the buffer. It is only called when cnt == 0.
func (r *Reader) fill() error {
	if r.err != nil {
		err := r.err
		r.err = nil
		return err
	}
	for empty := 0; ; {
		n, err := r.rd.Read(r.buf[:])
		if n > 0 {
			r.ptr = 0
			r.cnt = n
			if !Interrupted(err) {
				r.err = classifyRead(err)
			}
			return nil
		}
		if err == nil {
			empty++
			if empty >= maxEmptyReads {
				return &IOError{Op: "read", Err: io.ErrNoProgress}
			}
			continue
		}
		if Interrupted(err) {
			continue
		}
		return classifyRead(err)
	}
}

// read transfers min(len(p), cnt) bytes to p, refilling the buffer first
// when it is empty.
func (r *Reader) read(p []byte) (int, error) {
	if r.cnt == 0 {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.ptr:r.ptr+r.cnt])
	r.ptr += n
	r.cnt -= n
	return n, nil
}

func (r *Reader) readByte() (byte, error) {
	if r.cnt == 0 {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	c := r.buf[r.ptr]
	r.ptr++
	r.cnt--
	return c, nil
}

// ReadLine copies one line into p, up to len(p)-1 bytes, stopping right after
// a '\n'. It returns 0, io.EOF when the stream ends before any byte is read and
// the partial count with a nil error when it ends mid-line. Other failures are
// returned as *IOError.
func (r *Reader) ReadLine(p []byte) (int, error) {
	n := 0
	for n < len(p)-1 {
		c, err := r.readByte()
		if err == io.EOF {
			if n == 0 {
				return 0, io.EOF
			}
			break
		}
		if err != nil {
			return n, err
		}
		p[n] = c
		n++
		if c == '\n' {
			break
		}
	}
	return n, nil
}

// ReadExact fills p from the buffer and the underlying stream. If the peer
// closes first, the shorter count is returned with a nil error.
func (r *Reader) ReadExact(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := r.read(p[n:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

// ReadN is the unbuffered counterpart of ReadExact.
func ReadN(rd io.Reader, p []byte) (int, error) {
	n, empty := 0, 0
	for n < len(p) {
		m, err := rd.Read(p[n:])
		n += m
		if err == nil {
			if m == 0 {
				if empty++; empty >= maxEmptyReads {
					return n, &IOError{Op: "read", Err: io.ErrNoProgress}
				}
			}
			continue
		}
		if Interrupted(err) {
			continue
		}
		if err = classifyRead(err); err == io.EOF {
			break
		}
		return n, err
	}
	return n, nil
}

// WriteAll writes all of p to w, retrying interrupted and short writes. A
// broken pipe or reset peer counts as a completed write of len(p).
func WriteAll(w io.Writer, p []byte) (int, error) {
	left := p
	for len(left) > 0 {
		n, err := w.Write(left)
		left = left[n:]
		if err == nil {
			continue
		}
		if Interrupted(err) {
			continue
		}
		if PeerClosed(err) {
			return len(p), nil
		}
		return len(p) - len(left), &IOError{Op: "write", Err: err}
	}
	return len(p), nil
}

// classifyRead maps a read error onto io.EOF, nil, or *IOError.
func classifyRead(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET):
		return io.EOF
	default:
		return &IOError{Op: "read", Err: err}
	}
}

// Interrupted reports whether err is a transient signal interruption.
func Interrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

// PeerClosed reports whether err means the peer has gone away for writing.
func PeerClosed(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe)
}
