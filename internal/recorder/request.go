// Package recorder tees live HTTP bodies into memory so they can be logged
// after the handler is done with them.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"trafficlog/internal/message"
)

// ErrCapture marks failures of the live stream underneath a recorder. A
// recorder that returned it keeps returning it; capture is not retried.
var ErrCapture = errors.New("body capture failed")

// Request records a request body. Handlers read through it like any other
// body; bytes pulled from the live stream are kept so Capture can hand them
// out again without touching the stream.
//
// A Request belongs to a single exchange and is not safe for concurrent use.
type Request struct {
	meta message.Request
	live io.ReadCloser

	buf      []byte
	pos      int
	eof      bool
	err      error
	captured bool

	snap         *message.Snapshot
	snapCaptured bool
}

// NewRequest wraps r's body. Request metadata is read once, here.
func NewRequest(r *http.Request) *Request {
	q := &Request{
		meta: message.Request{
			Remote:   remoteHost(r.RemoteAddr),
			Method:   r.Method,
			URI:      requestURI(r),
			Protocol: r.Proto,
			Headers:  message.NewHeaders(r.Header),
		},
		live: r.Body,
	}
	if r.Body == nil || r.Body == http.NoBody {
		q.eof = true
	}
	return q
}

// Read serves buffered bytes first and falls through to the live stream,
// recording whatever it reads.
func (q *Request) Read(p []byte) (int, error) {
	if q.pos < len(q.buf) {
		n := copy(p, q.buf[q.pos:])
		q.pos += n
		return n, nil
	}
	if q.err != nil {
		return 0, q.err
	}
	if q.eof {
		return 0, io.EOF
	}

	n, err := q.live.Read(p)
	if n > 0 {
		q.buf = append(q.buf, p[:n]...)
		q.pos += n
	}
	switch {
	case errors.Is(err, io.EOF):
		q.eof = true
		return n, io.EOF
	case err != nil:
		q.fail(err)
		return n, q.err
	}
	return n, nil
}

// Close is a no-op: the server owns the live body and closes it once the
// exchange is over.
func (q *Request) Close() error {
	return nil
}

// Capture reads the rest of the live body and returns everything recorded.
// It is idempotent; the live stream is drained at most once.
func (q *Request) Capture() ([]byte, error) {
	if q.err != nil {
		return nil, q.err
	}
	if !q.eof {
		rest, err := io.ReadAll(q.live)
		if err != nil {
			q.fail(err)
			return nil, q.err
		}
		q.buf = append(q.buf, rest...)
		q.eof = true
	}
	q.captured = true
	return append([]byte{}, q.buf...), nil
}

// Captured reports whether Capture has completed.
func (q *Request) Captured() bool {
	return q.captured
}

// Snapshot returns an immutable view of the request. It does not capture;
// until Capture succeeds the body is absent.
func (q *Request) Snapshot() *message.Snapshot {
	if q.snap != nil && q.snapCaptured == q.captured {
		return q.snap
	}
	var body []byte
	if q.captured {
		body = q.buf
		if body == nil {
			body = []byte{}
		}
	}
	q.snap = message.NewRequest(q.meta, body)
	q.snapCaptured = q.captured
	return q.snap
}

// Bind returns a shallow copy of r reading its body from q.
func (q *Request) Bind(r *http.Request) *http.Request {
	c := new(http.Request)
	*c = *r
	c.Body = q
	return c
}

func (q *Request) fail(err error) {
	q.err = fmt.Errorf("%w: read request body: %w", ErrCapture, err)
	q.buf = nil
	q.pos = 0
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func requestURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	if r.URL == nil {
		return scheme + "://" + host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
