package recorder

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/felixge/httpsnoop"

	"trafficlog/internal/message"
)

// Response records a response while forwarding every write, unchanged, to
// the real writer. Optional interfaces of the real writer (Flusher,
// Hijacker, ReaderFrom, Pusher) are preserved by httpsnoop.
//
// A Response belongs to a single exchange and is not safe for concurrent use.
type Response struct {
	live     http.ResponseWriter
	wrapped  http.ResponseWriter
	protocol string

	status int
	buf    bytes.Buffer
	err    error

	captured bool
	body     []byte
	headers  message.Headers
	snap     *message.Snapshot
}

// NewResponse wraps w. Handlers must write through Writer.
func NewResponse(w http.ResponseWriter, protocol string) *Response {
	s := &Response{live: w, protocol: protocol}
	s.wrapped = httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if s.status == 0 && code >= http.StatusOK {
					s.status = code
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(p []byte) (int, error) {
				s.implicitHeader()
				n, err := next(p)
				s.record(p[:n], err)
				return n, err
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				s.implicitHeader()
				n, err := next(io.TeeReader(src, &s.buf))
				s.record(nil, err)
				return n, err
			}
		},
	})
	return s
}

// Writer returns the recording writer handed to the handler chain.
func (s *Response) Writer() http.ResponseWriter {
	return s.wrapped
}

// Status returns the status code written so far, 200 if none was written.
func (s *Response) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// Written reports whether the handler wrote a status or any body bytes.
func (s *Response) Written() bool {
	return s.status != 0
}

// Capture freezes status, headers and body and returns the recorded body.
// Repeated calls return the same bytes.
func (s *Response) Capture() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.captured {
		s.captured = true
		s.body = append([]byte{}, s.buf.Bytes()...)
		s.headers = message.NewHeaders(s.live.Header())
		s.status = s.Status()
	}
	return append([]byte{}, s.body...), nil
}

// Captured reports whether Capture has completed.
func (s *Response) Captured() bool {
	return s.captured
}

// Snapshot returns an immutable view of the response. Before Capture the
// body is absent and the metadata reflects the live writer.
func (s *Response) Snapshot() *message.Snapshot {
	if !s.captured {
		return message.NewResponse(message.Response{
			Protocol: s.protocol,
			Status:   s.Status(),
			Headers:  message.NewHeaders(s.live.Header()),
		}, nil)
	}
	if s.snap == nil {
		s.snap = message.NewResponse(message.Response{
			Protocol: s.protocol,
			Status:   s.status,
			Headers:  s.headers,
		}, s.body)
	}
	return s.snap
}

func (s *Response) implicitHeader() {
	if s.status == 0 {
		s.status = http.StatusOK
	}
}

func (s *Response) record(p []byte, err error) {
	if len(p) > 0 {
		s.buf.Write(p)
	}
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("%w: write response body: %w", ErrCapture, err)
	}
}
