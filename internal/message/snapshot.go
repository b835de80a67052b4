// Package message holds immutable snapshots of captured HTTP messages.
package message

import (
	"bytes"
	"mime"
)

// Kind tells requests and responses apart.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

func (k Kind) String() string {
	if k == KindResponse {
		return "response"
	}
	return "request"
}

// Origin describes which side of the connection produced a message.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// Snapshot is a fully materialized view of a request or response. It never
// refers to a live stream and is never mutated after construction.
type Snapshot struct {
	kind        Kind
	origin      Origin
	remote      string
	method      string
	uri         string
	protocol    string
	status      int
	headers     Headers
	contentType string
	body        []byte
}

// Request describes the metadata of a captured request.
type Request struct {
	Remote   string
	Method   string
	URI      string
	Protocol string
	Headers  Headers
}

// Response describes the metadata of a captured response.
type Response struct {
	Protocol string
	Status   int
	Headers  Headers
}

// NewRequest builds a request snapshot. A nil body means the body was not
// captured.
func NewRequest(r Request, body []byte) *Snapshot {
	return &Snapshot{
		kind:        KindRequest,
		origin:      OriginRemote,
		remote:      r.Remote,
		method:      r.Method,
		uri:         r.URI,
		protocol:    r.Protocol,
		headers:     r.Headers,
		contentType: r.Headers.Get("Content-Type"),
		body:        cloneBody(body),
	}
}

// NewResponse builds a response snapshot. A nil body means the body was not
// captured.
func NewResponse(r Response, body []byte) *Snapshot {
	return &Snapshot{
		kind:        KindResponse,
		origin:      OriginLocal,
		protocol:    r.Protocol,
		status:      r.Status,
		headers:     r.Headers,
		contentType: r.Headers.Get("Content-Type"),
		body:        cloneBody(body),
	}
}

func (s *Snapshot) Kind() Kind             { return s.kind }
func (s *Snapshot) Origin() Origin         { return s.origin }
func (s *Snapshot) Remote() string         { return s.remote }
func (s *Snapshot) Method() string         { return s.method }
func (s *Snapshot) URI() string            { return s.uri }
func (s *Snapshot) Protocol() string       { return s.protocol }
func (s *Snapshot) Status() int            { return s.status }
func (s *Snapshot) Headers() Headers       { return s.headers }
func (s *Snapshot) ContentType() string    { return s.contentType }
func (s *Snapshot) HasBody() bool          { return s.body != nil }
func (s *Snapshot) BodyString() string     { return string(s.body) }
func (s *Snapshot) Body() []byte           { return cloneBody(s.body) }
func (s *Snapshot) IsRequest() bool        { return s.kind == KindRequest }
func (s *Snapshot) BodyLen() int           { return len(s.body) }
func (s *Snapshot) Equal(o *Snapshot) bool { return equal(s, o) }

// MediaType returns the content type without parameters, lower-cased.
func (s *Snapshot) MediaType() string {
	if s.contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s.contentType)
	if err != nil {
		return ""
	}
	return mt
}

// WithBody returns a copy of s carrying body.
func (s *Snapshot) WithBody(body []byte) *Snapshot {
	c := *s
	c.body = cloneBody(body)
	if c.body == nil {
		c.body = []byte{}
	}
	return &c
}

// WithoutBody returns a copy of s with the body marked absent.
func (s *Snapshot) WithoutBody() *Snapshot {
	c := *s
	c.body = nil
	return &c
}

// WithHeaders returns a copy of s carrying h. The content type follows h.
func (s *Snapshot) WithHeaders(h Headers) *Snapshot {
	c := *s
	c.headers = h
	c.contentType = h.Get("Content-Type")
	return &c
}

func cloneBody(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func equal(a, b *Snapshot) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind != b.kind || a.origin != b.origin || a.remote != b.remote ||
		a.method != b.method || a.uri != b.uri || a.protocol != b.protocol ||
		a.status != b.status || a.contentType != b.contentType {
		return false
	}
	if (a.body == nil) != (b.body == nil) || !bytes.Equal(a.body, b.body) {
		return false
	}
	if a.headers.Len() != b.headers.Len() {
		return false
	}
	for _, name := range a.headers.Names() {
		av, bv := a.headers.Values(name), b.headers.Values(name)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
