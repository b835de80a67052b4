package strategy

import (
	"context"
	"fmt"
	"net/textproto"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"trafficlog/internal/message"
)

// Mask replaces masked header values and JSON fields.
const Mask = "XXX"

// RequestFilter rewrites a request snapshot.
type RequestFilter func(req *message.Snapshot) (*message.Snapshot, error)

// ResponseFilter rewrites a response snapshot, with the already transformed
// request at hand.
type ResponseFilter func(req, resp *message.Snapshot) (*message.Snapshot, error)

type filtered struct {
	base     Strategy
	request  []RequestFilter
	response []ResponseFilter
}

// Filtered runs base and then every filter, in order.
func Filtered(base Strategy, request []RequestFilter, response []ResponseFilter) Strategy {
	return &filtered{base: base, request: request, response: response}
}

func (f *filtered) ProcessRequest(ctx context.Context, req Source) (*message.Snapshot, error) {
	snap, err := f.base.ProcessRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, fn := range f.request {
		if snap, err = fn(snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (f *filtered) ProcessResponse(ctx context.Context, req *message.Snapshot, resp Source) (*message.Snapshot, error) {
	snap, err := f.base.ProcessResponse(ctx, req, resp)
	if err != nil {
		return nil, err
	}
	for _, fn := range f.response {
		if snap, err = fn(req, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// MaskHeaders replaces every value of the named headers with Mask.
func MaskHeaders(names ...string) func(*message.Snapshot) *message.Snapshot {
	masked := make(map[string]bool, len(names))
	for _, name := range names {
		masked[textproto.CanonicalMIMEHeaderKey(name)] = true
	}
	return func(s *message.Snapshot) *message.Snapshot {
		h := s.Headers().Apply(func(name string, values []string) []string {
			if !masked[name] {
				return values
			}
			for i := range values {
				values[i] = Mask
			}
			return values
		})
		return s.WithHeaders(h)
	}
}

// MaskJSONFields replaces the values found at the given JSONPath expressions
// with Mask. Bodies that are not JSON are left alone. Descent (`..`) is not
// supported by the underlying setter.
func MaskJSONFields(paths ...string) (func(*message.Snapshot) (*message.Snapshot, error), error) {
	exprs := make([]jp.Expr, 0, len(paths))
	for _, path := range paths {
		x, err := jp.ParseString(path)
		if err != nil {
			return nil, fmt.Errorf("parse json path %q: %w", path, err)
		}
		exprs = append(exprs, x)
	}
	return func(s *message.Snapshot) (*message.Snapshot, error) {
		if len(exprs) == 0 || !s.HasBody() || s.BodyLen() == 0 || !isJSON(s.MediaType()) {
			return s, nil
		}
		data, err := oj.Parse(s.Body())
		if err != nil {
			// content type lied; log it verbatim
			return s, nil
		}
		changed := false
		for _, x := range exprs {
			if len(x.Get(data)) == 0 {
				continue
			}
			if err := x.Set(data, Mask); err != nil {
				return nil, fmt.Errorf("mask %s: %w", x, err)
			}
			changed = true
		}
		if !changed {
			return s, nil
		}
		return s.WithBody([]byte(oj.JSON(data, &ojg.Options{Sort: true}))), nil
	}, nil
}

// TruncateBody cuts bodies longer than max bytes.
func TruncateBody(max int) func(*message.Snapshot) *message.Snapshot {
	return func(s *message.Snapshot) *message.Snapshot {
		if max <= 0 || s.BodyLen() <= max {
			return s
		}
		return s.WithBody(s.Body()[:max])
	}
}

// CorrelationHeader copies header name from the request onto the response
// snapshot, unless the response already carries it.
func CorrelationHeader(name string) ResponseFilter {
	return func(req, resp *message.Snapshot) (*message.Snapshot, error) {
		values := req.Headers().Values(name)
		if len(values) == 0 || resp.Headers().Has(name) {
			return resp, nil
		}
		return resp.WithHeaders(resp.Headers().With(name, values...)), nil
	}
}

// ForRequest adapts an infallible snapshot rewrite to a RequestFilter.
func ForRequest(fn func(*message.Snapshot) *message.Snapshot) RequestFilter {
	return func(s *message.Snapshot) (*message.Snapshot, error) {
		return fn(s), nil
	}
}

// ForResponse adapts an infallible snapshot rewrite to a ResponseFilter.
func ForResponse(fn func(*message.Snapshot) *message.Snapshot) ResponseFilter {
	return func(_, s *message.Snapshot) (*message.Snapshot, error) {
		return fn(s), nil
	}
}

func isJSON(mediaType string) bool {
	if mediaType == "application/json" {
		return true
	}
	return len(mediaType) > 5 && mediaType[len(mediaType)-5:] == "+json"
}
