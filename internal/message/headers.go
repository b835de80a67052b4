package message

import (
	"net/http"
	"net/textproto"
	"sort"
)

// Headers is an immutable, case-insensitive mapping from header name to its
// ordered values. The zero value is an empty header set.
type Headers struct {
	h http.Header
}

// NewHeaders copies h into a new Headers value.
func NewHeaders(h http.Header) Headers {
	c := make(http.Header, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(name)
		c[key] = append(c[key], values...)
	}
	return Headers{h: c}
}

// Get returns the first value for name, or "" when absent.
func (h Headers) Get(name string) string {
	return h.h.Get(name)
}

// Values returns a copy of all values for name in their original order.
func (h Headers) Values(name string) []string {
	v := h.h.Values(name)
	if v == nil {
		return nil
	}
	return append([]string(nil), v...)
}

// Has reports whether name carries at least one value.
func (h Headers) Has(name string) bool {
	return len(h.h.Values(name)) > 0
}

// Len returns the number of distinct header names.
func (h Headers) Len() int {
	return len(h.h)
}

// Names returns the canonical header names in sorted order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h.h))
	for name := range h.h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a deep copy of the headers as a plain map.
func (h Headers) Map() map[string][]string {
	m := make(map[string][]string, len(h.h))
	for name, values := range h.h {
		m[name] = append([]string(nil), values...)
	}
	return m
}

// With returns a copy of h where name is replaced by values.
func (h Headers) With(name string, values ...string) Headers {
	c := NewHeaders(h.h)
	key := textproto.CanonicalMIMEHeaderKey(name)
	if len(values) == 0 {
		delete(c.h, key)
		return c
	}
	c.h[key] = append([]string(nil), values...)
	return c
}

// Without returns a copy of h without the given names.
func (h Headers) Without(names ...string) Headers {
	c := NewHeaders(h.h)
	for _, name := range names {
		delete(c.h, textproto.CanonicalMIMEHeaderKey(name))
	}
	return c
}

// Apply returns a copy of h where every header's values are replaced by the
// result of fn. Returning an empty slice removes the header.
func (h Headers) Apply(fn func(name string, values []string) []string) Headers {
	c := make(http.Header, len(h.h))
	for name, values := range h.h {
		replaced := fn(name, append([]string(nil), values...))
		if len(replaced) == 0 {
			continue
		}
		c[name] = replaced
	}
	return Headers{h: c}
}
