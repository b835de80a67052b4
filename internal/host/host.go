// Package host runs net/http requests as exchanges of one or more dispatches,
// so handlers can defer completion to a later dispatch.
package host

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trafficlog/internal/exchange"
)

// DefaultAsyncTimeout bounds how long a deferred exchange waits for its next
// dispatch.
const DefaultAsyncTimeout = 30 * time.Second

// Handler handles one dispatch of an exchange.
type Handler interface {
	Handle(d exchange.Dispatch, next http.Handler) error
	Abandon(id string) bool
}

// Host turns each request into an exchange and dispatches it through a
// Handler until the handler stops deferring.
type Host struct {
	handler Handler
	timeout time.Duration
	newID   func() string
}

// New dispatches through h. A non-positive timeout waits until the client
// goes away.
func New(h Handler, timeout time.Duration) *Host {
	return &Host{handler: h, timeout: timeout, newID: uuid.NewString}
}

// Wrap returns next as a dispatching http.Handler.
func (h *Host) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := h.newID()
		ac := newAsyncContext()
		tw, written := track(w)
		r = r.WithContext(context.WithValue(r.Context(), asyncKey{}, ac))

		handler, typ := next, exchange.DispatchRequest
		for {
			ac.begin()
			d := exchange.Dispatch{
				ID:       id,
				Type:     typ,
				Request:  r,
				Response: tw,
				Deferred: ac.deferred,
			}
			if err := h.dispatch(d, handler); err != nil {
				ac.expire()
				h.handler.Abandon(id)
				log.Error().
					Err(err).
					Str("exchange", id).
					Str("dispatch", typ.String()).
					Msg("Dispatch failed")
				if !written() {
					http.Error(tw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
				return
			}
			if !ac.deferred() {
				return
			}

			resumed, ok := h.await(r.Context(), ac)
			if !ok {
				h.handler.Abandon(id)
				log.Warn().
					Str("exchange", id).
					Str("path", r.URL.Path).
					Msg("Async exchange abandoned")
				if !written() {
					http.Error(tw, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				}
				return
			}
			handler, typ = resumed, exchange.DispatchAsync
		}
	})
}

// dispatch runs the first dispatch inline and continuations on a fresh
// goroutine, the way a server hands resumed work to another worker. Panics
// are carried back to the request goroutine.
func (h *Host) dispatch(d exchange.Dispatch, next http.Handler) error {
	if d.Type == exchange.DispatchRequest {
		return h.handler.Handle(d, next)
	}

	type result struct {
		err       error
		recovered any
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{recovered: p}
			}
		}()
		done <- result{err: h.handler.Handle(d, next)}
	}()

	res := <-done
	if res.recovered != nil {
		panic(res.recovered)
	}
	return res.err
}

func (h *Host) await(ctx context.Context, ac *AsyncContext) (http.Handler, bool) {
	var timeout <-chan time.Time
	if h.timeout > 0 {
		t := time.NewTimer(h.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case next := <-ac.resume:
		return next, true
	case <-timeout:
	case <-ctx.Done():
	}

	ac.expire()
	// a dispatch may have slipped in before expiry
	select {
	case next := <-ac.resume:
		return next, true
	default:
		return nil, false
	}
}

// track reports whether anything was written to w.
func track(w http.ResponseWriter) (http.ResponseWriter, func() bool) {
	var written atomic.Bool
	tw := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				written.Store(true)
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(p []byte) (int, error) {
				written.Store(true)
				return next(p)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				written.Store(true)
				return next(src)
			}
		},
	})
	return tw, written.Load
}
