package host

import (
	"errors"
	"net/http"
	"sync"
)

var (
	// ErrNotDispatched is returned by StartAsync for requests not served
	// through a Host.
	ErrNotDispatched = errors.New("request not served by a dispatching host")
	// ErrAsyncFinished is returned once an async context was resumed or
	// expired.
	ErrAsyncFinished = errors.New("async context already resumed or expired")
)

type asyncKey struct{}

// AsyncContext lets a handler return without finishing the response and
// finish it in a later dispatch.
type AsyncContext struct {
	mu         sync.Mutex
	started    bool
	dispatched bool
	expired    bool
	resume     chan http.Handler
}

func newAsyncContext() *AsyncContext {
	return &AsyncContext{resume: make(chan http.Handler, 1)}
}

// StartAsync marks the current dispatch as deferred. The host keeps the
// exchange open until Dispatch or Complete is called, or the async timeout
// expires.
func StartAsync(r *http.Request) (*AsyncContext, error) {
	a, ok := r.Context().Value(asyncKey{}).(*AsyncContext)
	if !ok {
		return nil, ErrNotDispatched
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.expired {
		return nil, ErrAsyncFinished
	}
	a.started = true
	return a, nil
}

// Dispatch resumes the exchange by running h in a new dispatch. It may be
// called from any goroutine, once per StartAsync.
func (a *AsyncContext) Dispatch(h http.Handler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.expired || a.dispatched || !a.started {
		return ErrAsyncFinished
	}
	a.dispatched = true
	a.resume <- h
	return nil
}

// Complete resumes the exchange with a dispatch that writes nothing more.
func (a *AsyncContext) Complete() error {
	return a.Dispatch(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
}

// begin resets the per-dispatch flags.
func (a *AsyncContext) begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	a.dispatched = false
}

func (a *AsyncContext) deferred() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *AsyncContext) expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expired = true
}
