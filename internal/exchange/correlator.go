// Package exchange correlates the dispatches of an HTTP exchange and makes
// sure each exchange is logged exactly once, on completion.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trafficlog/internal/recorder"
	"trafficlog/internal/sink"
	"trafficlog/internal/strategy"
)

var (
	ErrDuplicate = errors.New("exchange already in progress")
	ErrCompleted = errors.New("exchange already completed")
	ErrStrategy  = errors.New("strategy failed")
)

// FailurePolicy decides what a strategy failure does to the exchange.
// Body I/O failures always fail the dispatch; sink failures never do.
type FailurePolicy int

const (
	// FailExchange fails the dispatch the strategy failed in.
	FailExchange FailurePolicy = iota
	// LogOnly reports the failure and lets the exchange go on unlogged.
	LogOnly
)

func (p FailurePolicy) String() string {
	if p == LogOnly {
		return "log-only"
	}
	return "fail-exchange"
}

// ParsePolicy maps a configured policy name to a FailurePolicy.
func ParsePolicy(name string) (FailurePolicy, error) {
	switch name {
	case "", "fail-exchange":
		return FailExchange, nil
	case "log-only":
		return LogOnly, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", name)
	}
}

// ErrorHandler receives failures of the logging path that do not fail the
// exchange.
type ErrorHandler func(ctx context.Context, c sink.Correlation, err error)

// Correlator drives the exchange state machine.
type Correlator struct {
	sink     sink.Sink
	strategy strategy.Strategy
	table    *Table
	policy   FailurePolicy
	onError  ErrorHandler
	metrics  *Metrics
	now      func() time.Time
	newID    func() string
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithStrategy replaces strategy.Default.
func WithStrategy(s strategy.Strategy) Option {
	return func(c *Correlator) { c.strategy = s }
}

// WithPolicy sets the strategy failure policy.
func WithPolicy(p FailurePolicy) Option {
	return func(c *Correlator) { c.policy = p }
}

// WithErrorHandler replaces the default handler, which logs at error level.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Correlator) { c.onError = h }
}

// WithMetrics records correlator events in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// WithTable shares an exchange table.
func WithTable(t *Table) Option {
	return func(c *Correlator) { c.table = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// WithCorrelationIDs replaces the random correlation ID generator.
func WithCorrelationIDs(next func() string) Option {
	return func(c *Correlator) { c.newID = next }
}

// New creates a Correlator writing to s.
func New(s sink.Sink, opts ...Option) (*Correlator, error) {
	if s == nil {
		return nil, errors.New("correlator: nil sink")
	}
	c := &Correlator{
		sink:     s,
		strategy: strategy.Default{},
		onError:  logError,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.table == nil {
		t, err := NewTable(DefaultCompletedCapacity)
		if err != nil {
			return nil, err
		}
		c.table = t
	}
	return c, nil
}

// Handle runs one dispatch of an exchange through next.
//
// The first dispatch records the bodies and runs the request strategy. A
// handler that defers leaves the exchange suspended; a later async dispatch
// with the same ID resumes it. Whichever dispatch returns without deferring
// completes the exchange and writes its record. Dispatches that fit none of
// these are served by next without touching the sink.
func (c *Correlator) Handle(d Dispatch, next http.Handler) error {
	x, live := c.table.Load(d.ID)
	switch {
	case !live && d.Type == DispatchRequest && !c.table.Completed(d.ID):
		return c.start(d, next)
	case live && x.phase == Suspended && d.Type == DispatchAsync:
		return c.resume(x, d, next)
	}

	reason := "unknown"
	switch {
	case live:
		reason = "unexpected_" + x.phase.String()
	case c.table.Completed(d.ID):
		reason = "completed"
	}
	c.metrics.violation(reason)
	log.Debug().
		Str("exchange", d.ID).
		Str("dispatch", d.Type.String()).
		Str("reason", reason).
		Msg("Dispatch outside exchange lifecycle")
	next.ServeHTTP(d.Response, d.Request)
	return nil
}

// Abandon drops a suspended exchange that will never be dispatched again.
// Its record is never written.
func (c *Correlator) Abandon(id string) bool {
	if !c.table.Abandon(id) {
		return false
	}
	c.metrics.abandon()
	log.Debug().Str("exchange", id).Msg("Exchange abandoned")
	return true
}

// Phase reports where exchange id stands. Call it between dispatches.
func (c *Correlator) Phase(id string) Phase {
	if x, ok := c.table.Load(id); ok {
		return x.phase
	}
	if c.table.Completed(id) {
		return Completed
	}
	return NotStarted
}

func (c *Correlator) start(d Dispatch, next http.Handler) error {
	x := &Exchange{
		id:    d.ID,
		phase: NotStarted,
		correlation: sink.Correlation{
			ID:    c.newID(),
			Start: c.now(),
		},
		request:  recorder.NewRequest(d.Request),
		response: recorder.NewResponse(d.Response, d.Request.Proto),
	}
	ctx := NewContext(d.Request.Context(), x.correlation)

	transformed, err := c.strategy.ProcessRequest(ctx, x.request)
	if err != nil {
		c.metrics.strategyFailure("request")
		err = fmt.Errorf("%w: request: %w", ErrStrategy, err)
		if c.fatal(err) {
			return fmt.Errorf("exchange %s: %w", d.ID, err)
		}
		c.onError(ctx, x.correlation, err)
		x.unlogged = true
	}
	x.transformed = transformed

	if err := c.table.Insert(x); err != nil {
		c.metrics.violation("duplicate")
		next.ServeHTTP(d.Response, x.request.Bind(d.Request))
		return nil
	}
	c.metrics.start()
	x.phase = InProgress
	return c.run(ctx, x, d, next)
}

func (c *Correlator) resume(x *Exchange, d Dispatch, next http.Handler) error {
	x.phase = InProgress
	return c.run(NewContext(d.Request.Context(), x.correlation), x, d, next)
}

func (c *Correlator) run(ctx context.Context, x *Exchange, d Dispatch, next http.Handler) error {
	x.dispatches++

	panicking := true
	defer func() {
		if panicking {
			c.Abandon(x.id)
		}
	}()
	next.ServeHTTP(x.response.Writer(), x.request.Bind(d.Request).WithContext(ctx))
	panicking = false

	if d.deferred() {
		x.phase = Suspended
		c.metrics.suspend()
		log.Debug().
			Str("exchange", x.id).
			Int("dispatches", x.dispatches).
			Msg("Exchange suspended")
		return nil
	}
	return c.complete(ctx, x)
}

func (c *Correlator) complete(ctx context.Context, x *Exchange) error {
	if !c.table.Complete(x.id) {
		return nil
	}
	x.phase = Completed
	c.metrics.complete()
	if x.unlogged {
		return nil
	}

	resp, err := c.strategy.ProcessResponse(ctx, x.transformed, x.response)
	corr := x.finish(c.now())
	if err != nil {
		c.metrics.strategyFailure("response")
		err = fmt.Errorf("%w: response: %w", ErrStrategy, err)
		if c.fatal(err) {
			return fmt.Errorf("exchange %s: %w", x.id, err)
		}
		c.onError(ctx, corr, err)
		return nil
	}

	if !c.sink.Active() {
		return nil
	}
	if err := c.sink.Write(ctx, corr, x.transformed, resp); err != nil {
		c.metrics.sinkFailure()
		c.onError(ctx, corr, fmt.Errorf("sink: %w", err))
		return nil
	}
	c.metrics.log()
	return nil
}

func (c *Correlator) fatal(err error) bool {
	return c.policy == FailExchange || errors.Is(err, recorder.ErrCapture)
}

func logError(_ context.Context, c sink.Correlation, err error) {
	log.Error().
		Err(err).
		Str("correlation", c.ID).
		Msg("HTTP exchange logging failed")
}
