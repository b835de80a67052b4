package exchange

import (
	"net/http"
	"time"

	"trafficlog/internal/message"
	"trafficlog/internal/recorder"
	"trafficlog/internal/sink"
)

// Phase is the lifecycle position of an exchange.
type Phase int

const (
	NotStarted Phase = iota
	InProgress
	Suspended
	Completed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// DispatchType tells the first dispatch of an exchange from its
// continuations.
type DispatchType int

const (
	DispatchRequest DispatchType = iota
	DispatchAsync
)

func (t DispatchType) String() string {
	if t == DispatchAsync {
		return "async"
	}
	return "request"
}

// Dispatch is one invocation of the middleware by the host.
type Dispatch struct {
	// ID is stable across all dispatches of one exchange.
	ID       string
	Type     DispatchType
	Request  *http.Request
	Response http.ResponseWriter
	// Deferred reports, after the handler returned, whether it asked the
	// host for another dispatch. Nil means never.
	Deferred func() bool
}

func (d Dispatch) deferred() bool {
	return d.Deferred != nil && d.Deferred()
}

// Exchange is the state carried across the dispatches of one exchange.
// Dispatches of one exchange never overlap, so it needs no lock of its own.
type Exchange struct {
	id          string
	phase       Phase
	correlation sink.Correlation
	dispatches  int

	request  *recorder.Request
	response *recorder.Response

	// transformed request, computed once on the first dispatch
	transformed *message.Snapshot
	// set when the request strategy failed and the exchange goes unlogged
	unlogged bool
}

func (x *Exchange) ID() string                    { return x.id }
func (x *Exchange) Phase() Phase                  { return x.phase }
func (x *Exchange) Correlation() sink.Correlation { return x.correlation }
func (x *Exchange) Dispatches() int               { return x.dispatches }

func (x *Exchange) finish(now time.Time) sink.Correlation {
	c := x.correlation
	c.Duration = now.Sub(c.Start)
	return c
}
