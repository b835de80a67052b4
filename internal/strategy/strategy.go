// Package strategy decides what of an exchange ends up in the log and how
// it is transformed on the way.
package strategy

import (
	"context"
	"fmt"

	"trafficlog/internal/message"
)

// Source is a recorded message that can still be captured.
type Source interface {
	// Capture materializes the body. Safe to call repeatedly.
	Capture() ([]byte, error)
	// Snapshot returns the message as captured so far.
	Snapshot() *message.Snapshot
}

// Strategy transforms a request and its response before they are written.
// Each method is called at most once per exchange, and must return a
// snapshot rather than anything backed by the live source.
type Strategy interface {
	ProcessRequest(ctx context.Context, req Source) (*message.Snapshot, error)
	ProcessResponse(ctx context.Context, req *message.Snapshot, resp Source) (*message.Snapshot, error)
}

// Default captures both bodies.
type Default struct{}

func (Default) ProcessRequest(_ context.Context, req Source) (*message.Snapshot, error) {
	return captured(req)
}

func (Default) ProcessResponse(_ context.Context, _ *message.Snapshot, resp Source) (*message.Snapshot, error) {
	return captured(resp)
}

// WithoutBody never captures a body; only metadata is logged.
type WithoutBody struct{}

func (WithoutBody) ProcessRequest(_ context.Context, req Source) (*message.Snapshot, error) {
	return req.Snapshot().WithoutBody(), nil
}

func (WithoutBody) ProcessResponse(_ context.Context, _ *message.Snapshot, resp Source) (*message.Snapshot, error) {
	return resp.Snapshot().WithoutBody(), nil
}

// BodyOnlyIfStatusAtLeast captures request bodies, but keeps the response
// body only when the status is at least Status.
type BodyOnlyIfStatusAtLeast struct {
	Status int
}

func (s BodyOnlyIfStatusAtLeast) ProcessRequest(_ context.Context, req Source) (*message.Snapshot, error) {
	return captured(req)
}

func (s BodyOnlyIfStatusAtLeast) ProcessResponse(_ context.Context, _ *message.Snapshot, resp Source) (*message.Snapshot, error) {
	if resp.Snapshot().Status() < s.Status {
		return resp.Snapshot().WithoutBody(), nil
	}
	return captured(resp)
}

func captured(src Source) (*message.Snapshot, error) {
	if _, err := src.Capture(); err != nil {
		return nil, err
	}
	return src.Snapshot(), nil
}

// Parse maps a configured strategy name to a Strategy.
func Parse(name string, status int) (Strategy, error) {
	switch name {
	case "", "default":
		return Default{}, nil
	case "without-body":
		return WithoutBody{}, nil
	case "body-only-if-status-at-least":
		if status <= 0 {
			return nil, fmt.Errorf("strategy %q needs a positive status", name)
		}
		return BodyOnlyIfStatusAtLeast{Status: status}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
