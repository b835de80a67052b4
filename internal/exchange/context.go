package exchange

import (
	"context"

	"trafficlog/internal/sink"
)

type correlationKey struct{}

// NewContext returns ctx carrying c.
func NewContext(ctx context.Context, c sink.Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// FromContext returns the correlation of the exchange a request belongs to.
func FromContext(ctx context.Context) (sink.Correlation, bool) {
	c, ok := ctx.Value(correlationKey{}).(sink.Correlation)
	return c, ok
}
