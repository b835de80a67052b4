package sink

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"trafficlog/internal/message"
)

// StructuredSink emits one zerolog event per exchange with the request and
// response as nested objects.
type StructuredSink struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewStructured logs through logger at level.
func NewStructured(logger zerolog.Logger, level zerolog.Level) *StructuredSink {
	return &StructuredSink{logger: logger, level: level}
}

func (s *StructuredSink) Active() bool {
	return enabled(s.logger, s.level)
}

func (s *StructuredSink) Write(_ context.Context, c Correlation, req, resp *message.Snapshot) error {
	s.logger.WithLevel(s.level).
		Str("correlation", c.ID).
		Time("start", c.Start).
		Dur("duration_ms", c.Duration).
		Dict("request", messageDict(req).
			Str("remote", req.Remote()).
			Str("method", req.Method()).
			Str("uri", req.URI())).
		Dict("response", messageDict(resp).
			Int("status", resp.Status())).
		Msg("HTTP exchange")
	return nil
}

func messageDict(m *message.Snapshot) *zerolog.Event {
	d := zerolog.Dict().
		Str("origin", string(m.Origin())).
		Str("protocol", m.Protocol())
	if m.Headers().Len() > 0 {
		headers := zerolog.Dict()
		for _, name := range m.Headers().Names() {
			headers.Strs(name, m.Headers().Values(name))
		}
		d.Dict("headers", headers)
	}
	if m.BodyLen() > 0 {
		body := m.Body()
		if isJSONMediaType(m.MediaType()) && json.Valid(body) {
			if c, err := compact(body); err == nil {
				d.RawJSON("body", c)
				return d
			}
		}
		d.Str("body", string(body))
	}
	return d
}
