// Package sink renders captured exchanges and persists them.
package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trafficlog/internal/message"
)

// Correlation identifies one logged exchange.
type Correlation struct {
	ID       string
	Start    time.Time
	Duration time.Duration
}

// Sink gates and persists one record per exchange.
type Sink interface {
	// Active is checked before any formatting work.
	Active() bool
	Write(ctx context.Context, c Correlation, req, resp *message.Snapshot) error
}

// Formatter renders one message.
type Formatter interface {
	Format(c Correlation, m *message.Snapshot) (string, error)
}

// Writer persists rendered text.
type Writer interface {
	Active() bool
	Write(c Correlation, text string) error
}

// DefaultSink formats request and response with a Formatter and hands both
// to the Writer as a single record.
type DefaultSink struct {
	formatter Formatter
	writer    Writer
}

// NewDefault composes f and w.
func NewDefault(f Formatter, w Writer) *DefaultSink {
	return &DefaultSink{formatter: f, writer: w}
}

func (s *DefaultSink) Active() bool {
	return s.writer.Active()
}

func (s *DefaultSink) Write(_ context.Context, c Correlation, req, resp *message.Snapshot) error {
	reqText, err := s.formatter.Format(c, req)
	if err != nil {
		return fmt.Errorf("format request: %w", err)
	}
	respText, err := s.formatter.Format(c, resp)
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	if err := s.writer.Write(c, strings.Join([]string{reqText, respText}, "\n")); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
