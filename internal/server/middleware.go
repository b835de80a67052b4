package server

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trafficlog/internal/config"
	"trafficlog/internal/exchange"
	"trafficlog/internal/message"
	"trafficlog/internal/sink"
	"trafficlog/internal/strategy"
)

// buildStrategy assembles the base strategy and its filters from lb.
func buildStrategy(lb config.Logbook) (strategy.Strategy, error) {
	base, err := strategy.Parse(lb.Strategy, lb.MinStatus)
	if err != nil {
		return nil, err
	}

	var (
		request  []strategy.RequestFilter
		response []strategy.ResponseFilter
	)
	if len(lb.MaskHeaders) > 0 {
		mask := strategy.MaskHeaders(lb.MaskHeaders...)
		request = append(request, strategy.ForRequest(mask))
		response = append(response, strategy.ForResponse(mask))
	}
	if len(lb.MaskJSONPaths) > 0 {
		mask, err := strategy.MaskJSONFields(lb.MaskJSONPaths...)
		if err != nil {
			return nil, err
		}
		request = append(request, strategy.RequestFilter(mask))
		response = append(response, func(_, resp *message.Snapshot) (*message.Snapshot, error) {
			return mask(resp)
		})
	}
	if lb.MaxBodyBytes > 0 {
		truncate := strategy.TruncateBody(lb.MaxBodyBytes)
		request = append(request, strategy.ForRequest(truncate))
		response = append(response, strategy.ForResponse(truncate))
	}
	if lb.CorrelationHeader != "" {
		response = append(response, strategy.CorrelationHeader(lb.CorrelationHeader))
	}

	if len(request) == 0 && len(response) == 0 {
		return base, nil
	}
	return strategy.Filtered(base, request, response), nil
}

// buildSink assembles the sink from lb. The returned closer is non-nil when
// the sink owns a file.
func buildSink(lb config.Logbook, logger zerolog.Logger) (sink.Sink, io.Closer, error) {
	level, err := zerolog.ParseLevel(lb.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logbook level: %w", err)
	}

	switch lb.Sink {
	case "structured":
		return sink.NewStructured(logger, level), nil, nil
	case "", "default":
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", lb.Sink)
	}

	formatter, err := sink.ParseFormatter(lb.Formatter)
	if err != nil {
		return nil, nil, err
	}

	switch lb.Writer {
	case "", "log":
		return sink.NewDefault(formatter, sink.NewLogWriter(logger, level)), nil, nil
	case "file":
		w, err := sink.NewFileWriter(sink.FileOptions{
			Path:       lb.File.Path,
			MaxSizeMB:  lb.File.MaxSizeMB,
			MaxBackups: lb.File.MaxBackups,
			MaxAgeDays: lb.File.MaxAgeDays,
			Compress:   lb.File.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		return sink.NewDefault(formatter, w), w, nil
	default:
		return nil, nil, fmt.Errorf("unknown writer %q", lb.Writer)
	}
}

// buildCorrelator wires strategy, sink, metrics and failure policy into a
// correlator.
func buildCorrelator(lb config.Logbook, reg prometheus.Registerer) (*exchange.Correlator, io.Closer, error) {
	s, err := buildStrategy(lb)
	if err != nil {
		return nil, nil, fmt.Errorf("logbook strategy: %w", err)
	}
	policy, err := exchange.ParsePolicy(lb.FailurePolicy)
	if err != nil {
		return nil, nil, err
	}
	table, err := exchange.NewTable(lb.CompletedCapacity)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := exchange.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}

	out, closer, err := buildSink(lb, log.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logbook sink: %w", err)
	}

	c, err := exchange.New(out,
		exchange.WithStrategy(s),
		exchange.WithPolicy(policy),
		exchange.WithTable(table),
		exchange.WithMetrics(metrics),
	)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}

	log.Info().
		Str("strategy", lb.Strategy).
		Str("sink", lb.Sink).
		Str("formatter", lb.Formatter).
		Str("writer", lb.Writer).
		Str("failure_policy", policy.String()).
		Msg("Traffic logging configured")
	return c, closer, nil
}
