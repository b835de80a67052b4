// Package server provides HTTP server setup, routing, and traffic logging.
package server

import (
	"io"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"trafficlog/internal/config"
	"trafficlog/internal/example"
	"trafficlog/internal/exchange"
	"trafficlog/internal/host"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	router     *http.ServeMux
	registry   *prometheus.Registry
	correlator *exchange.Correlator
	host       *host.Host
	closer     io.Closer
}

// New creates a new Server with all routes configured. With HTTP logging
// enabled it also builds the traffic logging pipeline.
func New(cfg *config.Config) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:      cfg,
		router:   http.NewServeMux(),
		registry: reg,
	}
	if cfg.HttpLogging {
		c, closer, err := buildCorrelator(cfg.Logbook, reg)
		if err != nil {
			return nil, err
		}
		s.correlator = c
		s.closer = closer
		s.host = host.New(c, cfg.AsyncTimeout)
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /api/sync", example.HandleSync)
	s.router.HandleFunc("GET /api/async", example.HandleAsync)
	s.router.HandleFunc("POST /api/echo", example.HandleEcho)
	s.router.HandleFunc("GET /api/stream", example.HandleStream)

	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	if s.cfg.EnablePprof {
		log.Info().Msg("Pprof enabled")
		s.router.HandleFunc("/debug/pprof/", pprof.Index)
		s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	if s.host != nil {
		log.Info().Msg("HTTP logging enabled")
		return s.host.Wrap(s.router)
	}
	return s.router
}

// Correlator returns the traffic logging correlator, nil when HTTP logging
// is off.
func (s *Server) Correlator() *exchange.Correlator {
	return s.correlator
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Info().
		Str("listen_addr", s.cfg.ListenAddr).Bool("http_logging", s.cfg.HttpLogging).
		Msg("Starting server")

	return http.ListenAndServe(s.cfg.ListenAddr, s.Handler())
}

// Close releases the traffic log file, if any.
func (s *Server) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
