// Traffic Logging Demo Server
//
// This is the main entry point for the demo server. It serves a handful of
// synchronous and asynchronous endpoints and logs every HTTP exchange as one
// request/response record, including exchanges that span several dispatches.
//
// Usage:
//
//	HTTP_LOGGING=true LOGBOOK_FILE=logbook.toml go run ./cmd/api
//
// Environment Variables:
//   - LISTEN_ADDR: Address to listen on (default: ":8080")
//   - LOG_LEVEL: Application log level (default: "info")
//   - LOG_FORMAT: "console" or "json" (default: "console")
//   - HTTP_LOGGING: Log HTTP exchanges (default: false)
//   - ENABLE_PPROF: Serve /debug/pprof (default: false)
//   - ASYNC_TIMEOUT: How long a deferred exchange may wait (default: "30s")
//   - LOGBOOK_FILE: TOML file configuring traffic logging
package main

import (
	"os"

	"trafficlog/internal/config"
	"trafficlog/internal/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			os.Stdout.WriteString(err.Error() + "\n")
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg)

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error setting up server")
	}
	defer srv.Close()

	if err := srv.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}
