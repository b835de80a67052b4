// Package config handles configuration loading from flags, environment
// variables and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the address:port the server listens on.
	ListenAddr string `long:"listen" env:"LISTEN_ADDR" default:":8080" description:"Address to listen on"`

	// LogLevel is the minimum level of application logs.
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level (trace, debug, info, warn, error)"`

	// LogFormat selects console or json application logs.
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"console" choice:"console" choice:"json" description:"Application log format"`

	// HttpLogging enables the traffic logging middleware.
	HttpLogging bool `long:"http-logging" env:"HTTP_LOGGING" description:"Log HTTP exchanges"`

	// EnablePprof mounts /debug/pprof.
	EnablePprof bool `long:"pprof" env:"ENABLE_PPROF" description:"Serve pprof endpoints"`

	// AsyncTimeout bounds how long a deferred exchange waits to be resumed.
	AsyncTimeout time.Duration `long:"async-timeout" env:"ASYNC_TIMEOUT" default:"30s" description:"Timeout for deferred exchanges"`

	// LogbookFile is an optional TOML file with the traffic logging setup.
	LogbookFile string `long:"logbook" env:"LOGBOOK_FILE" description:"Path to a TOML traffic logging file"`

	Logbook Logbook `no-flag:"true"`
}

// Logbook configures what gets logged and where.
type Logbook struct {
	// Sink is "default" (formatter + writer) or "structured".
	Sink string `toml:"sink"`
	// Formatter is "json" or "http"; used by the default sink.
	Formatter string `toml:"formatter"`
	// Writer is "log" or "file"; used by the default sink.
	Writer string `toml:"writer"`
	// Level is the level records are logged at.
	Level string `toml:"level"`

	Strategy      string   `toml:"strategy"`
	MinStatus     int      `toml:"min_status"`
	MaskHeaders   []string `toml:"mask_headers"`
	MaskJSONPaths []string `toml:"mask_json_paths"`
	MaxBodyBytes  int      `toml:"max_body_bytes"`
	// CorrelationHeader is copied from the request onto the logged response.
	CorrelationHeader string `toml:"correlation_header"`
	// FailurePolicy is "fail-exchange" or "log-only".
	FailurePolicy     string `toml:"failure_policy"`
	CompletedCapacity int    `toml:"completed_capacity"`

	File File `toml:"file"`
}

// File configures the rotating file writer.
type File struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DefaultLogbook logs every exchange as JSON through the application logger.
func DefaultLogbook() Logbook {
	return Logbook{
		Sink:          "default",
		Formatter:     "json",
		Writer:        "log",
		Level:         "info",
		Strategy:      "default",
		MaskHeaders:   []string{"Authorization", "Cookie", "Set-Cookie"},
		FailurePolicy: "fail-exchange",
		File: File{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load parses args (without the program name) on top of environment
// variables and defaults, then reads the logbook file if one is set.
func Load(args []string) (*Config, error) {
	cfg := &Config{Logbook: DefaultLogbook()}

	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.LogbookFile != "" {
		if err := cfg.loadLogbook(cfg.LogbookFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// IsHelp reports whether err is the --help request.
func IsHelp(err error) bool {
	var ferr *flags.Error
	return errors.As(err, &ferr) && ferr.Type == flags.ErrHelp
}

func (c *Config) loadLogbook(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read logbook file: %w", err)
	}
	if err := toml.Unmarshal(data, &c.Logbook); err != nil {
		return fmt.Errorf("parse logbook file %s: %w", path, err)
	}
	return nil
}
