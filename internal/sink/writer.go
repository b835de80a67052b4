package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter writes records as zerolog events at a fixed level.
type LogWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogWriter writes through logger at level.
func NewLogWriter(logger zerolog.Logger, level zerolog.Level) *LogWriter {
	return &LogWriter{logger: logger, level: level}
}

// Active reports whether an event at the configured level would be emitted.
func (w *LogWriter) Active() bool {
	return enabled(w.logger, w.level)
}

func (w *LogWriter) Write(c Correlation, text string) error {
	w.logger.WithLevel(w.level).
		Str("correlation", c.ID).
		Msg(text)
	return nil
}

func enabled(l zerolog.Logger, level zerolog.Level) bool {
	if level == zerolog.Disabled {
		return false
	}
	return level >= l.GetLevel() && level >= zerolog.GlobalLevel()
}

// FileOptions configure a rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileWriter appends one record per exchange to a rotating file.
type FileWriter struct {
	mu     sync.Mutex
	out    io.WriteCloser
	closed bool
}

// NewFileWriter opens a lumberjack-rotated file described by opts.
func NewFileWriter(opts FileOptions) (*FileWriter, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("file writer: empty path")
	}
	return &FileWriter{out: &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}}, nil
}

func (w *FileWriter) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}

func (w *FileWriter) Write(_ Correlation, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("file writer: closed")
	}
	if _, err := io.WriteString(w.out, text+"\n"); err != nil {
		return fmt.Errorf("file writer: %w", err)
	}
	return nil
}

// Close closes the file. Later writes fail and Active reports false.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.out.Close()
}
