// Package logging sets up the zerolog logger shared by all exporter components.
//
// Every line is JSON on stderr by default so that stdout stays reserved for the
// CLI's user-facing messages. Components derive their logger from the global one
// via NewLogger and add their own fields:
//
//	run_id                     one export run (set once in Setup)
//	component                  jobs-client, rate-limiter, csv-writer, cli
//	page, total_pages, offset  pagination position
//	status, error_class        failed request classification
//	attempt, backoff           retry schedule
//	path, rows, columns        written table
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is the minimum severity written.
type LogLevel string

const (
	// LevelDebug adds cache hits, request URLs and short-page notices.
	LevelDebug LogLevel = "debug"
	// LevelInfo adds run start, per-page progress and the written table.
	LevelInfo LogLevel = "info"
	// LevelWarn adds retries, breaker transitions and cache fallbacks.
	LevelWarn LogLevel = "warn"
	// LevelError only reports aborted runs.
	LevelError LogLevel = "error"
)

var levels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
func ParseLevel(s string) (LogLevel, error) {
	l := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if l == "warning" {
		l = LevelWarn
	}
	if _, ok := levels[l]; !ok {
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
	return l, nil
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel
	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool
	// Output defaults to os.Stderr.
	Output io.Writer
	// RunID is attached to every line as run_id when set.
	RunID string
}

// DefaultConfig returns info-level JSON logging to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs the configured logger as the zerolog global and returns it.
// An unknown level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = LevelInfo
	}
	zerolog.SetGlobalLevel(levels[level])

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lctx := zerolog.New(out).With().Timestamp()
	if cfg.RunID != "" {
		lctx = lctx.Str("run_id", cfg.RunID)
	}

	log.Logger = lctx.Logger()
	return log.Logger
}

// NewLogger derives a component logger from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
