// Package logging configures the process-wide zerolog logger and hands out
// component loggers derived from it.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output. Unknown names mean info.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service and Environment are attached to every event when set.
	Service     string
	Environment string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Levels lists the accepted level names.
func Levels() []LogLevel {
	return []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// Setup configures the global zerolog logger and returns it. Loggers derived
// from the global one (log.With(), NewLogger, ForResource) after Setup
// inherit its output and fields.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Environment != "" {
		ctx = ctx.Str("env", cfg.Environment)
	}

	log.Logger = ctx.Logger()
	return log.Logger
}

func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	for _, l := range Levels() {
		if string(l) == name {
			parsed, _ := zerolog.ParseLevel(name)
			return parsed
		}
	}
	return zerolog.InfoLevel
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForResource returns a component logger bound to one named resource, e.g.
// ForResource("breaker", "customers") logs component=breaker breaker=customers.
func ForResource(component, name string) zerolog.Logger {
	return log.With().Str("component", component).Str(component, name).Logger()
}

// Levels in use:
//
// Debug: cache hit/miss, breaker permission, page progress.
// Info: breaker closed again, success after retry, startup and shutdown.
// Warn: retries, breaker opened, rejected calls, stale values served,
// records that could not be transformed.
// Error: fetches failed after retries, startup and configuration errors.
//
// Common fields: component, adapter, breaker, endpoint, key, status,
// error_class, attempt, backoff, from, to.
