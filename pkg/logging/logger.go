// Package logging configures the global zerolog logger used by every
// package of the client.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace additionally logs every admission decision.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentClient         = "ac-client"
	ComponentRateLimit      = "ratelimit"
	ComponentPagination     = "pagination"
	ComponentActiveCampaign = "activecampaign"
	ComponentExport         = "ac-export"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// NoColor disables ANSI colours in pretty output, e.g. when Output is
	// a file or a buffer.
	NoColor bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Call it before constructing
// clients: components derive their loggers from the global one when they
// are created.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a configured level name.
func ParseLevel(s string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError:
		return level, nil
	case "warning":
		return LevelWarn, nil
	case "":
		return LevelInfo, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level, falling back to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Trace: admission bookkeeping
//   - Guard admissions (occupancy, wait)
//
// Debug: Detailed information for debugging
//   - Every executed request (method, target)
//   - Worker start/stop and pages processed
//   - Tag association removals
//
// Info: Normal operation events
//   - Completed collection fetches (elements, duration)
//   - Requests that succeeded after retries
//   - Export start/finish
//
// Warn: Warning conditions that don't prevent operation
//   - Failed attempts that will be retried
//   - Cancelled fetches
//   - Page failures before the fetch is aborted
//
// Error: Error conditions requiring attention
//   - Exhausted retry budgets
//   - Aborted fetches (page error, collection changed)
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (see Component constants)
//   - endpoint: first path segment of the request target
//   - error_class: client, server, rate_limit, network, unexpected
//   - attempt / backoff: retry state
//   - fetch_id / resource / worker_id / offset: collection fetch state
//   - guard / wait: admission state
