// Package logging configures structured zerolog logging for the gallery services.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a minimum log level name as used in LOG_LEVEL.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLevel converts a level name (as read from LOG_LEVEL) to a LogLevel.
// Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// zerologLevel maps the level onto zerolog. Unknown levels log at info.
func (l LogLevel) zerologLevel() zerolog.Level {
	switch ParseLevel(string(l)) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Service is added as the "service" field of every entry when set.
	Service string

	// Pretty enables human-readable console output (default: JSON).
	Pretty bool

	// Caller adds the file:line of the log call.
	Caller bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Service: "gallery-pager",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Loggers from
// NewLogger created afterwards inherit its output and fields.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: page lifecycle
//   - Page load start (key, offset, limit)
//   - Page load finish (items, duration)
//   - Raw page cache hit/miss
//   - Cancelled page loads
//
// Info: service events
//   - Server startup/shutdown
//   - Store opened, schema ready
//   - Remote request succeeded after retry
//
// Warn: a page load failed but the process is healthy
//   - Fetch failures (storage or remote gallery unreachable)
//   - Decode failures (malformed payload, whole page dropped)
//   - Cache errors (fallback to the underlying fetcher)
//   - Retry attempts
//
// Error: conditions requiring attention
//   - Remote retries exhausted
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component (gallery-loader, gallery-cache, ...)
//   - key: page key
//   - offset, limit: fetch window
//   - items: decoded item count
//   - item_id, position: failing record
//   - duration: load duration
//   - request_id: HTTP request id (gallery-server)
