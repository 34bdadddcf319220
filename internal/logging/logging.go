package logging

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or pretty
	File   string // optional file sink; stdout when empty
}

// New creates a structured logger.
//
// Features:
//   - Structured JSON output (Loki-compatible)
//   - Optional console format for interactive use
//   - Optional log file sink
//   - Timestamp and caller information on every line
func New(cfg Config) (zerolog.Logger, error) {
	var output io.Writer = os.Stdout
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = f
	}

	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "fleetwatch").
		Logger()

	return logger, nil
}

// RecoverPanic is a helper for goroutine panic recovery that logs but does
// not exit. Used in the outer loop of each pipeline component so that only an
// explicit termination signal stops the process.
//
// Example:
//
//	defer logging.RecoverPanic(logger, "processor", map[string]any{"url": ev.SourceURL})
func RecoverPanic(logger zerolog.Logger, component string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("component", component).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))

		for k, v := range fields {
			event = event.Interface(k, v)
		}

		event.Msg("Panic recovered, component loop continuing")
	}
}
