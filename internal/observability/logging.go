// Package observability provides structured logging setup and formatted
// output utilities for the simulate command.
package observability

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger creates the engine logger. Text format uses the console writer;
// json emits machine-readable lines for serve mode.
func NewLogger(format, level string) zerolog.Logger {
	var out io.Writer = os.Stderr
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	switch level {
	case "debug":
		return logger.Level(zerolog.DebugLevel)
	case "warn":
		return logger.Level(zerolog.WarnLevel)
	case "error":
		return logger.Level(zerolog.ErrorLevel)
	}
	return logger.Level(zerolog.InfoLevel)
}
