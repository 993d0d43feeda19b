// Package observ sets up structured logging for the service.
package observ

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger. Component loggers derive from it via
// logger.With().Str("component", name).
func NewLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}
