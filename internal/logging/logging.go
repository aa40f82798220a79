// Package logging builds the zerolog loggers used across hostshim.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/config"
)

// New creates a root logger writing to out (stderr when nil).
// Format "console" gives human-readable output, anything else JSON.
// The minimum level is process-wide; see ApplyLevel.
func New(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", "hostshim").
		Logger()
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// ApplyLevel sets the process-wide minimum level for every logger. It is
// called at startup and again when the config file changes.
func ApplyLevel(s string) zerolog.Level {
	level := ParseLevel(s)
	zerolog.SetGlobalLevel(level)
	return level
}
