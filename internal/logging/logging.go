// Package logging wires the service's structured logger. The teacher repo
// never wired one in (its LoggingMiddleware is an empty stub); this follows
// original_source's pervasive tracing::{info,warn,error}! usage, translated
// to zerolog's structured leveled-event idiom.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. level is one of zerolog's level
// strings ("debug", "info", "warn", "error"); pretty switches between
// console-friendly and JSON output.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
