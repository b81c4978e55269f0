// Package logging provides the process-wide zerolog setup shared by every
// foldercache component.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	base = zerolog.New(io.Discard).With().Timestamp().Logger()
)

// Init configures the global base logger. level is one of
// debug/info/warn/error (case-insensitive, defaults to info on anything
// else); format "console" selects a human-readable writer, anything else
// (including the empty string) keeps newline-delimited JSON; output is
// "stdout", "stderr", or a file path.
func Init(level, format, output string) error {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		w = f
	}

	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(parseLevel(level))
	base = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a logger tagged with a "component" field, the
// convention every foldercache package logs under.
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", name).Logger()
}
