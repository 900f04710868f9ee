package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger logs JSON to stdout, or human-readable lines when console is set.
// Unknown levels fall back to info.
func NewLogger(level string, console bool) zerolog.Logger {
	return New(os.Stdout, level, console)
}

func New(w io.Writer, level string, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(logLevel)
}
