package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console zerolog logger writing to out (stderr when nil) at the
// given level (debug, info, warn, error).
func New(level string, out io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if out == nil {
		out = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	logger := zerolog.New(output).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// Nop returns a logger that discards everything.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// ParseLevel maps a level name to a zerolog level; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
