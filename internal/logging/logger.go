// File: internal/logging/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured logging for the connection table. The level comes from the
// LOG_LEVEL environment variable; when it is unset or unknown logging is
// disabled entirely.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LevelFromEnv maps LOG_LEVEL to a zerolog level.
func LevelFromEnv() zerolog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a level name to a zerolog level; unknown names disable logging.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
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
		return zerolog.Disabled
	}
}

// New returns a console logger on stdout tagged with component.
func New(component string) zerolog.Logger {
	return NewWithWriter(os.Stdout, LevelFromEnv(), component)
}

// NewWithWriter returns a console logger writing to out at level.
func NewWithWriter(out io.Writer, level zerolog.Level, component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	if level <= zerolog.DebugLevel {
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
	}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
