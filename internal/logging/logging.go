// Package logging builds the zerolog loggers of the commands and examples.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Params contains params for New. All fields are optional.
type Params struct {
	// Level is one of debug, info, warn, error; info if empty or unknown.
	Level string

	// Console selects human-readable output instead of JSON lines.
	Console bool

	// Out is stderr if nil.
	Out io.Writer
}

// New creates a logger tagged with component.
func New(component string, params *Params) zerolog.Logger {
	var p Params
	if params != nil {
		p = *params
	}

	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	if p.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		Level(ParseLevel(p.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel returns the zerolog level named by s, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
