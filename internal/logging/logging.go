// Package logging builds the zerolog loggers used by the tracker and peer
// binaries. Every line carries a timestamp and the emitting component.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a logger writing to stderr in the given format.
func New(format, component string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stderr, format, component)
}

// NewWithWriter returns a logger writing to w in the given format.
func NewWithWriter(w io.Writer, format, component string) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "ts"

	var out io.Writer
	switch format {
	case FormatConsole, "":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	case FormatJSON:
		out = w
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(out).With().Timestamp().Str("component", component).Logger(), nil
}
