// Package monitoring holds the process-level logger and the log stream
// selection shared by the command line tools.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Streams are the three writers handed to each engine package's
// SetLogWriters. A nil writer disables that stream.
type Streams struct {
	Ops   io.Writer // actionable warnings, skipped units, data loss
	Diag  io.Writer // per-unit diagnostics
	Trace io.Writer // per-record detail
}

// Verbosity levels accepted by StreamsFor.
const (
	LevelQuiet = "quiet"
	LevelOps   = "ops"
	LevelDiag  = "diag"
	LevelTrace = "trace"
)

// StreamsFor returns the streams enabled at the given verbosity, all
// writing to w.
func StreamsFor(level string, w io.Writer) (Streams, error) {
	switch strings.ToLower(level) {
	case LevelQuiet:
		return Streams{}, nil
	case LevelOps, "":
		return Streams{Ops: w}, nil
	case LevelDiag:
		return Streams{Ops: w, Diag: w}, nil
	case LevelTrace:
		return Streams{Ops: w, Diag: w, Trace: w}, nil
	default:
		return Streams{}, fmt.Errorf("unknown log level %q (want quiet, ops, diag or trace)", level)
	}
}
