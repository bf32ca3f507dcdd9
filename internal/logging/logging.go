// Package logging provides Stepwright's logging infrastructure built on
// charmbracelet/log.
//
// Every component obtains a prefixed child logger from New and logs structured
// key/value pairs. All log output goes to stderr so stdout stays reserved for
// workflow output (events, graph dumps, JSON).
//
// Usage:
//
//	// During CLI initialization (PersistentPreRun):
//	logging.Setup(verbose, quiet, jsonFormat)
//
//	// In each package:
//	var logger = logging.New("engine")
//	logger.Info("step started", "step", "build")
//
// Setup must run before New: charmbracelet/log child loggers copy the default
// logger's settings at creation time, so loggers created earlier do not pick
// up later configuration changes.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases for charmbracelet/log levels, re-exported so callers do not
// need to import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// Setup configures the global logging defaults. Call once during CLI
// initialization.
//
//   - verbose: sets level to Debug
//   - quiet: sets level to Error (quiet wins over verbose so scripted runs
//     stay silent regardless of other flags)
//   - jsonFormat: switches to the NDJSON formatter for log aggregation
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. The returned logger
// inherits the global level and output settings at creation time. An empty
// component produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful in tests, where output is captured with a bytes.Buffer; restore the
// original writer with t.Cleanup.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
