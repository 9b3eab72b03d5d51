// Package applog is a thin tagging shim around the standard library
// log package: plain log.Printf/log.Fatalf, no structured-logging
// dependency.
package applog

import (
	"log"
	"os"
	"strconv"
)

// Logger prefixes every line with a fixed tag, letting the server loop
// attribute log output to a connection or stream id without pulling in
// a structured-logging library.
type Logger struct {
	std *log.Logger
}

// Default returns a Logger writing to stderr with the standard flags.
func Default() *Logger {
	return &Logger{std: log.New(os.Stderr, "", log.LstdFlags)}
}

// New returns a Logger with the given prefix, e.g. "apihttpd: ".
func New(prefix string) *Logger {
	return &Logger{std: log.New(os.Stderr, prefix, log.LstdFlags)}
}

// Printf logs a formatted line.
func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(format, args...)
}

// Fatalf logs a formatted line and exits the process, matching the
// teacher's log.Fatalf usage in its example binaries.
func (l *Logger) Fatalf(format string, args ...any) {
	l.std.Fatalf(format, args...)
}

// WithStream returns a Logger that tags every line with a connection's
// stream id, used by the server loop to attribute non-fatal admission
// and I/O conditions to the connection they came from.
func (l *Logger) WithStream(id int) *Logger {
	return &Logger{std: log.New(os.Stderr, "[stream "+strconv.Itoa(id)+"] ", log.LstdFlags)}
}
