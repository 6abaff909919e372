// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger so tests can capture or mute engine output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that prefixes every line with "[name] ".
// The returned function reads Logf on each call, so a later SetLogger still
// takes effect.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + strings.TrimSpace(name) + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
