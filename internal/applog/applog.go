// Package applog provides a leveled wrapper around the standard
// library logger, matching the "[component] message" convention used
// throughout the reference agent runtime.
package applog

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag, e.g. "[storage]".
type Logger struct {
	std *log.Logger
	tag string
}

// New creates a Logger writing to stderr with the given component tag.
func New(component string) *Logger {
	return &Logger{
		std: log.New(os.Stderr, "", log.LstdFlags),
		tag: "[" + component + "] ",
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(l.tag+format, args...)
}

func (l *Logger) Println(args ...any) {
	all := make([]any, 0, len(args)+1)
	all = append(all, l.tag)
	all = append(all, args...)
	l.std.Println(all...)
}

// Warn logs a recoverable condition; it is a distinct method from
// Printf purely for readability at call sites.
func (l *Logger) Warn(format string, args ...any) {
	l.Printf("warning: "+format, args...)
}
