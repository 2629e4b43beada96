// Package logger configures the process logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with the debug flag used across the service.
type Logger struct {
	debug bool
	*logrus.Logger
}

// New creates a logger writing to stderr.
func New(debug bool, format string) *Logger {
	return NewWithWriter(debug, format, os.Stderr)
}

// NewWithWriter creates a logger writing to w. Debug lowers the level to
// debug; format "json" selects the JSON formatter, anything else text.
func NewWithWriter(debug bool, format string, w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{debug: debug, Logger: l}
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *Logger {
	return NewWithWriter(false, "text", io.Discard)
}

// DebugEnabled reports whether debug logging is enabled.
func (l *Logger) DebugEnabled() bool {
	return l.debug
}

// Or returns fl, or a discarding logger when fl is nil.
func Or(fl logrus.FieldLogger) logrus.FieldLogger {
	if fl == nil {
		return Discard()
	}
	return fl
}
