// Package logger wraps logrus with the ACN service's logging conventions.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger so call sites share one configured instance.
type Logger struct {
	*logrus.Logger
}

// Config controls level/format/output for a Logger.
type Config struct {
	Level  string
	Format string
}

// New builds a Logger from Config, defaulting to info level, text format,
// stdout output when fields are blank or invalid.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

// NewDefault builds a Logger with sane defaults, tagged with a component name.
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text"})
	return &Logger{Logger: l.Logger.WithField("component", component).Logger}
}

// WithField returns a new log entry with one field attached.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with several fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
