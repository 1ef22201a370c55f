// Package logging adapts github.com/sirupsen/logrus to the small Logger
// interface every voxcore package depends on, so core packages never import
// logrus directly.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging seam shared by pkg/engine, pkg/eventbus,
// pkg/session, pkg/remoteai and pkg/speaker.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// LogrusLogger implements Logger over a *logrus.Logger, treating the
// trailing args as alternating key/value pairs the way logrus.WithFields
// expects.
type LogrusLogger struct {
	entry *logrus.Entry
}

// New builds a LogrusLogger writing JSON-formatted entries to stderr at the
// given level name ("debug", "info", "warn", "error"). An unrecognized
// level falls back to info.
func New(levelName string) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// NewWithLogger wraps an already-configured *logrus.Logger, e.g. one the
// host application shares across several subsystems.
func NewWithLogger(l *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// WithField returns a LogrusLogger scoped to an extra persistent field,
// useful for tagging a session ID onto every log line a SessionManager
// instance emits.
func (l *LogrusLogger) WithField(key string, value interface{}) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *LogrusLogger) fields(args []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(l.fields(args)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(l.fields(args)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(l.fields(args)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(l.fields(args)).Error(msg)
}
