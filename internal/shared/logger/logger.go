// Package logger provides the structured Logger used across rxfirestore,
// backed by logrus (default) or zap.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"rxfirestore/internal/shared/contextkeys"

	"github.com/sirupsen/logrus"
)

const (
	formatJSON = "json"
	backendZap = "zap"

	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Logger defines the interface for structured logging operations
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// LogrusLogger implements the Logger interface using logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// New builds a logger for the named backend ("logrus" or "zap"). Empty
// level and format fall back to LOG_LEVEL and LOG_FORMAT; ENVIRONMENT=prod
// or production forces JSON. Entries go to stderr.
func New(backend, level, format string) Logger {
	level, format = resolve(level, format)
	if backend == backendZap {
		return newZapLogger(level, format, os.Stderr)
	}
	return newLogrusLogger(level, format, os.Stderr)
}

// NewLogger creates a logrus logger configured from the environment.
func NewLogger() Logger {
	return New("", "", "")
}

func resolve(level, format string) (string, string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	switch strings.ToLower(os.Getenv("ENVIRONMENT")) {
	case "production", "prod":
		format = formatJSON
	}
	return strings.ToLower(level), strings.ToLower(format)
}

func newLogrusLogger(level, format string, out io.Writer) *LogrusLogger {
	logger := logrus.New()
	logger.SetOutput(out)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == formatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}
	return &LogrusLogger{entry: logrus.NewEntry(logger)}
}

func (l *LogrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *LogrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *LogrusLogger) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *LogrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// WithFields adds structured fields to the logger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext adds the request-scoped values known to contextkeys
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	fields := logrus.Fields{}
	for name, value := range contextFields(ctx) {
		fields[name] = value
	}
	return &LogrusLogger{entry: l.entry.WithFields(fields)}
}

// WithComponent adds component name to the logger
func (l *LogrusLogger) WithComponent(component string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("component", component)}
}

// contextKeyFields maps context keys to the field names they are logged under
var contextKeyFields = []struct {
	key   interface{}
	field string
}{
	{contextkeys.RequestIDKey, "request_id"},
	{contextkeys.UserIDKey, "user_id"},
	{contextkeys.ComponentKey, "component"},
	{contextkeys.OperationKey, "operation"},
	{contextkeys.PathKey, "path"},
}

// contextFields extracts the non-empty string values known to the logger
func contextFields(ctx context.Context) map[string]string {
	fields := make(map[string]string)
	if ctx == nil {
		return fields
	}
	for _, kf := range contextKeyFields {
		if val, ok := ctx.Value(kf.key).(string); ok && val != "" {
			fields[kf.field] = val
		}
	}
	return fields
}
