package polarhouse

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// PHLogger abstracts the underlying logging mechanism so callers can plug in
// their own logger. No logrus-specific details should leak through this
// interface.
type PHLogger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithFields(fields map[string]any) PHLogger
	SetLogLevel(level string) error
	SetOutput(output io.Writer)
}

var logger = createDefaultLogger()

// SetLogger replaces the package logger.
func SetLogger(l PHLogger) {
	logger = l
}

// GetLogger returns the package logger.
func GetLogger() PHLogger {
	return logger
}

type defaultLogger struct {
	inner *logrus.Logger
	entry *logrus.Entry
}

func createDefaultLogger() PHLogger {
	inner := logrus.New()
	inner.SetLevel(logrus.WarnLevel)
	return &defaultLogger{inner: inner, entry: logrus.NewEntry(inner)}
}

func (l *defaultLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *defaultLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *defaultLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *defaultLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *defaultLogger) WithFields(fields map[string]any) PHLogger {
	return &defaultLogger{inner: l.inner, entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *defaultLogger) SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	l.inner.SetLevel(parsed)
	return nil
}

func (l *defaultLogger) SetOutput(output io.Writer) {
	l.inner.SetOutput(output)
}
