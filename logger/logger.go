// Package logger provides a thread-safe, levelled logger used throughout
// pncore to report context lifecycle events, transaction state transitions,
// and subscribe engine status changes. It wraps logrus the way the
// surrounding pack's logging packages do: a small façade over a
// *logrus.Logger so call sites never import logrus directly. Per the error
// handling design, logging is strictly observational: it reports the final
// outcome of a transaction but never influences control flow.
package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits state-machine transitions and wire-level detail.
	LevelDebug Level = iota
	// LevelInfo emits context/transaction lifecycle and subscribe status events.
	LevelInfo
	// LevelError emits only terminal transaction failures.
	LevelError
)

func (l Level) toLogrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is a structured, levelled logger backed by logrus.
//
// Thread-safety: Logger guards its *logrus.Logger with a sync.RWMutex
// (SetLevel takes the write lock, logging calls the read lock), and logrus
// serialises writes to its output with its own mutex.
type Logger struct {
	mu  sync.RWMutex
	log *logrus.Logger
}

// New creates a Logger that writes text-formatted entries (with full
// timestamps) to stderr at the
// given minimum level.
func New(level Level) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(level.toLogrus())
	return &Logger{log: l}
}

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.SetLevel(level.toLogrus())
}

// WithField returns a logrus entry pre-populated with key, letting callers
// attach context (context id, channel name, transaction state) without the
// facade growing a method per field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.log.WithField(key, value)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) {
	l.entry().Info(msg)
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) {
	l.entry().Error(msg)
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) {
	l.entry().Debug(msg)
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

func (l *Logger) entry() *logrus.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return logrus.NewEntry(l.log)
}
