package logger

import (
	"fmt"
	"sync"
)

// Entry is one log record dispatched to the default logger and every
// registered Sink.
type Entry struct {
	Level   Level
	Message string
	Fields  map[string]interface{}
}

// Sink is a registerable destination for log entries. It generalizes the
// logger manager's linked list of pubnub_logger_t vtables (each a set of
// optional trace/debug/info/warn/error function pointers) into a single
// method: a sink filters on Entry.Level itself instead of being asked
// per-level whether it implements that callback.
type Sink interface {
	Log(Entry)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Entry)

// Log implements Sink.
func (f SinkFunc) Log(e Entry) { f(e) }

// loggerSink adapts a *Logger to Sink so it can serve as a Manager's
// default logger.
type loggerSink struct{ l *Logger }

func (s loggerSink) Log(e Entry) {
	entry := s.l.entry()
	for k, v := range e.Fields {
		entry = entry.WithField(k, v)
	}
	switch e.Level {
	case LevelDebug:
		entry.Debug(e.Message)
	case LevelError:
		entry.Error(e.Message)
	default:
		entry.Info(e.Message)
	}
}

// Manager is a registry of log sinks guarded by its own mutex (§5: "The
// logger manager has its own mutex guarding its linked list of sinks"),
// grounded on pbcc_logger_manager_t: a default logger is always dispatched
// to first, any number of additionally registered sinks follow it, and a
// minimum level gates every dispatch before a caller builds a payload
// (mirrors pbcc_logger_manager_t's should_log).
type Manager struct {
	mu    sync.Mutex
	level Level
	def   Sink
	sinks []Sink
}

// NewManager creates a Manager whose default logger is def, dispatching at
// the given minimum level. def may be nil if only additional sinks will
// ever be registered.
func NewManager(def *Logger, level Level) *Manager {
	m := &Manager{level: level}
	if def != nil {
		m.def = loggerSink{def}
	}
	return m
}

// SetLevel changes the manager's minimum dispatch level.
func (m *Manager) SetLevel(level Level) {
	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
}

// Level returns the manager's current minimum dispatch level.
func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// ShouldLog reports whether a message at level would be dispatched to any
// sink, letting a caller skip formatting an expensive payload.
func (m *Manager) ShouldLog(level Level) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return level >= m.level
}

// AddSink registers an additional sink. The default logger set at
// construction always stays first in line (pbcc_logger_manager.c keeps the
// default logger at the head of its list on every add/remove); sinks added
// here are dispatched to after it, in registration order.
func (m *Manager) AddSink(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// RemoveSink removes a previously added sink by identity, if present.
func (m *Manager) RemoveSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.sinks {
		if existing == s {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			return
		}
	}
}

// RemoveAllSinks clears every registered sink, leaving the default logger
// in place.
func (m *Manager) RemoveAllSinks() {
	m.mu.Lock()
	m.sinks = nil
	m.mu.Unlock()
}

// dispatch delivers one entry to the default logger and every registered
// sink, in that order, if level passes the manager's minimum.
func (m *Manager) dispatch(level Level, message string, fields map[string]interface{}) {
	if !m.ShouldLog(level) {
		return
	}
	m.mu.Lock()
	def := m.def
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()

	e := Entry{Level: level, Message: message, Fields: fields}
	if def != nil {
		def.Log(e)
	}
	for _, s := range sinks {
		s.Log(e)
	}
}

// Info, Infof, Error, Errorf, Debug, and Debugf dispatch an unscoped entry
// (no WithField context) to every registered sink.
func (m *Manager) Info(msg string)                          { m.dispatch(LevelInfo, msg, nil) }
func (m *Manager) Infof(format string, args ...interface{})  { m.dispatch(LevelInfo, fmt.Sprintf(format, args...), nil) }
func (m *Manager) Error(msg string)                          { m.dispatch(LevelError, msg, nil) }
func (m *Manager) Errorf(format string, args ...interface{}) { m.dispatch(LevelError, fmt.Sprintf(format, args...), nil) }
func (m *Manager) Debug(msg string)                          { m.dispatch(LevelDebug, msg, nil) }
func (m *Manager) Debugf(format string, args ...interface{}) { m.dispatch(LevelDebug, fmt.Sprintf(format, args...), nil) }

// WithField returns a Fielded entry builder carrying key=value, mirroring
// Logger.WithField so call sites built around Manager look the same as the
// ones built directly around Logger.
func (m *Manager) WithField(key string, value interface{}) *Fielded {
	return &Fielded{mgr: m, fields: map[string]interface{}{key: value}}
}

// Fielded carries a set of fields through to the eventual dispatch call,
// the Manager equivalent of a logrus.Entry.
type Fielded struct {
	mgr    *Manager
	fields map[string]interface{}
}

func (f *Fielded) Info(msg string)  { f.mgr.dispatch(LevelInfo, msg, f.fields) }
func (f *Fielded) Infof(format string, args ...interface{}) {
	f.mgr.dispatch(LevelInfo, fmt.Sprintf(format, args...), f.fields)
}
func (f *Fielded) Error(msg string) { f.mgr.dispatch(LevelError, msg, f.fields) }
func (f *Fielded) Errorf(format string, args ...interface{}) {
	f.mgr.dispatch(LevelError, fmt.Sprintf(format, args...), f.fields)
}
func (f *Fielded) Debug(msg string) { f.mgr.dispatch(LevelDebug, msg, f.fields) }
func (f *Fielded) Debugf(format string, args ...interface{}) {
	f.mgr.dispatch(LevelDebug, fmt.Sprintf(format, args...), f.fields)
}
