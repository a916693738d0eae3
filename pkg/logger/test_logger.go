package logger

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Entry is one record captured by a TestLogger
type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Err     error
}

// recorder is shared by a TestLogger and every logger derived from it
type recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// TestLogger records entries in memory so tests can assert on what a
// component logged. Loggers returned by WithField, WithFields and WithError
// write to the same record.
type TestLogger struct {
	rec    *recorder
	fields map[string]interface{}
	err    error
}

// NewTestLogger creates an empty TestLogger
func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &recorder{}}
}

func (l *TestLogger) derive(fields map[string]interface{}, err error) *TestLogger {
	return &TestLogger{rec: l.rec, fields: l.merge(fields), err: err}
}

func (l *TestLogger) merge(extra map[string]interface{}) map[string]interface{} {
	if len(l.fields) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (l *TestLogger) record(level, msg string, fields map[string]interface{}) {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	l.rec.entries = append(l.rec.entries, Entry{
		Level:   level,
		Message: msg,
		Fields:  l.merge(fields),
		Err:     l.err,
	})
}

func (l *TestLogger) Debug(msg string) { l.record("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.record("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.record("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.record("ERROR", msg, nil) }

// Fatal records the entry without exiting
func (l *TestLogger) Fatal(msg string) { l.record("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.record("DEBUG", msg, fields)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.record("INFO", msg, fields)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.record("WARN", msg, fields)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.record("ERROR", msg, fields)
}

func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.record("FATAL", msg, fields)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value}, l.err)
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields, l.err)
}

func (l *TestLogger) WithError(err error) Logger {
	return l.derive(nil, err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger { return l }

// GetZerolog returns a disabled zerolog logger
func (l *TestLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

// Entries returns a copy of everything recorded so far
func (l *TestLogger) Entries() []Entry {
	return l.filter(func(Entry) bool { return true })
}

// ByLevel returns the entries recorded at level ("DEBUG", "INFO", ...)
func (l *TestLogger) ByLevel(level string) []Entry {
	return l.filter(func(e Entry) bool { return e.Level == level })
}

// MessagesContaining returns the entries whose message contains substr
func (l *TestLogger) MessagesContaining(substr string) []Entry {
	return l.filter(func(e Entry) bool { return strings.Contains(e.Message, substr) })
}

// HasMessage reports whether an entry with exactly this message exists
func (l *TestLogger) HasMessage(msg string) bool {
	return len(l.filter(func(e Entry) bool { return e.Message == msg })) > 0
}

// HasError reports whether anything was recorded at ERROR level
func (l *TestLogger) HasError() bool {
	return len(l.ByLevel("ERROR")) > 0
}

// Reset drops every recorded entry
func (l *TestLogger) Reset() {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	l.rec.entries = nil
}

func (l *TestLogger) filter(keep func(Entry) bool) []Entry {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()

	var out []Entry
	for _, e := range l.rec.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
