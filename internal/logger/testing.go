package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries in memory so tests can assert on them.
type TestLogger struct {
	Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a debug-level logger backed by an in-memory observer.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger: &logger{zap: zap.New(core)},
		logs:   logs,
	}
}

// Messages returns the messages logged at level, oldest first.
func (t *TestLogger) Messages(level zapcore.Level) []string {
	var out []string
	for _, e := range t.logs.FilterLevelExact(level).All() {
		out = append(out, e.Message)
	}
	return out
}

// Entries returns all recorded entries with their fields.
func (t *TestLogger) Entries() []observer.LoggedEntry {
	return t.logs.All()
}

// Count returns how many entries carry msg.
func (t *TestLogger) Count(msg string) int {
	return t.logs.FilterMessage(msg).Len()
}
