package logger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xraph/corekit/internal/logger"
)

func TestNoopLogger(t *testing.T) {
	noopLog := logger.NewNoopLogger()

	noopLog.Debug("debug message")
	noopLog.Info("info message", logger.String("k", "v"))
	noopLog.Warnf("warn %v", true)
	noopLog.Errorf("error %s", "test")

	chained := noopLog.With(logger.String("k1", "v1")).
		WithContext(context.Background()).
		Named("chained")
	chained.Info("nothing")

	assert.NoError(t, noopLog.Sync())
}

func TestNewLogger_Formats(t *testing.T) {
	cases := []logger.LoggingConfig{
		{Level: "debug", Format: "console"},
		{Level: "warn", Format: "json"},
		{Level: "bogus", Environment: "production"},
	}
	for _, cfg := range cases {
		l := logger.NewLogger(cfg)
		require.NotNil(t, l)
		l.Debug("formatted", logger.Duration("elapsed", time.Millisecond))
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logger.ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, logger.ParseLevel(""))
}

func TestTestLogger_RecordsFields(t *testing.T) {
	tl := logger.NewTestLogger()

	tl.Named("di").With(logger.Service("db")).Warn("replaced", logger.Error(errors.New("boom")))
	tl.Info("hello")

	assert.Equal(t, []string{"replaced"}, tl.Messages(zapcore.WarnLevel))
	assert.Equal(t, 1, tl.Count("hello"))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "di", entries[0].LoggerName)
	assert.Equal(t, "db", entries[0].ContextMap()["service"])
}

func TestWithContext_AddsScopeFields(t *testing.T) {
	tl := logger.NewTestLogger()
	ctx := logger.WithScopeID(context.Background(), "scope-1")
	ctx = logger.WithRequestID(ctx, "req-9")

	tl.WithContext(ctx).Info("scoped")

	entries := tl.Entries()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "scope-1", fields["scope_id"])
	assert.Equal(t, "req-9", fields["request_id"])
}

func TestOrNoop(t *testing.T) {
	assert.NotNil(t, logger.OrNoop(nil))
	tl := logger.NewTestLogger()
	assert.Same(t, tl, logger.OrNoop(tl))
}
