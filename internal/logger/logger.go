package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger represents the logging interface
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
	Fatalf(template string, args ...any)

	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	Named(name string) Logger

	Sync() error
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" envDefault:"info"`
	Format      string `yaml:"format" env:"LOG_FORMAT" envDefault:"console"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" envDefault:"development"`
	Output      string `yaml:"output" env:"LOG_OUTPUT" envDefault:"stdout"`
}

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// logger implements the Logger interface using zap
type logger struct {
	zap *zap.Logger
}

// noopLogger implements Logger interface but does nothing
type noopLogger struct{}

// ParseLevel maps a textual level to a zap level. Unknown values map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config LoggingConfig) Logger {
	level := ParseLevel(config.Level)

	if config.Environment == "production" || config.Format == "json" {
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(level)
		if config.Output != "" && config.Output != "stdout" {
			zapConfig.OutputPaths = []string{config.Output}
		} else {
			zapConfig.OutputPaths = []string{"stdout"}
		}
		zapLogger, err := zapConfig.Build(zap.AddCallerSkip(1))
		if err != nil {
			return &logger{zap: createDevelopmentLogger(level)}
		}
		return &logger{zap: zapLogger}
	}

	return &logger{zap: createDevelopmentLogger(level)}
}

// NewDevelopmentLogger creates a development logger with colored output
func NewDevelopmentLogger() Logger {
	return &logger{zap: createDevelopmentLogger(zapcore.DebugLevel)}
}

// NewNoopLogger creates a logger that does nothing
func NewNoopLogger() Logger {
	return &noopLogger{}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		return NewNoopLogger()
	}
	return &logger{zap: z}
}

func createDevelopmentLogger(level zapcore.Level) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(level),
	)

	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func (l *logger) Debug(msg string, fields ...Field) {
	l.zap.Debug(msg, fieldsToZap(fields)...)
}

func (l *logger) Info(msg string, fields ...Field) {
	l.zap.Info(msg, fieldsToZap(fields)...)
}

func (l *logger) Warn(msg string, fields ...Field) {
	l.zap.Warn(msg, fieldsToZap(fields)...)
}

func (l *logger) Error(msg string, fields ...Field) {
	l.zap.Error(msg, fieldsToZap(fields)...)
}

func (l *logger) Fatal(msg string, fields ...Field) {
	l.zap.Fatal(msg, fieldsToZap(fields)...)
}

func (l *logger) Debugf(template string, args ...any) {
	l.zap.Debug(fmt.Sprintf(template, args...))
}

func (l *logger) Infof(template string, args ...any) {
	l.zap.Info(fmt.Sprintf(template, args...))
}

func (l *logger) Warnf(template string, args ...any) {
	l.zap.Warn(fmt.Sprintf(template, args...))
}

func (l *logger) Errorf(template string, args ...any) {
	l.zap.Error(fmt.Sprintf(template, args...))
}

func (l *logger) Fatalf(template string, args ...any) {
	l.zap.Fatal(fmt.Sprintf(template, args...))
}

func (l *logger) With(fields ...Field) Logger {
	return &logger{zap: l.zap.With(fieldsToZap(fields)...)}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return &logger{zap: l.zap.With(fieldsToZap(fields)...)}
	}
	return l
}

func (l *logger) Named(name string) Logger {
	return &logger{zap: l.zap.Named(name)}
}

func (l *logger) Sync() error {
	return l.zap.Sync()
}

func (l *noopLogger) Debug(msg string, fields ...Field)      {}
func (l *noopLogger) Info(msg string, fields ...Field)       {}
func (l *noopLogger) Warn(msg string, fields ...Field)       {}
func (l *noopLogger) Error(msg string, fields ...Field)      {}
func (l *noopLogger) Fatal(msg string, fields ...Field)      {}
func (l *noopLogger) Debugf(template string, args ...any)    {}
func (l *noopLogger) Infof(template string, args ...any)     {}
func (l *noopLogger) Warnf(template string, args ...any)     {}
func (l *noopLogger) Errorf(template string, args ...any)    {}
func (l *noopLogger) Fatalf(template string, args ...any)    {}
func (l *noopLogger) With(fields ...Field) Logger            { return l }
func (l *noopLogger) WithContext(ctx context.Context) Logger { return l }
func (l *noopLogger) Named(name string) Logger               { return l }
func (l *noopLogger) Sync() error                            { return nil }

// OrNoop returns l, or a noop logger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NewNoopLogger()
	}
	return l
}
