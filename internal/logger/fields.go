package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Field represents a structured log field
type Field interface {
	Key() string
	Value() any
	// ZapField returns the underlying zap.Field for efficient conversion
	ZapField() zap.Field
}

// ZapField wraps a zap.Field and implements the Field interface
type ZapField struct {
	zapField zap.Field
}

func (f ZapField) Key() string {
	return f.zapField.Key
}

func (f ZapField) Value() any {
	if f.zapField.Interface != nil {
		return f.zapField.Interface
	}
	if f.zapField.String != "" {
		return f.zapField.String
	}
	return f.zapField.Integer
}

func (f ZapField) ZapField() zap.Field {
	return f.zapField
}

var (
	String = func(key, val string) Field {
		return ZapField{zap.String(key, val)}
	}

	Int = func(key string, val int) Field {
		return ZapField{zap.Int(key, val)}
	}

	Int64 = func(key string, val int64) Field {
		return ZapField{zap.Int64(key, val)}
	}

	Bool = func(key string, val bool) Field {
		return ZapField{zap.Bool(key, val)}
	}

	Duration = func(key string, val time.Duration) Field {
		return ZapField{zap.Duration(key, val)}
	}

	Time = func(key string, val time.Time) Field {
		return ZapField{zap.Time(key, val)}
	}

	Error = func(err error) Field {
		return ZapField{zap.Error(err)}
	}

	Any = func(key string, val any) Field {
		return ZapField{zap.Any(key, val)}
	}

	Strings = func(key string, val []string) Field {
		return ZapField{zap.Strings(key, val)}
	}
)

// Domain fields
var (
	Service = func(key string) Field {
		return String("service", key)
	}

	Lifetime = func(lifetime string) Field {
		return String("lifetime", lifetime)
	}

	Task = func(name string) Field {
		return String("task", name)
	}

	Order = func(order int) Field {
		return Int("order", order)
	}

	Module = func(name string) Field {
		return String("module", name)
	}

	ScopeID = func(id string) Field {
		return String("scope_id", id)
	}
)

type contextKey int

const (
	scopeIDKey contextKey = iota
	requestIDKey
)

// WithScopeID stores a scope id for ContextFields.
func WithScopeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scopeIDKey, id)
}

// WithRequestID stores a request id for ContextFields.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts the well-known fields stored in ctx.
func ContextFields(ctx context.Context) []Field {
	var fields []Field
	if id, ok := ctx.Value(scopeIDKey).(string); ok && id != "" {
		fields = append(fields, ScopeID(id))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, String("request_id", id))
	}
	return fields
}

func fieldsToZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	zapFields := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if f == nil {
			continue
		}
		zapFields = append(zapFields, f.ZapField())
	}
	return zapFields
}
