package startup

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// DefaultOrder is the order of a task that does not override Order.
const DefaultOrder = 100

// Task is one unit of staged startup. Tasks run once, sequentially, in
// ascending Order; ties keep the order in which tasks were added.
type Task interface {
	Order() int
	Enabled() bool
	Configure(cfg Config) error
	Execute(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Named lets a task choose its own name instead of its type name.
type Named interface {
	Name() string
}

// NameOf returns the task's name: Name() when implemented, otherwise the
// name of its concrete type without package or pointer.
func NameOf(t Task) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	rt := reflect.TypeOf(t)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Name()
}

// SectionSource yields the configuration section of a task by name.
type SectionSource interface {
	Section(name string) map[string]any
}

// Config is the configuration section handed to a task.
type Config map[string]any

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Config) String(key, def string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

func (c Config) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case int:
		return v != 0
	}
	return def
}

func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	}
	return def
}

func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// Base supplies the default task behaviour: order DefaultOrder, enabled
// unless disabled, and an "enabled" key in the task's section overriding
// that. Embed it and override what differs.
type Base struct {
	disabled bool
	config   Config
}

func (b *Base) Order() int {
	return DefaultOrder
}

func (b *Base) Enabled() bool {
	return !b.disabled
}

// SetEnabled changes the default before configuration is applied.
func (b *Base) SetEnabled(enabled bool) {
	b.disabled = !enabled
}

func (b *Base) Configure(cfg Config) error {
	b.config = cfg
	if cfg.Has("enabled") {
		b.disabled = !cfg.Bool("enabled", !b.disabled)
	}
	return nil
}

// Config returns the section received by Configure.
func (b *Base) Config() Config {
	if b.config == nil {
		return Config{}
	}
	return b.config
}

func (b *Base) Execute(ctx context.Context) error {
	return nil
}

func (b *Base) Cleanup(ctx context.Context) error {
	return nil
}
