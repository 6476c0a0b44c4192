package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

// Source is the read side of configuration seen by the engine and tasks.
type Source interface {
	Get(key string, def any) any
	Section(name string) map[string]any
}

// Config holds configuration merged from YAML files and programmatic values.
// Keys are addressed with dots: "database.dsn".
type Config struct {
	mu       sync.RWMutex
	data     map[string]any
	files    []string
	logger   logger.Logger
	validate *validator.Validate
}

type Option func(*Config)

func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.logger = logger.OrNoop(l) }
}

// WithValidator replaces the validator used by Decode and Validate.
func WithValidator(v *validator.Validate) Option {
	return func(c *Config) {
		if v != nil {
			c.validate = v
		}
	}
}

// New returns an empty configuration.
func New(opts ...Option) *Config {
	c := &Config{
		data:     make(map[string]any),
		logger:   logger.NewNoopLogger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads each file in order into a new configuration. Later files
// override earlier ones key by key.
func Load(paths ...string) (*Config, error) {
	c := New()
	for _, p := range paths {
		if err := c.LoadFile(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadFile merges a YAML file into the configuration. ${VAR} references in
// string values are expanded from the environment.
func (c *Config) LoadFile(path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	mergeInto(c.data, data)
	if !slices.Contains(c.files, path) {
		c.files = append(c.files, path)
	}
	c.mu.Unlock()

	c.logger.Info("configuration loaded", logger.String("path", path), logger.Int("keys", len(data)))
	return nil
}

// LoadBytes merges YAML content into the configuration.
func (c *Config) LoadBytes(content []byte) error {
	data, err := parse(content)
	if err != nil {
		return errors.ErrConfigError("failed to parse configuration", err)
	}
	c.Merge(data)
	return nil
}

func readFile(path string) (map[string]any, error) {
	// nolint:gosec // G304: path comes from application configuration
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrConfigError("configuration file not found: "+path, err)
		}
		return nil, errors.ErrConfigError("failed to read file "+path, err)
	}
	data, err := parse(content)
	if err != nil {
		return nil, errors.ErrConfigError("failed to parse file "+path, err)
	}
	return data, nil
}

func parse(content []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return expandMap(raw), nil
}

func expandMap(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for key, value := range data {
		result[key] = expandValue(value)
	}
	return result
}

// expandValue expands environment references and normalizes nested maps.
func expandValue(value any) any {
	switch v := value.(type) {
	case string:
		return os.ExpandEnv(v)
	case map[string]any:
		return expandMap(v)
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, item := range v {
			m[fmt.Sprint(k)] = expandValue(item)
		}
		return m
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = expandValue(item)
		}
		return result
	default:
		return value
	}
}

// mergeInto deep-merges src into dst; maps merge, everything else replaces.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			fresh := make(map[string]any, len(srcMap))
			mergeInto(fresh, srcMap)
			dst[key] = fresh
			continue
		}
		dst[key] = value
	}
}

func lookup(data map[string]any, key string) (any, bool) {
	if key == "" {
		return data, true
	}
	var current any = data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	default:
		return value
	}
}

// Get returns the value at a dotted key, or def when any segment is missing.
func (c *Config) Get(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := lookup(c.data, key); ok {
		return copyValue(v)
	}
	return def
}

// Has reports whether a dotted key is present.
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := lookup(c.data, key)
	return ok
}

func (c *Config) String(key, def string) string {
	switch v := c.Get(key, nil).(type) {
	case nil:
		return def
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (c *Config) Int(key string, def int) int {
	switch v := c.Get(key, nil).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c *Config) Bool(key string, def bool) bool {
	if v, ok := c.Get(key, nil).(bool); ok {
		return v
	}
	return def
}

// Section returns a copy of the map at name, or nil when name is missing or
// not a map.
func (c *Config) Section(name string) map[string]any {
	m, _ := c.Get(name, nil).(map[string]any)
	return m
}

// Sub returns a detached configuration rooted at prefix.
func (c *Config) Sub(prefix string) *Config {
	sub := New(WithLogger(c.logger), WithValidator(c.validate))
	if m := c.Section(prefix); m != nil {
		sub.data = m
	}
	return sub
}

// Set stores value at a dotted key, creating intermediate maps.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.Split(key, ".")
	current := c.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = expandValue(value)
}

// Merge deep-merges values into the configuration.
func (c *Config) Merge(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mergeInto(c.data, expandMap(values))
}

// AllSettings returns a copy of the whole tree.
func (c *Config) AllSettings() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyValue(c.data).(map[string]any)
}

// Keys returns the sorted top-level keys.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.data))
}

// Files returns the files loaded so far, in load order.
func (c *Config) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.files...)
}

// Decode copies the section at key into out using yaml tags, then validates
// out when it is a struct.
func (c *Config) Decode(key string, out any) error {
	value := c.Get(key, nil)
	if value != nil {
		raw, err := yaml.Marshal(value)
		if err != nil {
			return errors.ErrConfigError("failed to encode section "+key, err)
		}
		if err := yaml.Unmarshal(raw, out); err != nil {
			return errors.ErrConfigError("failed to decode section "+key, err)
		}
	}
	return c.Validate(out)
}

// Validate runs struct validation tags on v. Non-struct values pass.
func (c *Config) Validate(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return errors.ErrValidationError(fields[0].Namespace(), err)
	}
	return errors.ErrValidationError("", err)
}

// replace swaps the whole tree, used on reload.
func (c *Config) replace(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
}

// MapSource is a Source over a plain map, handy in tests.
type MapSource map[string]any

func (m MapSource) Get(key string, def any) any {
	if v, ok := lookup(m, key); ok {
		return v
	}
	return def
}

func (m MapSource) Section(name string) map[string]any {
	v, _ := m.Get(name, nil).(map[string]any)
	return v
}

var (
	_ Source = (*Config)(nil)
	_ Source = MapSource(nil)
)
