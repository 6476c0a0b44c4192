package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errors2 "github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/startup"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const baseYAML = `
database:
  dsn: file:base.db
  max_open_conns: 4
startup_tasks:
  ConfigurationTask:
    enabled: true
app:
  name: ${COREKIT_TEST_APP}
  tags: [a, b]
`

func TestLoad_DottedGetAndEnvExpansion(t *testing.T) {
	t.Setenv("COREKIT_TEST_APP", "todo")
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file:base.db", cfg.Get("database.dsn", nil))
	assert.Equal(t, 4, cfg.Int("database.max_open_conns", 0))
	assert.Equal(t, "todo", cfg.String("app.name", ""))
	assert.Equal(t, []any{"a", "b"}, cfg.Get("app.tags", nil))
	assert.Equal(t, "fallback", cfg.Get("database.missing.deeper", "fallback"))
	assert.Equal(t, "fallback", cfg.Get("database.dsn.deeper", "fallback"))
	assert.True(t, cfg.Has("startup_tasks.ConfigurationTask"))
	assert.Equal(t, []string{path}, cfg.Files())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, errors2.ErrConfigErrorSentinel)
}

func TestLoad_LaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", baseYAML)
	override := writeFile(t, dir, "override.yaml", "database:\n  dsn: file:override.db\n")

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "file:override.db", cfg.String("database.dsn", ""))
	assert.Equal(t, 4, cfg.Int("database.max_open_conns", 0))
}

func TestSection_ReturnsCopy(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.LoadBytes([]byte(baseYAML)))

	section := cfg.Section("database")
	require.NotNil(t, section)
	section["dsn"] = "changed"

	assert.Equal(t, "file:base.db", cfg.String("database.dsn", ""))
	assert.Nil(t, cfg.Section("database.dsn"))
	assert.Nil(t, cfg.Section("missing"))
}

func TestSetMergeSub(t *testing.T) {
	cfg := New()
	cfg.Set("startup_tasks.SeedTask.count", 3)
	cfg.Merge(map[string]any{"startup_tasks": map[string]any{"SeedTask": map[string]any{"enabled": false}}})

	assert.Equal(t, map[string]any{"count": 3, "enabled": false}, cfg.Section("startup_tasks.SeedTask"))

	sub := cfg.Sub("startup_tasks")
	assert.Equal(t, 3, sub.Int("SeedTask.count", 0))
	assert.Equal(t, []string{"SeedTask"}, sub.Keys())

	sub.Set("SeedTask.count", 9)
	assert.Equal(t, 3, cfg.Int("startup_tasks.SeedTask.count", 0))
}

type dbSettings struct {
	DSN          string `yaml:"dsn" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

func TestDecode_Validates(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.LoadBytes([]byte(baseYAML)))

	var db dbSettings
	require.NoError(t, cfg.Decode("database", &db))
	assert.Equal(t, dbSettings{DSN: "file:base.db", MaxOpenConns: 4}, db)

	var empty dbSettings
	err := cfg.Decode("missing", &empty)
	assert.ErrorIs(t, err, errors2.ErrValidationErrorSentinel)
}

func TestMapSource(t *testing.T) {
	src := MapSource{"startup_tasks": map[string]any{"A": map[string]any{"enabled": false}}}

	assert.Equal(t, map[string]any{"enabled": false}, src.Section("startup_tasks.A"))
	assert.Nil(t, src.Section("startup_tasks.B"))
	assert.Equal(t, 1, src.Get("missing", 1))
}

func TestLoadSettingsFrom(t *testing.T) {
	s, err := LoadSettingsFrom(map[string]string{
		"COREKIT_CONFIG":     "/etc/corekit.yaml",
		"COREKIT_LOG_LEVEL":  "debug",
		"COREKIT_ADMIN_ADDR": ":9090",
	})
	require.NoError(t, err)

	assert.Equal(t, "/etc/corekit.yaml", s.ConfigPath)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "console", s.Logging.Format)
	assert.Equal(t, ":9090", s.AdminAddr)
	assert.Equal(t, "corekit", s.ServiceName)
}

func TestConfigurationTask_LoadsExtraFiles(t *testing.T) {
	dir := t.TempDir()
	extra := writeFile(t, dir, "extra.yaml", "features:\n  beta: true\n")

	cfg := New()
	task := NewConfigurationTask(cfg, nil)
	require.NoError(t, task.Configure(startup.Config{"paths": []any{extra, filepath.Join(dir, "absent.yaml")}}))

	require.NoError(t, task.Execute(context.Background()))

	assert.Equal(t, ConfigurationTaskOrder, task.Order())
	assert.True(t, cfg.Bool("features.beta", false))
	assert.Equal(t, []string{extra}, task.Loaded())
}

func TestConfigurationTask_RequiredMissingFails(t *testing.T) {
	cfg := New()
	task := NewConfigurationTask(cfg, nil)
	require.NoError(t, task.Configure(startup.Config{"path": filepath.Join(t.TempDir(), "absent.yaml"), "required": true}))

	assert.Error(t, task.Execute(context.Background()))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "value: 1\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan int, 16)
	require.NoError(t, cfg.Watch(ctx, func(c *Config) { changed <- c.Int("value", 0) }))

	require.NoError(t, os.WriteFile(path, []byte("value: 2\n"), 0o600))

	// a truncating write may surface an intermediate empty read first
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-changed:
			if v == 2 {
				return
			}
		case <-deadline:
			t.Fatal("configuration change not observed")
		}
	}
}

func TestWatch_NoFiles(t *testing.T) {
	assert.Error(t, New().Watch(context.Background(), nil))
}
