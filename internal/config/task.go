package config

import (
	"context"
	"os"

	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/startup"
)

// ConfigurationTaskOrder runs configuration loading ahead of other tasks.
const ConfigurationTaskOrder = 10

// ConfigurationTask merges extra YAML files into the engine configuration.
// Its section accepts "path" or "paths" and "required" (default false);
// missing optional files are skipped with a warning.
type ConfigurationTask struct {
	startup.Base

	cfg    *Config
	logger logger.Logger
	loaded []string
}

func NewConfigurationTask(cfg *Config, l logger.Logger) *ConfigurationTask {
	return &ConfigurationTask{cfg: cfg, logger: logger.OrNoop(l)}
}

func (t *ConfigurationTask) Order() int {
	return ConfigurationTaskOrder
}

func (t *ConfigurationTask) Execute(ctx context.Context) error {
	section := t.Config()
	paths := section.Strings("paths")
	if p := section.String("path", ""); p != "" {
		paths = append([]string{p}, paths...)
	}
	required := section.Bool("required", false)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(p); os.IsNotExist(err) && !required {
			t.logger.Warn("optional configuration file missing", logger.String("path", p))
			continue
		}
		if err := t.cfg.LoadFile(p); err != nil {
			return err
		}
		t.loaded = append(t.loaded, p)
	}
	return nil
}

// Loaded returns the files merged by Execute.
func (t *ConfigurationTask) Loaded() []string {
	return append([]string(nil), t.loaded...)
}

// Manifest lists the exports of this package for discovery.
func Manifest() discovery.Module {
	return discovery.Module{
		Name:    "github.com/xraph/corekit/internal/config",
		Version: "1",
		Exports: []any{NewConfigurationTask},
	}
}

func init() {
	discovery.Register(Manifest())
}
