package config

import (
	"github.com/caarlos0/env/v11"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

// EnvPrefix prefixes every environment variable read into Settings.
const EnvPrefix = "COREKIT_"

// Settings are the process-level knobs read from the environment before any
// configuration file is loaded.
type Settings struct {
	ConfigPath   string               `env:"CONFIG" envDefault:"config.yaml"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	AdminAddr    string               `env:"ADMIN_ADDR"`
	OTLPEndpoint string               `env:"OTLP_ENDPOINT"`
	ServiceName  string               `env:"SERVICE_NAME" envDefault:"corekit"`
}

// LoadSettings parses Settings from COREKIT_* variables.
func LoadSettings() (Settings, error) {
	return LoadSettingsFrom(nil)
}

// LoadSettingsFrom parses Settings from the given variables instead of the
// process environment when environ is non-nil.
func LoadSettingsFrom(environ map[string]string) (Settings, error) {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	s, err := env.ParseAsWithOptions[Settings](opts)
	if err != nil {
		return Settings{}, errors.ErrConfigError("parse env", err)
	}
	return s, nil
}
