package data

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/resilience"
	"github.com/xraph/corekit/internal/startup"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DatabaseSchemaTaskOrder runs after configuration is loaded.
const DatabaseSchemaTaskOrder = 20

// DatabaseSchemaTask opens the DbContext from the "database" configuration
// section and creates the documents table. Keys in the task's own section
// override the database section. Cleanup closes the context.
type DatabaseSchemaTask struct {
	startup.Base

	db     *DbContext
	cfg    *config.Config
	logger logger.Logger
}

func NewDatabaseSchemaTask(db *DbContext, cfg *config.Config, l logger.Logger) *DatabaseSchemaTask {
	return &DatabaseSchemaTask{db: db, cfg: cfg, logger: logger.OrNoop(l)}
}

func (t *DatabaseSchemaTask) Order() int {
	return DatabaseSchemaTaskOrder
}

// DatabaseConfig returns the effective database configuration.
func (t *DatabaseSchemaTask) DatabaseConfig() (DatabaseConfig, error) {
	merged := config.New()
	merged.Merge(map[string]any{"database": t.cfg.Section("database")})
	if overrides := t.Config(); len(overrides) > 0 {
		section := make(map[string]any, len(overrides))
		for k, v := range overrides {
			if k != "enabled" && !strings.HasPrefix(k, "connect_") {
				section[k] = v
			}
		}
		merged.Merge(map[string]any{"database": section})
	}

	var dc DatabaseConfig
	if err := merged.Decode("database", &dc); err != nil {
		return DatabaseConfig{}, err
	}
	return dc, nil
}

func (t *DatabaseSchemaTask) Execute(ctx context.Context) error {
	dc, err := t.DatabaseConfig()
	if err != nil {
		return err
	}
	if dc.InMemory() {
		t.logger.Warn("no database dsn configured, using in-memory database")
	}
	retry := connectRetry("database", t.Config(), 1, t.logger)
	if err := retry.Do(ctx, func(ctx context.Context) error {
		return t.db.Open(ctx, dc)
	}); err != nil {
		return err
	}
	if err := t.db.EnsureSchema(ctx); err != nil {
		return err
	}
	t.logger.Info("database schema ready")
	return nil
}

func (t *DatabaseSchemaTask) Cleanup(ctx context.Context) error {
	return t.db.Close()
}

// connectRetry reads connect_attempts, connect_backoff and
// connect_strategy from a task section.
func connectRetry(name string, cfg startup.Config, attempts int, l logger.Logger) *resilience.Retry {
	rc := resilience.DefaultRetryConfig(name)
	rc.MaxAttempts = cfg.Int("connect_attempts", attempts)
	rc.InitialDelay = cfg.Duration("connect_backoff", rc.InitialDelay)
	rc.BackoffStrategy = resilience.ParseBackoffStrategy(cfg.String("connect_strategy", "exponential"))
	rc.MaxDelay = max(rc.MaxDelay, rc.InitialDelay)
	return resilience.NewRetry(rc, l)
}

// Manifest lists the exports of this package for discovery.
func Manifest() discovery.Module {
	return discovery.Module{
		Name:    "github.com/xraph/corekit/internal/data",
		Version: "1",
		Exports: []any{NewDatabaseSchemaTask, NewRedisTask},
	}
}

func init() {
	discovery.Register(Manifest())
}
