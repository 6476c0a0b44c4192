package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/xraph/corekit/internal/logger"
)

const (
	// DefaultDriver is the database/sql driver registered by modernc.org/sqlite.
	DefaultDriver = "sqlite"
	// MemoryDSN is a shared in-memory database, used when no DSN is configured.
	MemoryDSN = "file:corekit?mode=memory&cache=shared"
)

// DatabaseConfig is the "database" configuration section.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"omitempty,oneof=sqlite"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

func (c DatabaseConfig) withDefaults() DatabaseConfig {
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.DSN == "" {
		c.DSN = MemoryDSN
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	// an in-memory database lives only as long as one of its connections
	if c.ConnMaxLifetime == 0 && c.DSN != MemoryDSN {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// InMemory reports whether the configuration falls back to memory.
func (c DatabaseConfig) InMemory() bool {
	return c.withDefaults().DSN == MemoryDSN
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DbContext owns the database handle. It is registered as a placeholder
// singleton and opened by the database schema task.
type DbContext struct {
	mu     sync.RWMutex
	db     *sql.DB
	cfg    DatabaseConfig
	logger logger.Logger
}

func NewDbContext(l logger.Logger) *DbContext {
	return &DbContext{logger: logger.OrNoop(l)}
}

// Open connects with cfg and verifies the connection. Opening an open
// context is a no-op.
func (c *DbContext) Open(ctx context.Context, cfg DatabaseConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	cfg = cfg.withDefaults()
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	c.db = db
	c.cfg = cfg
	c.logger.Info("database opened",
		logger.String("driver", cfg.Driver),
		logger.Bool("in_memory", cfg.DSN == MemoryDSN),
	)
	return nil
}

// Attach adopts an existing handle instead of opening one.
func (c *DbContext) Attach(db *sql.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
}

func (c *DbContext) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db != nil
}

// DB returns the handle or ErrNotOpen.
func (c *DbContext) DB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ErrNotOpen
	}
	return c.db, nil
}

// Config returns the configuration used by Open.
func (c *DbContext) Config() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

const documentsSchema = `CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, id)
)`

// EnsureSchema creates the documents table when missing.
func (c *DbContext) EnsureSchema(ctx context.Context) error {
	db, err := c.DB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Close releases the handle. Closing a closed context is a no-op.
func (c *DbContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.logger.Info("database closed")
	return err
}

// Dispose closes the context when the registry disposes singletons.
func (c *DbContext) Dispose(ctx context.Context) error {
	return c.Close()
}
