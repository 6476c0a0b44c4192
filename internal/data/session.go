package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

var ErrSessionClosed = errors.New("session closed")

// Session is a unit of work registered with scoped lifetime. The
// transaction begins on first use; disposing the scope rolls it back unless
// Commit was called.
type Session struct {
	mu     sync.Mutex
	db     *DbContext
	tx     *sql.Tx
	done   bool
	logger logger.Logger
}

func NewSession(db *DbContext, l logger.Logger) *Session {
	return &Session{db: db, logger: logger.OrNoop(l)}
}

// Querier returns the session transaction, beginning it if needed.
func (s *Session) Querier(ctx context.Context) (Querier, error) {
	return s.begin(ctx)
}

func (s *Session) begin(ctx context.Context) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	db, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Active reports whether a transaction has begun and is still open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil && !s.done
}

// Commit commits the transaction. A session that never began commits
// nothing. The session cannot be used afterwards.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return ErrSessionClosed
	}
	s.done = true
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback abandons the transaction. Rolling back a finished session is a
// no-op.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}
	s.done = true
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	s.logger.Debug("session rolled back")
	return nil
}

// Dispose rolls back an uncommitted transaction.
func (s *Session) Dispose(ctx context.Context) error {
	return s.Rollback()
}
