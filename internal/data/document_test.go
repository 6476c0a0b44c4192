package data

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/corekit/internal/di"
	errors2 "github.com/xraph/corekit/internal/errors"
)

type note struct {
	BaseEntity
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func openTestDB(t *testing.T) *DbContext {
	t.Helper()
	db := NewDbContext(nil)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	require.NoError(t, db.Open(context.Background(), DatabaseConfig{DSN: dsn, MaxOpenConns: 1}))
	require.NoError(t, db.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDocumentRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository[*note](openTestDB(t))

	created, err := repo.Create(ctx, &note{Title: "write tests"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "write tests", got.Title)

	got.Done = true
	_, err = repo.Update(ctx, got)
	require.NoError(t, err)

	again, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, again.Done)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), ErrNotFound)
}

func TestDocumentRepository_ConflictAndMissingUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository[*note](openTestDB(t))

	_, err := repo.Create(ctx, &note{BaseEntity: BaseEntity{ID: "n1"}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &note{BaseEntity: BaseEntity{ID: "n1"}})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.Update(ctx, &note{BaseEntity: BaseEntity{ID: "ghost"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentRepository_ListAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository[*note](openTestDB(t))

	for i, title := range []string{"a", "b", "c"} {
		_, err := repo.Create(ctx, &note{BaseEntity: BaseEntity{ID: fmt.Sprintf("n%d", i)}, Title: title, Done: i%2 == 0})
		require.NoError(t, err)
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	done, err := repo.Find(ctx, func(n *note) bool { return n.Done })
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "n0", done[0].ID)
	assert.Equal(t, "n2", done[1].ID)
}

func TestDocumentStore_RejectsOtherTypes(t *testing.T) {
	store := NewDocumentStore(openTestDB(t), reflect.TypeFor[*note]())
	err := store.Insert(context.Background(), &BaseEntity{})
	assert.ErrorIs(t, err, errors2.ErrTypeMismatch)
}

func TestSession_RollbackOnDispose(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewDocumentRepository[*note](db)

	session := NewSession(db, nil)
	_, err := repo.WithSession(session).Create(ctx, &note{BaseEntity: BaseEntity{ID: "tx"}})
	require.NoError(t, err)
	assert.True(t, session.Active())

	require.NoError(t, session.Dispose(ctx))
	assert.False(t, session.Active())

	_, err = repo.Get(ctx, "tx")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = session.Querier(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_Commit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewDocumentRepository[*note](db)

	session := NewSession(db, nil)
	_, err := repo.WithSession(session).Create(ctx, &note{BaseEntity: BaseEntity{ID: "kept"}})
	require.NoError(t, err)
	require.NoError(t, session.Commit())
	require.NoError(t, session.Dispose(ctx))

	got, err := repo.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.ID)
	assert.ErrorIs(t, session.Commit(), ErrSessionClosed)
}

func TestSession_ScopedLifetime(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	reg := di.New()
	require.NoError(t, di.RegisterValue(reg, db))
	require.NoError(t, reg.Register(di.KeyOf[*Session](), func(r di.Resolver) (any, error) {
		d, err := di.Resolve[*DbContext](r)
		if err != nil {
			return nil, err
		}
		return NewSession(d, nil), nil
	}, di.Scoped))

	var session *Session
	err := reg.WithScope(ctx, func(ctx context.Context, s *di.Scope) error {
		var err error
		session, err = di.Resolve[*Session](s)
		if err != nil {
			return err
		}
		_, err = NewDocumentRepository[*note](db).WithSession(session).Create(ctx, &note{BaseEntity: BaseEntity{ID: "scoped"}})
		return err
	})
	require.NoError(t, err)
	assert.False(t, session.Active())

	_, err = NewDocumentRepository[*note](db).Get(ctx, "scoped")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDbContext_NotOpen(t *testing.T) {
	db := NewDbContext(nil)
	assert.False(t, db.IsOpen())
	_, err := db.DB()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, db.EnsureSchema(context.Background()), ErrNotOpen)
	assert.NoError(t, db.Close())

	_, err = NewDocumentRepository[*note](db).List(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestDocumentStore_SQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := NewDbContext(nil)
	db.Attach(sqlDB)

	repo := NewDocumentRepository[*note](db)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.store.now = func() time.Time { return fixed }

	kind := repo.Store().Kind()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocument)).
		WithArgs(kind, "n1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	mock.ExpectExec(regexp.QuoteMeta(insertDocument)).
		WithArgs(kind, "n1", sqlmock.AnyArg(), fixed.Format(time.RFC3339Nano), fixed.Format(time.RFC3339Nano)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteDocument)).
		WithArgs(kind, "n1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = repo.Create(context.Background(), &note{BaseEntity: BaseEntity{ID: "n1"}, Title: "mocked"})
	require.NoError(t, err)

	err = repo.Delete(context.Background(), "n1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseConfig_Defaults(t *testing.T) {
	assert.True(t, DatabaseConfig{}.InMemory())
	cfg := DatabaseConfig{DSN: "file:app.db"}.withDefaults()
	assert.Equal(t, DefaultDriver, cfg.Driver)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Zero(t, DatabaseConfig{}.withDefaults().ConnMaxLifetime)
}
