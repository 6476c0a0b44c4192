package data

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/resilience"
	"github.com/xraph/corekit/internal/startup"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedisClient(t)
	repo := NewRedisRepository[*note](client, "test")

	created, err := repo.Create(ctx, &note{Title: "cache me"})
	require.NoError(t, err)
	assert.True(t, srv.Exists(repo.Key()))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cache me", got.Title)

	_, err = repo.Create(ctx, &note{BaseEntity: BaseEntity{ID: created.ID}})
	assert.ErrorIs(t, err, ErrConflict)

	got.Done = true
	_, err = repo.Update(ctx, got)
	require.NoError(t, err)

	_, err = repo.Update(ctx, &note{BaseEntity: BaseEntity{ID: "ghost"}})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), ErrNotFound)
}

func TestRedisRepository_ListSortedByID(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClient(t)
	repo := NewRedisRepository[*note](client, "")

	for _, id := range []string{"c", "a", "b"} {
		_, err := repo.Create(ctx, &note{BaseEntity: BaseEntity{ID: id}, Done: id != "b"})
		require.NoError(t, err)
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	done, err := repo.Find(ctx, func(n *note) bool { return n.Done })
	require.NoError(t, err)
	assert.Len(t, done, 2)
	assert.Contains(t, repo.Key(), DefaultRedisPrefix+":")
}

func TestRedisTask_DisabledByDefault(t *testing.T) {
	task := NewRedisTask(di.New(), nil)
	require.NoError(t, task.Configure(startup.Config{}))
	assert.False(t, task.Enabled())
	assert.Equal(t, RedisTaskOrder, task.Order())
}

func TestRedisTask_ConnectsAndRegistersClient(t *testing.T) {
	srv := miniredis.RunT(t)
	reg := di.New()
	task := NewRedisTask(reg, nil)

	require.NoError(t, task.Configure(startup.Config{"enabled": true, "addr": srv.Addr()}))
	require.True(t, task.Enabled())
	require.NoError(t, task.Execute(context.Background()))

	client, err := di.Resolve[*redis.Client](reg)
	require.NoError(t, err)
	assert.Same(t, task.Client(), client)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())

	require.NoError(t, task.Cleanup(context.Background()))
	assert.Nil(t, task.Client())
}

func TestRedisTask_InvalidAddress(t *testing.T) {
	task := NewRedisTask(di.New(), nil)
	err := task.Configure(startup.Config{"enabled": true, "addr": "not an address"})
	assert.Error(t, err)
}

func TestRedisTask_RetriesThenFails(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	task := NewRedisTask(di.New(), nil)
	require.NoError(t, task.Configure(startup.Config{
		"enabled":          true,
		"addr":             addr,
		"timeout":          "200ms",
		"connect_attempts": 2,
		"connect_backoff":  "1ms",
	}))

	err := task.Execute(context.Background())
	var retryErr *resilience.RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 2, retryErr.Attempts)
	assert.Contains(t, err.Error(), "failed to ping redis")
	assert.Nil(t, task.Client())
}
