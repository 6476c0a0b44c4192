package data

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/startup"
)

// DefaultRedisPrefix prefixes every hash written by RedisRepository.
const DefaultRedisPrefix = "corekit"

// RedisRepository stores entities as JSON fields of one redis hash per
// entity type.
type RedisRepository[E Entity] struct {
	client redis.Cmdable
	key    string
	now    func() time.Time
}

// NewRedisRepository returns a repository writing to "<prefix>:<entity type>".
func NewRedisRepository[E Entity](client redis.Cmdable, prefix string) *RedisRepository[E] {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRepository[E]{
		client: client,
		key:    prefix + ":" + di.TypeID(reflect.TypeFor[E]()),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Key is the redis hash holding the entities.
func (r *RedisRepository[E]) Key() string {
	return r.key
}

func (r *RedisRepository[E]) EntityType() reflect.Type {
	return reflect.TypeFor[E]()
}

func (r *RedisRepository[E]) Create(ctx context.Context, entity E) (E, error) {
	var zero E
	prepare(entity, r.now())
	body, err := json.MarshalToString(entity)
	if err != nil {
		return zero, err
	}
	ok, err := r.client.HSetNX(ctx, r.key, entity.GetID(), body).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to create in %s: %w", r.key, err)
	}
	if !ok {
		return zero, fmt.Errorf("%w: %s %s", ErrConflict, r.key, entity.GetID())
	}
	return entity, nil
}

func (r *RedisRepository[E]) Get(ctx context.Context, id string) (E, error) {
	var zero E
	body, err := r.client.HGet(ctx, r.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, r.key, id)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get from %s: %w", r.key, err)
	}
	return r.decode(body)
}

func (r *RedisRepository[E]) decode(body string) (E, error) {
	var zero E
	t := reflect.TypeFor[E]()
	ptr := newInstance(t)
	if err := json.UnmarshalFromString(body, ptr); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", r.key, err)
	}
	return deref(t, ptr).(E), nil
}

func (r *RedisRepository[E]) Update(ctx context.Context, entity E) (E, error) {
	var zero E
	exists, err := r.client.HExists(ctx, r.key, entity.GetID()).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to update in %s: %w", r.key, err)
	}
	if !exists {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, r.key, entity.GetID())
	}
	prepare(entity, r.now())
	body, err := json.MarshalToString(entity)
	if err != nil {
		return zero, err
	}
	if err := r.client.HSet(ctx, r.key, entity.GetID(), body).Err(); err != nil {
		return zero, fmt.Errorf("failed to update in %s: %w", r.key, err)
	}
	return entity, nil
}

func (r *RedisRepository[E]) Delete(ctx context.Context, id string) error {
	n, err := r.client.HDel(ctx, r.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, r.key, id)
	}
	return nil
}

// List returns all entities ordered by ID.
func (r *RedisRepository[E]) List(ctx context.Context) ([]E, error) {
	return r.Find(ctx, nil)
}

func (r *RedisRepository[E]) Find(ctx context.Context, match Predicate[E]) ([]E, error) {
	values, err := r.client.HVals(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.key, err)
	}
	out := make([]E, 0, len(values))
	for _, body := range values {
		e, err := r.decode(body)
		if err != nil {
			return nil, err
		}
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b E) int { return cmp.Compare(a.GetID(), b.GetID()) })
	return out, nil
}

var _ Repository[*BaseEntity] = (*RedisRepository[*BaseEntity])(nil)

// RedisConfig is the RedisTask configuration section.
type RedisConfig struct {
	Addr     string `validate:"required,hostname_port"`
	Password string
	DB       int `validate:"gte=0,lte=15"`
	Timeout  time.Duration
}

func redisConfigFrom(cfg startup.Config) RedisConfig {
	return RedisConfig{
		Addr:     cfg.String("addr", "localhost:6379"),
		Password: cfg.String("password", ""),
		DB:       cfg.Int("db", 0),
		Timeout:  cfg.Duration("timeout", 5*time.Second),
	}
}

// RedisTaskOrder places the redis connection right after the database.
const RedisTaskOrder = 30

// RedisTask connects a redis client and registers it as a singleton under
// the *redis.Client key. It is disabled unless enabled in configuration.
type RedisTask struct {
	startup.Base

	registry *di.Registry
	logger   logger.Logger
	client   *redis.Client
}

func NewRedisTask(registry *di.Registry, l logger.Logger) *RedisTask {
	t := &RedisTask{registry: registry, logger: logger.OrNoop(l)}
	t.SetEnabled(false)
	return t
}

func (t *RedisTask) Order() int {
	return RedisTaskOrder
}

func (t *RedisTask) Configure(cfg startup.Config) error {
	if err := t.Base.Configure(cfg); err != nil {
		return err
	}
	if !t.Enabled() {
		return nil
	}
	rc := redisConfigFrom(cfg)
	if err := validate.Struct(rc); err != nil {
		return errors.ErrValidationError("redis", err)
	}
	return nil
}

func (t *RedisTask) Execute(ctx context.Context) error {
	rc := redisConfigFrom(t.Config())
	client := redis.NewClient(&redis.Options{
		Addr:        rc.Addr,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: rc.Timeout,
	})

	retry := connectRetry("redis", t.Config(), 3, t.logger)
	err := retry.Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping redis at %s: %w", rc.Addr, err)
	}

	if err := di.RegisterValue(t.registry, client); err != nil {
		_ = client.Close()
		return err
	}
	t.client = client
	t.logger.Info("redis connected", logger.String("addr", rc.Addr), logger.Int("db", rc.DB))
	return nil
}

// Client returns the connected client, nil before Execute.
func (t *RedisTask) Client() *redis.Client {
	return t.client
}

func (t *RedisTask) Cleanup(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.logger.Info("redis closed")
	return err
}
