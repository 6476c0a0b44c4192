package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/data"
	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/discovery"
	errors2 "github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/startup"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type stepTask struct {
	startup.Base
	rec   *recorder
	name  string
	order int
	err   error
}

func (s *stepTask) Name() string { return s.name }
func (s *stepTask) Order() int   { return s.order }

func (s *stepTask) Execute(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.rec.add("exec:" + s.name)
	return nil
}

func (s *stepTask) Cleanup(ctx context.Context) error {
	s.rec.add("cleanup:" + s.name)
	return nil
}

type tenTask struct{ *stepTask }
type twentyTask struct{ *stepTask }
type thirtyTask struct{ *stepTask }
type brokenTask struct{ *stepTask }

func newTenTask(rec *recorder) *tenTask {
	return &tenTask{&stepTask{rec: rec, name: "ten", order: 10}}
}

func newTwentyTask(rec *recorder) *twentyTask {
	return &twentyTask{&stepTask{rec: rec, name: "twenty", order: 20}}
}

func newThirtyTask(rec *recorder) *thirtyTask {
	return &thirtyTask{&stepTask{rec: rec, name: "thirty", order: 30}}
}

func newBrokenTask(rec *recorder) *brokenTask {
	return &brokenTask{&stepTask{rec: rec, name: "broken", order: 20, err: fmt.Errorf("boom")}}
}

type item struct {
	data.BaseEntity
	Label string `json:"label"`
}

type itemRepository struct {
	*data.DocumentRepository[*item]
}

func newItemRepository(db *data.DbContext) *itemRepository {
	return &itemRepository{DocumentRepository: data.NewDocumentRepository[*item](db)}
}

type counter struct{ n int }

func catalogOf(exports ...any) *discovery.Catalog {
	cat := discovery.NewCatalog()
	cat.Register(discovery.Module{Name: "example.com/app", Version: "1", Exports: exports})
	return cat
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, di.RegisterValue(e.Registry(), rec))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, rec
}

func TestNew_RegistersBuiltins(t *testing.T) {
	e, _ := newEngine(t, WithoutDiscovery())
	assert.Equal(t, StateInitialized, e.State())

	for _, key := range []di.Key{
		di.KeyOf[*Engine](),
		di.KeyOf[*di.Registry](),
		di.KeyOf[config.Source](),
		di.KeyOf[*discovery.Finder](),
		di.KeyOf[logger.Logger](),
		di.KeyOf[*data.DbContext](),
		di.KeyOf[*data.Session](),
		data.RepositoryKey[*item](),
	} {
		assert.True(t, e.IsRegistered(key), key.String())
	}

	self, err := di.Resolve[*Engine](e)
	require.NoError(t, err)
	assert.Same(t, e, self)
}

func TestEngine_SingletonAndTransient(t *testing.T) {
	e, _ := newEngine(t, WithoutDiscovery())
	require.NoError(t, e.Register(di.KeyOf[*counter](), func(di.Resolver) (any, error) { return &counter{}, nil }, di.Singleton))
	require.NoError(t, e.Register(di.KeyOf[*counter]().Named("fresh"), func(di.Resolver) (any, error) { return &counter{}, nil }, di.Transient))

	a, err := di.Resolve[*counter](e)
	require.NoError(t, err)
	b, err := di.Resolve[*counter](e)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := di.ResolveNamed[*counter](e, "fresh")
	require.NoError(t, err)
	d, err := di.ResolveNamed[*counter](e, "fresh")
	require.NoError(t, err)
	assert.NotSame(t, c, d)
}

func TestEngine_ScopeIsolation(t *testing.T) {
	e, _ := newEngine(t, WithoutDiscovery())
	require.NoError(t, e.Register(di.KeyOf[*counter](), func(di.Resolver) (any, error) { return &counter{}, nil }, di.Scoped))

	s1, s2 := e.CreateScope(), e.CreateScope()
	defer s1.Dispose(context.Background())
	defer s2.Dispose(context.Background())

	a, err := di.Resolve[*counter](s1)
	require.NoError(t, err)
	again, err := di.Resolve[*counter](s1)
	require.NoError(t, err)
	b, err := di.Resolve[*counter](s2)
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)

	_, err = di.Resolve[*counter](e)
	assert.ErrorIs(t, err, errors2.ErrNoActiveScopeSentinel)
}

func TestStart_RunsDiscoveredTasksInOrder(t *testing.T) {
	e, rec := newEngine(t, WithCatalog(catalogOf(newThirtyTask, newTenTask, newTwentyTask)))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateStarted, e.State())
	assert.Equal(t, []string{"exec:ten", "exec:twenty", "exec:thirty"}, rec.Events())
	assert.Equal(t, []string{"ten", "twenty", "thirty"}, e.Orchestrator().Executed())

	require.NoError(t, e.Start(context.Background()))
	assert.Len(t, rec.Events(), 3)

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, []string{
		"exec:ten", "exec:twenty", "exec:thirty",
		"cleanup:thirty", "cleanup:twenty", "cleanup:ten",
	}, rec.Events())
}

func TestStart_TaskSectionsFromConfig(t *testing.T) {
	cfg := config.New()
	cfg.Set(TasksSection+".twenty.enabled", false)

	e, rec := newEngine(t,
		WithConfig(cfg),
		WithCatalog(catalogOf(newTenTask, newTwentyTask)),
	)
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []string{"exec:ten"}, rec.Events())

	tasks := e.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, startup.StatusDisabled, tasks[1].Status)
}

func TestStart_FailureHaltsAndRollsBack(t *testing.T) {
	e, rec := newEngine(t, WithCatalog(catalogOf(newTenTask, newBrokenTask, newThirtyTask)))

	err := e.Start(context.Background())
	require.Error(t, err)

	var taskErr *errors2.StartupTaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "broken", taskErr.Task)
	assert.Equal(t, []string{"ten"}, taskErr.Completed)

	assert.Equal(t, []string{"exec:ten", "cleanup:ten"}, rec.Events())
	assert.Equal(t, StateStopped, e.State())
	assert.False(t, e.IsRegistered(di.KeyOf[*recorder]()))
}

func TestStart_StoppedEngineCannotRestart(t *testing.T) {
	e, _ := newEngine(t, WithoutDiscovery())
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()))

	assert.ErrorIs(t, e.Start(context.Background()), errors2.ErrEngineStopped)

	_, err := e.Plan(context.Background())
	assert.Error(t, err)
}

func TestStart_UninitializedEngine(t *testing.T) {
	var e Engine
	assert.ErrorIs(t, e.Start(context.Background()), errors2.ErrEngineNotInitialized)
}

func TestStop_ClearsRegistrations(t *testing.T) {
	e, _ := newEngine(t, WithoutDiscovery())
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.IsRegistered(di.KeyOf[*recorder]()))

	require.NoError(t, e.Stop(context.Background()))
	assert.False(t, e.IsRegistered(di.KeyOf[*recorder]()))
	assert.False(t, e.IsRegistered(di.KeyOf[*Engine]()))
}

func TestStart_DiscoversRepositories(t *testing.T) {
	cfg := config.New()
	cfg.Set("database.dsn", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	cfg.Set("database.max_open_conns", 1)

	cat := discovery.NewCatalog()
	cat.Register(data.Manifest())
	cat.Register(discovery.Module{Name: "example.com/items", Exports: []any{newItemRepository, newItemRepository, 42}})

	e, _ := newEngine(t, WithConfig(cfg), WithCatalog(cat))
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, []di.Key{data.RepositoryKey[*item]()}, e.Repositories())
	require.NotEmpty(t, e.Skipped())
	for _, sk := range e.Skipped() {
		assert.Equal(t, "example.com/items", sk.Module)
	}

	repo, err := data.ResolveRepository[*item](e)
	require.NoError(t, err)
	concrete, ok := repo.(*itemRepository)
	require.True(t, ok)

	byType, err := di.Resolve[*itemRepository](e)
	require.NoError(t, err)
	assert.Same(t, concrete, byType)

	created, err := repo.Create(context.Background(), &item{Label: "discovered"})
	require.NoError(t, err)
	got, err := repo.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "discovered", got.Label)
}

func TestStart_BuiltinTasks(t *testing.T) {
	dir := t.TempDir()
	extra := filepath.Join(dir, "extra.yaml")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	require.NoError(t, os.WriteFile(extra, []byte("database:\n  dsn: \""+dsn+"\"\n  max_open_conns: 1\n"), 0o600))

	cfg := config.New()
	cfg.Set(TasksSection+".ConfigurationTask.path", extra)

	cat := discovery.NewCatalog()
	cat.Register(config.Manifest())
	cat.Register(data.Manifest())

	e, _ := newEngine(t, WithConfig(cfg), WithCatalog(cat))
	require.NoError(t, e.Start(context.Background()))

	names := make(map[string]startup.Status)
	for _, d := range e.Tasks() {
		names[d.Name] = d.Status
	}
	assert.Equal(t, startup.StatusCompleted, names["ConfigurationTask"])
	assert.Equal(t, startup.StatusCompleted, names["DatabaseSchemaTask"])
	assert.Equal(t, startup.StatusDisabled, names["RedisTask"])

	db, err := di.Resolve[*data.DbContext](e)
	require.NoError(t, err)
	assert.True(t, db.IsOpen())
	assert.Equal(t, dsn, db.Config().DSN)

	require.NoError(t, e.Stop(context.Background()))
	assert.False(t, db.IsOpen())
}

func TestPlan_DoesNotExecute(t *testing.T) {
	e, rec := newEngine(t, WithCatalog(catalogOf(newTwentyTask, newTenTask)))

	plan, err := e.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "ten", plan[0].Name)
	assert.Equal(t, "twenty", plan[1].Name)
	assert.Equal(t, startup.StatusPending, plan[0].Status)
	assert.Empty(t, rec.Events())

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []string{"exec:ten", "exec:twenty"}, rec.Events())
}

func TestAddTask_RunsWithDiscoveredTasks(t *testing.T) {
	e, rec := newEngine(t, WithCatalog(catalogOf(newThirtyTask)))
	require.NoError(t, e.AddTask(newTenTask(rec)))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []string{"exec:ten", "exec:thirty"}, rec.Events())
}

func TestStart_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	e, _ := newEngine(t, WithTracerProvider(tp), WithCatalog(catalogOf(newTenTask)))
	require.NoError(t, e.Start(context.Background()))

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"startup.execute", "engine.start"}, names)
}

func TestHandle_Lifecycle(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	_, err := Current()
	assert.ErrorIs(t, err, errors2.ErrEngineNotInitialized)

	first, err := Initialize(WithCatalog(catalogOf(newTenTask)))
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, di.RegisterValue(first.Registry(), rec))
	require.NoError(t, first.Start(context.Background()))

	got, err := Current()
	require.NoError(t, err)
	assert.Same(t, first, got)

	second, err := Initialize(WithCatalog(catalogOf(newTenTask)))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, first.State())
	assert.Equal(t, []string{"exec:ten", "cleanup:ten"}, rec.Events())

	assert.False(t, second.IsRegistered(di.KeyOf[*recorder]()))
	assert.Error(t, second.Start(context.Background()))
	assert.Equal(t, StateStopped, second.State())

	third, err := Initialize(WithCatalog(catalogOf(newTenTask)))
	require.NoError(t, err)
	require.NoError(t, di.RegisterValue(third.Registry(), &recorder{}))
	require.NoError(t, third.Start(context.Background()))
	require.NoError(t, third.Stop(context.Background()))
}

type inspectTask struct {
	startup.Base
	engine *Engine
	rec    *recorder
}

func newInspectTask(e *Engine, rec *recorder) *inspectTask {
	return &inspectTask{engine: e, rec: rec}
}

func (t *inspectTask) Execute(ctx context.Context) error {
	t.rec.add("state:" + t.engine.State().String())
	t.rec.add(fmt.Sprintf("repositories:%d", len(t.engine.Repositories())))
	t.rec.add(fmt.Sprintf("skipped:%d", len(t.engine.Skipped())))
	if err := t.engine.Stop(ctx); err != nil {
		t.rec.add("stop refused")
	}
	if _, err := t.engine.Plan(ctx); err != nil {
		t.rec.add("plan refused")
	}
	return nil
}

type handleTask struct {
	startup.Base
	rec *recorder
}

func newHandleTask(rec *recorder) *handleTask {
	return &handleTask{rec: rec}
}

func (t *handleTask) Cleanup(ctx context.Context) error {
	if _, err := Current(); err != nil {
		t.rec.add("cleanup:detached")
	} else {
		t.rec.add("cleanup:attached")
	}
	return nil
}

func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("did not return within %s", d)
	}
}

func TestStart_TaskCanCallBackIntoEngine(t *testing.T) {
	e, rec := newEngine(t, WithCatalog(catalogOf(newInspectTask, newItemRepository)))

	var err error
	within(t, 5*time.Second, func() { err = e.Start(context.Background()) })
	require.NoError(t, err)

	assert.Equal(t, []string{
		"state:initialized",
		"repositories:1",
		"skipped:0",
		"stop refused",
		"plan refused",
	}, rec.Events())
	assert.Equal(t, StateStarted, e.State())
}

func TestInitialize_PreviousCleanupCanReadHandle(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Initialize(WithCatalog(catalogOf(newHandleTask)))
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, di.RegisterValue(first.Registry(), rec))
	require.NoError(t, first.Start(context.Background()))

	var second *Engine
	within(t, 5*time.Second, func() {
		second, err = Initialize(WithoutDiscovery())
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cleanup:detached"}, rec.Events())
	got, err := Current()
	require.NoError(t, err)
	assert.Same(t, second, got)
	require.NoError(t, second.Stop(context.Background()))
}
