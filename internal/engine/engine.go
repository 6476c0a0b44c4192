// Package engine ties the registry, discovery and the startup orchestrator
// into one lifecycle: New, Start, use, Stop.
package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/data"
	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/metrics"
	"github.com/xraph/corekit/internal/startup"
)

const tracerName = "github.com/xraph/corekit/internal/engine"

// TasksSection is the configuration section holding one sub-section per
// startup task, keyed by task name.
const TasksSection = "startup_tasks"

// State is the engine's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine is the explicit context object owning one registry, one finder and
// one orchestrator.
//
// mu guards state and the discovery results only. Start, Plan and Stop mark
// a transition under mu and run discovery, tasks and cleanup without it, so
// tasks may call back into the engine.
type Engine struct {
	mu         sync.Mutex
	state      State
	transition string

	registry     *di.Registry
	cfg          *config.Config
	finder       *discovery.Finder
	orchestrator *startup.Orchestrator
	logger       logger.Logger
	metrics      *metrics.Collector
	tracer       trace.Tracer
	opts         options

	prepared     bool
	configured   bool
	skipped      []errors.Skip
	repositories []di.Key
}

// New builds an engine and registers the built-in services. Nothing is
// discovered or executed until Start.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		logger:  logger.OrNoop(o.logger),
		metrics: o.metrics,
		cfg:     o.config,
		opts:    o,
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.cfg == nil {
		e.cfg = config.New(config.WithLogger(e.logger))
	}
	catalog := o.catalog
	if catalog == nil {
		catalog = discovery.DefaultCatalog
	}
	if o.tracerProvider != nil {
		e.tracer = o.tracerProvider.Tracer(tracerName)
	} else {
		e.tracer = otel.Tracer(tracerName)
	}

	e.registry = di.New(
		di.WithDuplicatePolicy(o.duplicatePolicy),
		di.WithLogger(e.logger.Named("di")),
		di.WithMetrics(e.metrics),
		di.WithContractMapper(data.ContractMapper),
	)

	finderOpts := append([]discovery.FinderOption{
		discovery.WithFinderLogger(e.logger.Named("discovery")),
		discovery.WithFinderMetrics(e.metrics),
	}, o.finderOptions...)
	e.finder = discovery.NewFinder(catalog, finderOpts...)
	e.orchestrator = e.newOrchestrator()

	if err := e.registerBuiltins(); err != nil {
		return nil, err
	}

	e.setState(StateInitialized)
	e.logger.Debug("engine initialized", logger.String("policy", o.duplicatePolicy.String()))
	return e, nil
}

func (e *Engine) newOrchestrator() *startup.Orchestrator {
	opts := []startup.Option{
		startup.WithLogger(e.logger.Named("startup")),
		startup.WithMetrics(e.metrics),
	}
	if e.opts.tracerProvider != nil {
		opts = append(opts, startup.WithTracerProvider(e.opts.tracerProvider))
	}
	if e.opts.tolerateDuplicates {
		opts = append(opts, startup.WithDuplicateTolerance())
	}
	return startup.New(opts...)
}

func (e *Engine) registerBuiltins() error {
	r := e.registry
	steps := []func() error{
		func() error { return di.RegisterValue(r, e) },
		func() error { return di.RegisterValue(r, r) },
		func() error { return di.RegisterValue[config.Source](r, e.cfg) },
		func() error { return di.RegisterValue(r, e.cfg) },
		func() error { return di.RegisterValue(r, e.finder) },
		func() error { return di.RegisterValue(r, e.logger) },
		func() error { return di.RegisterValue(r, e.metrics) },
		func() error { return di.RegisterValue(r, e.orchestrator) },
		func() error { return di.Provide[*data.DbContext](r, data.NewDbContext, di.Singleton) },
		func() error { return di.Provide[*data.Session](r, data.NewSession, di.Scoped) },
		func() error {
			return r.RegisterGeneric(di.Key{Type: data.RepositoryContract}, data.DocumentStoreFactory, di.Singleton)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.state = s
	e.metrics.SetEngineState(int(s))
}

// prepare runs discovery once: repositories first so discovered tasks can
// depend on them, then startup tasks.
func (e *Engine) prepare() error {
	if e.prepared {
		return nil
	}
	e.prepared = true
	if !e.opts.discovery {
		return nil
	}

	if err := e.discoverRepositories(); err != nil {
		return err
	}
	return e.discoverTasks()
}

func (e *Engine) recordSkips(scan *discovery.Scan) {
	if skipped := scan.Skipped(); len(skipped) > 0 {
		e.mu.Lock()
		e.skipped = append(e.skipped, skipped...)
		e.mu.Unlock()
	}
}

func (e *Engine) discoverRepositories() error {
	scan := e.finder.Scan(data.RepositoryCapability())
	defer e.recordSkips(scan)

	seen := make(map[di.Key]bool)
	for m := range scan.All() {
		key := data.RepositoryKeyFor(m.Param)
		if seen[key] {
			e.logger.Warn("duplicate repository ignored",
				logger.Service(key.String()),
				logger.Module(m.Candidate.Module),
			)
			continue
		}
		seen[key] = true

		if err := e.registry.Register(key, implOf(m.Candidate), di.Singleton); err != nil {
			return err
		}
		concrete := di.KeyForType(m.Candidate.Type)
		if err := e.registry.Register(concrete, func(r di.Resolver) (any, error) {
			return r.Resolve(key)
		}, di.Singleton); err != nil {
			return err
		}
		e.mu.Lock()
		e.repositories = append(e.repositories, key)
		e.mu.Unlock()
		e.logger.Debug("repository discovered",
			logger.Service(key.String()),
			logger.String("implementation", m.Candidate.Type.String()),
		)
	}
	return nil
}

func (e *Engine) discoverTasks() error {
	scan := e.finder.Scan(discovery.Implements[startup.Task]())
	defer e.recordSkips(scan)

	for m := range scan.All() {
		key := di.KeyForType(m.Candidate.Type)
		if err := e.registry.Register(key, implOf(m.Candidate), di.Singleton); err != nil {
			return err
		}
		instance, err := e.registry.Resolve(key)
		if err != nil {
			return err
		}
		task, ok := instance.(startup.Task)
		if !ok {
			return fmt.Errorf("%w: %s does not implement startup.Task", errors.ErrInvalidTask, reflect.TypeOf(instance))
		}
		if err := e.orchestrator.Add(task); err != nil {
			return err
		}
	}
	return nil
}

// implOf returns what to register for a candidate: its constructor when it
// was exported as one, otherwise its type.
func implOf(c discovery.Candidate) any {
	if c.Constructor != nil {
		return c.Constructor
	}
	return c.Type
}

type sectionSource struct {
	cfg *config.Config
}

func (s sectionSource) Section(name string) map[string]any {
	return s.cfg.Section(TasksSection + "." + name)
}

func (e *Engine) configure() error {
	if e.configured {
		return nil
	}
	if err := e.orchestrator.Configure(sectionSource{cfg: e.cfg}); err != nil {
		return err
	}
	e.configured = true
	return nil
}

// begin marks a transition. Only one of Start, Plan and Stop runs at a time;
// a call made while another is in progress fails instead of waiting.
func (e *Engine) begin(op string, allowed ...State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transition != "" {
		return errors.ErrOrchestratorState(op, e.transition)
	}
	if e.state == StateUninitialized {
		return errors.ErrEngineNotInitialized
	}
	for _, s := range allowed {
		if e.state == s {
			e.transition = op
			return nil
		}
	}
	return errors.ErrOrchestratorState(op, e.state.String())
}

// end clears the transition and moves to next when given.
func (e *Engine) end(next ...State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transition = ""
	for _, s := range next {
		e.setState(s)
	}
}

// Start discovers repositories and startup tasks, validates the registry and
// runs the tasks. Start on a started engine does nothing. A failed Start
// cleans up completed tasks, disposes and resets the registry and leaves
// the engine stopped.
func (e *Engine) Start(ctx context.Context) (err error) {
	switch e.State() {
	case StateStarted:
		return nil
	case StateStopped:
		return errors.ErrEngineStopped
	}
	if err := e.begin("start", StateInitialized); err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "engine.start")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := e.start(ctx); err != nil {
		e.logger.Error("engine start failed", logger.Error(err))
		if cerr := e.teardown(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Error("cleanup after failed start", logger.Error(cerr))
		}
		e.end(StateStopped)
		return err
	}

	tasks := e.orchestrator.Len()
	repositories, skipped := len(e.Repositories()), len(e.Skipped())
	span.SetAttributes(
		attribute.Int("corekit.tasks", tasks),
		attribute.Int("corekit.repositories", repositories),
		attribute.Int("corekit.skipped", skipped),
	)
	e.end(StateStarted)
	e.logger.Info("engine started",
		logger.Int("tasks", tasks),
		logger.Int("repositories", repositories),
	)
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	if err := e.prepare(); err != nil {
		return err
	}
	if err := e.registry.Validate(); err != nil {
		return err
	}
	if err := e.configure(); err != nil {
		return err
	}
	return e.orchestrator.Execute(ctx)
}

// Plan discovers and configures tasks without executing them and returns
// the resulting plan. It only works before Start.
func (e *Engine) Plan(ctx context.Context) ([]startup.Descriptor, error) {
	if err := e.begin("plan", StateInitialized); err != nil {
		return nil, err
	}
	defer e.end()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.prepare(); err != nil {
		return nil, err
	}
	if err := e.configure(); err != nil {
		return nil, err
	}
	return e.orchestrator.Tasks(), nil
}

// Stop cleans up executed tasks in reverse order, disposes singletons and
// resets the registry. Calling Stop again does nothing.
func (e *Engine) Stop(ctx context.Context) error {
	if e.State() == StateStopped {
		return nil
	}
	if err := e.begin("stop", StateInitialized, StateStarted); err != nil {
		if e.State() == StateStopped {
			return nil
		}
		return err
	}

	err := e.teardown(ctx)
	e.end(StateStopped)
	if err != nil {
		e.logger.Warn("engine stopped with errors", logger.Error(err))
	} else {
		e.logger.Info("engine stopped")
	}
	return err
}

// teardown runs cleanup, disposal and reset. The caller moves the state.
func (e *Engine) teardown(ctx context.Context) error {
	var errs error
	if err := e.orchestrator.Cleanup(ctx); err != nil {
		errs = errors.Append(errs, err)
	}
	if err := e.registry.Dispose(ctx); err != nil {
		errs = errors.Append(errs, err)
	}
	e.registry.Reset()
	return errs
}

// Resolve returns the instance registered under key.
func (e *Engine) Resolve(key di.Key) (any, error) {
	return e.registry.Resolve(key)
}

func (e *Engine) Register(key di.Key, impl any, lifetime di.Lifetime) error {
	return e.registry.Register(key, impl, lifetime)
}

func (e *Engine) RegisterGeneric(key di.Key, factory di.GenericFactory, lifetime di.Lifetime) error {
	return e.registry.RegisterGeneric(key, factory, lifetime)
}

func (e *Engine) IsRegistered(key di.Key) bool {
	return e.registry.IsRegistered(key)
}

func (e *Engine) CreateScope() *di.Scope {
	return e.registry.CreateScope()
}

// AddTask adds a task alongside the discovered ones. Tasks added before
// Start are configured and executed by it.
func (e *Engine) AddTask(task startup.Task) error {
	return e.orchestrator.Add(task)
}

func (e *Engine) Registry() *di.Registry { return e.registry }

func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) Finder() *discovery.Finder { return e.finder }

func (e *Engine) Logger() logger.Logger { return e.logger }

func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

func (e *Engine) Orchestrator() *startup.Orchestrator { return e.orchestrator }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Tasks returns the orchestrator's task snapshot.
func (e *Engine) Tasks() []startup.Descriptor {
	return e.orchestrator.Tasks()
}

// Skipped returns discovery candidates that could not be used.
func (e *Engine) Skipped() []errors.Skip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]errors.Skip(nil), e.skipped...)
}

// Repositories returns the keys of discovered repositories.
func (e *Engine) Repositories() []di.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]di.Key(nil), e.repositories...)
}
