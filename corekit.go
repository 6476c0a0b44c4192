// Package corekit is the public face of the engine: a dependency-injection
// registry with singleton, scoped and transient lifetimes, manifest-based
// discovery of repositories and startup tasks, and an ordered startup-task
// orchestrator.
//
//	app, err := corekit.Initialize(corekit.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	if err := app.Start(ctx); err != nil {
//		return err
//	}
//	defer app.Stop(context.Background())
//
//	svc, err := corekit.Resolve[*OrderService](app)
package corekit

import (
	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/engine"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/metrics"
	"github.com/xraph/corekit/internal/startup"
)

// Engine owns the registry, discovery and startup tasks.
type Engine = engine.Engine

// EngineState is the engine's lifecycle position.
type EngineState = engine.State

const (
	StateUninitialized = engine.StateUninitialized
	StateInitialized   = engine.StateInitialized
	StateStarted       = engine.StateStarted
	StateStopped       = engine.StateStopped
)

// Option configures an Engine.
type Option = engine.Option

var (
	WithLogger                 = engine.WithLogger
	WithMetrics                = engine.WithMetrics
	WithConfig                 = engine.WithConfig
	WithCatalog                = engine.WithCatalog
	WithFinderOptions          = engine.WithFinderOptions
	WithDuplicatePolicy        = engine.WithDuplicatePolicy
	WithTracerProvider         = engine.WithTracerProvider
	WithTaskDuplicateTolerance = engine.WithTaskDuplicateTolerance
	WithoutDiscovery           = engine.WithoutDiscovery
)

// New creates an engine without touching the process-wide handle.
func New(opts ...Option) (*Engine, error) {
	return engine.New(opts...)
}

// Initialize creates an engine and installs it as the process-wide handle,
// stopping any previous one.
func Initialize(opts ...Option) (*Engine, error) {
	return engine.Initialize(opts...)
}

// Current returns the process-wide engine or ErrEngineNotInitialized.
func Current() (*Engine, error) {
	return engine.Current()
}

// Reset clears the process-wide handle.
func Reset() {
	engine.Reset()
}

// TasksSection is the config section holding per-task settings.
const TasksSection = engine.TasksSection

// Startup tasks.
type (
	Task           = startup.Task
	NamedTask      = startup.Named
	TaskBase       = startup.Base
	TaskConfig     = startup.Config
	TaskDescriptor = startup.Descriptor
	TaskStatus     = startup.Status
)

const (
	TaskPending   = startup.StatusPending
	TaskDisabled  = startup.StatusDisabled
	TaskCompleted = startup.StatusCompleted
	TaskFailed    = startup.StatusFailed
	TaskCancelled = startup.StatusCancelled
	TaskCleaned   = startup.StatusCleaned
)

// Discovery.
type (
	Module     = discovery.Module
	Catalog    = discovery.Catalog
	Capability = discovery.Capability
	Candidate  = discovery.Candidate
	Match      = discovery.Match
)

// RegisterModule announces a package's exports to the default catalog.
// Call it from an init function.
func RegisterModule(m Module) {
	discovery.Register(m)
}

// NewCatalog returns an empty catalog, for tests and embedded engines.
func NewCatalog() *Catalog {
	return discovery.NewCatalog()
}

// Implements matches discovered types assignable to interface I.
func Implements[I any]() Capability {
	return discovery.Implements[I]()
}

// Ambient stack.
type (
	Logger        = logger.Logger
	LoggingConfig = logger.LoggingConfig
	Config        = config.Config
	ConfigSource  = config.Source
	Metrics       = metrics.Collector
)

var (
	NewLogger     = logger.NewLogger
	NewNoopLogger = logger.NewNoopLogger
	NewConfig     = config.New
	LoadConfig    = config.Load
	NewMetrics    = metrics.New
)
