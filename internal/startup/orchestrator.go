package startup

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/metrics"
)

const tracerName = "github.com/xraph/corekit/internal/startup"

// State is the orchestrator's lifecycle position.
type State int

const (
	StateEmpty State = iota
	StateConfiguring
	StateExecuting
	StateCompleted
	StateFailed
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConfiguring:
		return "configuring"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCleanedUp:
		return "cleaned_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the per-task outcome.
type Status string

const (
	StatusPending       Status = "pending"
	StatusDisabled      Status = "disabled"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
	StatusCleaned       Status = "cleaned"
	StatusCleanupFailed Status = "cleanup_failed"
)

// Descriptor is a snapshot of one task.
type Descriptor struct {
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Order    int           `json:"order"`
	Enabled  bool          `json:"enabled"`
	Sequence int           `json:"sequence"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Config   Config        `json:"config,omitempty"`
}

type entry struct {
	task     Task
	name     string
	seq      int
	config   Config
	status   Status
	duration time.Duration
	err      error
}

// Orchestrator runs startup tasks: Add, then Configure, then Execute once,
// then Cleanup.
type Orchestrator struct {
	mu       sync.Mutex
	state    State
	entries  []*entry
	byName   map[string]*entry
	executed []*entry
	nextSeq  int

	tolerateDuplicates bool
	logger             logger.Logger
	metrics            *metrics.Collector
	tracer             trace.Tracer
}

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.OrNoop(l) }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracerProvider sets the provider used for task spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithDuplicateTolerance makes Add ignore a second task with an existing
// name instead of failing.
func WithDuplicateTolerance() Option {
	return func(o *Orchestrator) { o.tolerateDuplicates = true }
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		byName: make(map[string]*entry),
		logger: logger.NewNoopLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Add registers a task. Adding the same instance twice is a no-op; a
// different task with an existing name fails with *errors.DuplicateTaskError.
func (o *Orchestrator) Add(task Task) error {
	if task == nil || isNilTask(task) {
		return errors.ErrInvalidTask
	}
	name := NameOf(task)
	if name == "" {
		return fmt.Errorf("%w: task has no name", errors.ErrInvalidTask)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateEmpty && o.state != StateConfiguring {
		return errors.ErrOrchestratorState("add task "+name, o.state.String())
	}

	if existing, ok := o.byName[name]; ok {
		if sameTask(existing.task, task) {
			o.logger.Debug("startup task already added", logger.Task(name))
			return nil
		}
		if o.tolerateDuplicates {
			o.logger.Warn("duplicate startup task ignored", logger.Task(name))
			return nil
		}
		return &errors.DuplicateTaskError{Name: name}
	}

	e := &entry{task: task, name: name, seq: o.nextSeq, status: StatusPending}
	o.nextSeq++
	o.entries = append(o.entries, e)
	o.byName[name] = e
	o.state = StateConfiguring

	o.logger.Debug("startup task added",
		logger.Task(name),
		logger.Order(task.Order()),
		logger.Int("sequence", e.seq),
	)
	return nil
}

// Configure hands every task its section from src; a missing section is an
// empty Config. The first failure stops configuration.
func (o *Orchestrator) Configure(src SectionSource) error {
	o.mu.Lock()
	if o.state != StateEmpty && o.state != StateConfiguring {
		state := o.state
		o.mu.Unlock()
		return errors.ErrOrchestratorState("configure", state.String())
	}
	entries := append([]*entry(nil), o.entries...)
	o.mu.Unlock()

	for _, e := range entries {
		var section map[string]any
		if src != nil {
			section = src.Section(e.name)
		}
		cfg := Config(section)
		if cfg == nil {
			cfg = Config{}
		}

		if err := e.task.Configure(cfg); err != nil {
			return &errors.StartupTaskError{Task: e.name, Order: e.task.Order(), Phase: "configure", Err: err}
		}

		o.mu.Lock()
		e.config = cfg
		o.mu.Unlock()
	}
	return nil
}

// plan returns enabled tasks sorted by (order, sequence).
func (o *Orchestrator) plan() []*entry {
	var enabled []*entry
	for _, e := range o.entries {
		if e.task.Enabled() {
			enabled = append(enabled, e)
		} else {
			e.status = StatusDisabled
		}
	}
	slices.SortStableFunc(enabled, compareEntries)
	return enabled
}

func compareEntries(a, b *entry) int {
	if c := cmp.Compare(a.task.Order(), b.task.Order()); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// Execute runs enabled tasks strictly in sequence. The first failure,
// panic or cancellation halts the run and returns *errors.StartupTaskError
// naming the task and the tasks already completed. Execute runs at most once.
func (o *Orchestrator) Execute(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateEmpty, StateConfiguring:
	case StateExecuting, StateCompleted, StateFailed, StateCleanedUp:
		o.mu.Unlock()
		return errors.ErrAlreadyExecuted
	}
	o.state = StateExecuting
	plan := o.plan()
	o.mu.Unlock()

	o.logger.Info("executing startup tasks", logger.Int("count", len(plan)))

	for _, e := range plan {
		if err := o.run(ctx, e); err != nil {
			o.mu.Lock()
			o.state = StateFailed
			completed := o.completedNames()
			o.mu.Unlock()

			o.logger.Error("startup task failed",
				logger.Task(e.name),
				logger.Order(e.task.Order()),
				logger.Strings("completed", completed),
				logger.Error(err),
			)
			return &errors.StartupTaskError{
				Task:      e.name,
				Order:     e.task.Order(),
				Completed: completed,
				Err:       err,
			}
		}
	}

	o.mu.Lock()
	o.state = StateCompleted
	o.mu.Unlock()

	o.logger.Info("startup tasks completed", logger.Int("count", len(plan)))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, e *entry) error {
	if err := ctx.Err(); err != nil {
		o.finish(e, StatusCancelled, 0, err)
		return err
	}

	spanCtx, span := o.tracer.Start(ctx, "startup.execute", trace.WithAttributes(
		attribute.String("startup.task", e.name),
		attribute.Int("startup.order", e.task.Order()),
	))
	defer span.End()

	o.logger.Info("executing startup task", logger.Task(e.name), logger.Order(e.task.Order()))

	start := time.Now()
	err := safeCall(spanCtx, e.task.Execute)
	elapsed := time.Since(start)

	status := StatusCompleted
	outcome := metrics.OutcomeSuccess
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		status, outcome = StatusFailed, metrics.OutcomeFailure
		if ctx.Err() != nil {
			status, outcome = StatusCancelled, metrics.OutcomeCancelled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.metrics.ObserveTask(e.name, outcome, elapsed)
	o.finish(e, status, elapsed, err)

	if err != nil {
		return err
	}

	o.logger.Debug("startup task completed", logger.Task(e.name), logger.Duration("duration", elapsed))
	return nil
}

func (o *Orchestrator) finish(e *entry, status Status, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e.status = status
	e.duration = d
	e.err = err
	if status == StatusCompleted {
		o.executed = append(o.executed, e)
	}
}

func (o *Orchestrator) completedNames() []string {
	names := make([]string, 0, len(o.executed))
	for _, e := range o.executed {
		names = append(names, e.name)
	}
	return names
}

// Cleanup runs Cleanup on completed tasks in reverse execution order. Every
// task is attempted; failures are returned together as *errors.CleanupError.
// Repeated calls are no-ops.
func (o *Orchestrator) Cleanup(ctx context.Context) error {
	o.mu.Lock()
	executed := o.executed
	o.executed = nil
	if o.state == StateCompleted || o.state == StateFailed {
		o.state = StateCleanedUp
	}
	o.mu.Unlock()

	if len(executed) == 0 {
		return nil
	}

	o.logger.Info("cleaning up startup tasks", logger.Int("count", len(executed)))

	var errs error
	for i := len(executed) - 1; i >= 0; i-- {
		e := executed[i]

		spanCtx, span := o.tracer.Start(ctx, "startup.cleanup", trace.WithAttributes(
			attribute.String("startup.task", e.name),
		))
		err := safeCall(spanCtx, e.task.Cleanup)
		status := StatusCleaned
		if err != nil {
			status = StatusCleanupFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.Warn("startup task cleanup failed", logger.Task(e.name), logger.Error(err))
			errs = errors.Append(errs, &errors.StartupTaskError{Task: e.name, Order: e.task.Order(), Phase: "cleanup", Err: err})
		}
		span.End()

		o.mu.Lock()
		e.status = status
		if err != nil {
			e.err = err
		}
		o.mu.Unlock()
	}

	return errors.NewCleanupError(errs)
}

// Tasks returns every added task, disabled ones included, in execution order.
func (o *Orchestrator) Tasks() []Descriptor {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := append([]*entry(nil), o.entries...)
	slices.SortStableFunc(entries, compareEntries)

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		d := Descriptor{
			Name:     e.name,
			Type:     reflect.TypeOf(e.task).String(),
			Order:    e.task.Order(),
			Enabled:  e.task.Enabled(),
			Sequence: e.seq,
			Status:   e.status,
			Duration: e.duration,
			Config:   e.config,
		}
		if e.err != nil {
			d.Error = e.err.Error()
		}
		out = append(out, d)
	}
	return out
}

// Executed returns the names of completed tasks awaiting cleanup.
func (o *Orchestrator) Executed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completedNames()
}

// Len returns the number of added tasks.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

func sameTask(a, b Task) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return va.Comparable() && va.Equal(vb)
}

func isNilTask(t Task) bool {
	v := reflect.ValueOf(t)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
