package di

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/metrics"
)

// Resolver resolves service keys to instances.
type Resolver interface {
	Resolve(key Key) (any, error)
}

// Registrar accepts service registrations.
type Registrar interface {
	Register(key Key, impl any, lifetime Lifetime) error
}

// Factory builds a service instance. The resolver it receives resolves
// dependencies with the lifetime rules of the instance being built.
type Factory func(r Resolver) (any, error)

// GenericFactory builds an instance of an open generic contract for the
// bound type parameter.
type GenericFactory func(r Resolver, param reflect.Type) (any, error)

// Disposer is implemented by instances that release resources when their
// owning registry or scope is disposed. io.Closer is honoured as well.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// Descriptor describes one registration.
type Descriptor struct {
	Key            Key
	Lifetime       Lifetime
	Implementation string
	Dependencies   []Key
	Generic        bool
}

// DuplicatePolicy decides what happens when a key is registered twice.
type DuplicatePolicy int

const (
	// ReplaceExisting keeps the most recent registration.
	ReplaceExisting DuplicatePolicy = iota
	// KeepExisting keeps the first registration and ignores later ones.
	KeepExisting
	// RejectDuplicates fails the second registration.
	RejectDuplicates
)

func (p DuplicatePolicy) String() string {
	switch p {
	case ReplaceExisting:
		return "replace"
	case KeepExisting:
		return "keep"
	case RejectDuplicates:
		return "reject"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// RegistrationAction is the outcome reported to observers.
type RegistrationAction string

const (
	ActionAdded    RegistrationAction = "added"
	ActionReplaced RegistrationAction = "replaced"
	ActionKept     RegistrationAction = "kept"
	ActionRejected RegistrationAction = "rejected"
)

// RegistrationEvent is delivered to observers after every registration attempt.
type RegistrationEvent struct {
	Key      Key
	Action   RegistrationAction
	Lifetime Lifetime
	Current  string
	Previous string
}

// Observer receives registration events.
type Observer func(RegistrationEvent)

// registration holds a descriptor and, for singletons, its instance slot.
type registration struct {
	desc     Descriptor
	factory  Factory
	generic  GenericFactory
	provided bool

	owner    *state
	mu       sync.RWMutex
	instance any
	built    bool
}

// state is everything Reset discards.
type state struct {
	services map[Key]*registration
	open     map[Key]*registration
	closed   map[Key]*registration
	order    []Key

	createdMu sync.Mutex
	created   []*registration
}

func newState() *state {
	return &state{
		services: make(map[Key]*registration),
		open:     make(map[Key]*registration),
		closed:   make(map[Key]*registration),
	}
}

// Registry maps keys to descriptors and owns singleton instances.
type Registry struct {
	mu        sync.RWMutex
	st        *state
	policy    DuplicatePolicy
	mapper    ContractMapper
	observers []Observer
	logger    logger.Logger
	metrics   *metrics.Collector
	build     *buildGuard
}

// Option configures a Registry.
type Option func(*Registry)

// WithDuplicatePolicy sets how repeated registrations of a key are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithLogger sets the logger used for registration and disposal events.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.logger = logger.OrNoop(l) }
}

// WithMetrics records registrations and resolutions on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithContractMapper sets the mapper used to key constructor parameters.
func WithContractMapper(m ContractMapper) Option {
	return func(r *Registry) { r.mapper = m }
}

// WithObserver adds a registration observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		st:     newState(),
		policy: ReplaceExisting,
		logger: logger.NewNoopLogger(),
		build:  newBuildGuard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the duplicate policy in effect.
func (r *Registry) Policy() DuplicatePolicy {
	return r.policy
}

// OnRegister adds an observer for registration events.
func (r *Registry) OnRegister(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) contractMapper() ContractMapper {
	return r.mapper
}

// Register records a descriptor for key. impl may be a Factory, a
// func(Resolver) (any, error), a constructor function whose parameters are
// resolved by type, a reflect.Type built from its zero value, or, for
// singletons only, a ready instance. Nothing is instantiated here.
func (r *Registry) Register(key Key, impl any, lifetime Lifetime) error {
	if key.IsZero() {
		return errors.ErrInvalidRegistration("", fmt.Errorf("empty key"))
	}
	if !lifetime.valid() {
		return errors.ErrInvalidRegistration(key.String(), fmt.Errorf("unknown lifetime %d", lifetime))
	}

	reg, err := r.buildRegistration(key, impl, lifetime)
	if err != nil {
		return errors.ErrInvalidRegistration(key.String(), err)
	}

	return r.add(reg)
}

// RegisterGeneric records an open generic descriptor. It serves every
// Key{Type: key.Type, Param: P, Name: key.Name} that has no exact descriptor.
func (r *Registry) RegisterGeneric(key Key, factory GenericFactory, lifetime Lifetime) error {
	if key.IsZero() || key.Param != nil {
		return errors.ErrInvalidRegistration(key.String(), fmt.Errorf("generic key must be open"))
	}
	if factory == nil {
		return errors.ErrInvalidRegistration(key.String(), errors.ErrInvalidFactory)
	}
	if !lifetime.valid() {
		return errors.ErrInvalidRegistration(key.String(), fmt.Errorf("unknown lifetime %d", lifetime))
	}

	reg := &registration{
		desc: Descriptor{
			Key:            key,
			Lifetime:       lifetime,
			Implementation: "generic " + key.Type,
			Generic:        true,
		},
		generic: factory,
	}
	return r.add(reg)
}

func (r *Registry) buildRegistration(key Key, impl any, lifetime Lifetime) (*registration, error) {
	reg := &registration{desc: Descriptor{Key: key, Lifetime: lifetime}}

	switch v := impl.(type) {
	case nil:
		return nil, errors.ErrInvalidFactory
	case Factory:
		reg.factory = v
		reg.desc.Implementation = "factory"
	case func(Resolver) (any, error):
		reg.factory = v
		reg.desc.Implementation = "factory"
	case reflect.Type:
		reg.factory = zeroFactory(v)
		reg.desc.Implementation = v.String()
	case valueFactory:
		reg.provided = true
		reg.instance = v.v
		reg.built = true
		reg.desc.Implementation = fmt.Sprintf("%T", v.v)
	default:
		if reflect.TypeOf(impl).Kind() == reflect.Func {
			c, err := newConstructor(impl, r.mapper)
			if err != nil {
				return nil, err
			}
			reg.factory = c.call
			reg.desc.Implementation = c.out.String()
			reg.desc.Dependencies = c.deps
			break
		}
		if lifetime != Singleton {
			return nil, fmt.Errorf("instances can only be registered as singletons, got %s", lifetime)
		}
		reg.provided = true
		reg.instance = impl
		reg.built = true
		reg.desc.Implementation = reflect.TypeOf(impl).String()
	}

	return reg, nil
}

func (r *Registry) add(reg *registration) error {
	key := reg.desc.Key

	r.mu.Lock()
	st := r.st
	table := st.services
	if reg.generic != nil {
		table = st.open
	}

	event := RegistrationEvent{
		Key:      key,
		Action:   ActionAdded,
		Lifetime: reg.desc.Lifetime,
		Current:  reg.desc.Implementation,
	}

	_, inServices := st.services[key]
	_, inOpen := st.open[key]
	existing, exists := table[key]
	if exists {
		event.Previous = existing.desc.Implementation
		switch r.policy {
		case KeepExisting:
			event.Action = ActionKept
		case RejectDuplicates:
			event.Action = ActionRejected
		default:
			event.Action = ActionReplaced
		}
	}

	if event.Action == ActionAdded || event.Action == ActionReplaced {
		reg.owner = st
		table[key] = reg
		if !inServices && !inOpen {
			st.order = append(st.order, key)
		}
		if reg.generic != nil {
			for closedKey := range st.closed {
				if closedKey.Open() == key {
					delete(st.closed, closedKey)
				}
			}
		}
	}
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	r.metrics.ObserveRegistration(string(event.Action))
	r.report(event)
	for _, o := range observers {
		o(event)
	}

	if event.Action == ActionRejected {
		return &errors.DuplicateRegistrationError{Key: key.String(), Existing: event.Previous}
	}
	return nil
}

func (r *Registry) report(event RegistrationEvent) {
	fields := []logger.Field{
		logger.Service(event.Key.String()),
		logger.Lifetime(event.Lifetime.String()),
		logger.String("implementation", event.Current),
	}
	if event.Action == ActionAdded {
		r.logger.Debug("service registered", fields...)
		return
	}
	fields = append(fields,
		logger.String("previous", event.Previous),
		logger.String("action", string(event.Action)),
	)
	r.logger.Warn("duplicate service registration", fields...)
}

// IsRegistered reports whether key resolves to a descriptor, either directly
// or through an open generic registration.
func (r *Registry) IsRegistered(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.st.services[key]; ok {
		return true
	}
	if key.Param != nil {
		_, ok := r.st.open[key.Open()]
		return ok
	}
	return false
}

// Descriptors returns every registration in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.st.order))
	for _, key := range r.st.order {
		if reg, ok := r.st.services[key]; ok {
			out = append(out, reg.desc)
		}
		if reg, ok := r.st.open[key]; ok {
			out = append(out, reg.desc)
		}
	}
	return out
}

// lookup finds the registration serving key, closing open generics on demand.
func (r *Registry) lookup(key Key) (*registration, bool) {
	r.mu.RLock()
	reg, ok := r.st.services[key]
	if !ok && key.Param != nil {
		reg, ok = r.st.closed[key]
	}
	r.mu.RUnlock()
	if ok || key.Param == nil {
		return reg, ok
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st
	if reg, ok := st.services[key]; ok {
		return reg, true
	}
	if reg, ok := st.closed[key]; ok {
		return reg, true
	}
	open, ok := st.open[key.Open()]
	if !ok {
		return nil, false
	}

	param := key.Param
	generic := open.generic
	reg = &registration{
		desc: Descriptor{
			Key:            key,
			Lifetime:       open.desc.Lifetime,
			Implementation: open.desc.Implementation,
			Generic:        true,
		},
		factory: func(res Resolver) (any, error) {
			return generic(res, param)
		},
		owner: st,
	}
	st.closed[key] = reg
	return reg, true
}

// Resolve returns an instance for key outside of any scope.
func (r *Registry) Resolve(key Key) (any, error) {
	return (&resolution{registry: r, flight: &flight{}}).Resolve(key)
}

// singleton returns the instance held by reg, constructing it once.
// A failed construction is not cached. Two resolutions waiting on each
// other's singletons fail with a CircularDependencyError.
func (r *Registry) singleton(reg *registration, res *resolution) (any, error) {
	if instance, ok := reg.get(); ok {
		return instance, nil
	}

	build, err := r.build.acquire(reg, res.flight)
	if err != nil {
		return nil, &errors.CircularDependencyError{Chain: res.chainStrings()}
	}
	if !build {
		instance, _ := reg.get()
		return instance, nil
	}
	defer r.build.release(reg)

	instance, err := reg.factory(res)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	reg.instance = instance
	reg.built = true
	reg.mu.Unlock()

	if st := reg.owner; st != nil {
		st.createdMu.Lock()
		st.created = append(st.created, reg)
		st.createdMu.Unlock()
	}

	return instance, nil
}

func (reg *registration) get() (any, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.instance, reg.built
}

// CreateScope opens a new scope backed by this registry.
func (r *Registry) CreateScope() *Scope {
	return newScope(r)
}

// WithScope runs fn inside a new scope and disposes the scope on every exit
// path. A panic in fn is re-raised after disposal.
func (r *Registry) WithScope(ctx context.Context, fn func(ctx context.Context, s *Scope) error) (err error) {
	s := r.CreateScope()
	defer func() {
		rec := recover()
		if derr := s.Dispose(ctx); derr != nil {
			err = errors.Append(err, derr)
		}
		if rec != nil {
			panic(rec)
		}
	}()
	return fn(ContextWithScope(ctx, s), s)
}

// Validate checks declared constructor dependencies for cycles.
func (r *Registry) Validate() error {
	r.mu.RLock()
	graph := NewDependencyGraph()
	for _, key := range r.st.order {
		reg, ok := r.st.services[key]
		if !ok {
			continue
		}
		deps := make([]string, 0, len(reg.desc.Dependencies))
		for _, d := range reg.desc.Dependencies {
			deps = append(deps, d.String())
		}
		graph.AddNode(key.String(), deps)
	}
	r.mu.RUnlock()

	_, err := graph.TopologicalSort()
	return err
}

// Dispose releases every singleton the registry constructed, newest first.
// All instances are attempted; failures are returned together.
func (r *Registry) Dispose(ctx context.Context) error {
	r.mu.RLock()
	st := r.st
	r.mu.RUnlock()

	st.createdMu.Lock()
	created := st.created
	st.created = nil
	st.createdMu.Unlock()

	var errs error
	for i := len(created) - 1; i >= 0; i-- {
		reg := created[i]
		reg.mu.Lock()
		instance := reg.instance
		reg.instance = nil
		reg.built = false
		reg.mu.Unlock()

		if err := disposeInstance(ctx, instance); err != nil {
			r.logger.Warn("singleton dispose failed",
				logger.Service(reg.desc.Key.String()),
				logger.Error(err),
			)
			errs = errors.Append(errs, errors.NewServiceError(reg.desc.Key.String(), "dispose", err))
		}
	}
	return errors.NewDisposeError(errs)
}

// Reset replaces all registry state. Constructed singletons are dropped
// without disposal; call Dispose first to release them.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.st = newState()
	r.mu.Unlock()
	r.logger.Debug("registry reset")
}

func disposeInstance(ctx context.Context, instance any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispose panicked: %v", rec)
		}
	}()

	switch v := instance.(type) {
	case Disposer:
		return v.Dispose(ctx)
	case io.Closer:
		return v.Close()
	}
	return nil
}
