package di

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

// Scope caches Scoped instances for one unit of work, typically a request.
// A scope is meant to be used by a single flow of execution.
type Scope struct {
	id       string
	registry *Registry

	mu        sync.Mutex
	instances map[Key]any
	order     []Key
	disposed  bool
}

func newScope(r *Registry) *Scope {
	s := &Scope{
		id:        uuid.NewString(),
		registry:  r,
		instances: make(map[Key]any),
	}
	r.metrics.ScopeOpened()
	r.logger.Debug("scope created", logger.ScopeID(s.id))
	return s
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string {
	return s.id
}

// Resolve resolves key within this scope. Scoped keys are cached here;
// other lifetimes follow the registry's rules.
func (s *Scope) Resolve(key Key) (any, error) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return nil, errors.ErrScopeDisposed
	}
	return (&resolution{registry: s.registry, scope: s, flight: &flight{}}).Resolve(key)
}

// IsRegistered delegates to the backing registry.
func (s *Scope) IsRegistered(key Key) bool {
	return s.registry.IsRegistered(key)
}

func (s *Scope) contractMapper() ContractMapper {
	return s.registry.mapper
}

func (s *Scope) resolveScoped(reg *registration, res *resolution) (any, error) {
	key := reg.desc.Key

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, errors.ErrScopeDisposed
	}
	if instance, ok := s.instances[key]; ok {
		s.mu.Unlock()
		return instance, nil
	}
	s.mu.Unlock()

	// The factory may resolve other scoped keys, so it runs unlocked.
	instance, err := reg.factory(res)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[key]; ok {
		return existing, nil
	}
	s.instances[key] = instance
	s.order = append(s.order, key)
	return instance, nil
}

// Dispose releases every cached instance in reverse creation order. Every
// instance is attempted even when some fail; failures are returned together
// as a *errors.DisposeError. Disposing twice is a no-op.
func (s *Scope) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	order := s.order
	instances := s.instances
	s.order = nil
	s.instances = make(map[Key]any)
	s.mu.Unlock()

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		key := order[i]
		if err := disposeInstance(ctx, instances[key]); err != nil {
			s.registry.logger.Warn("scoped dispose failed",
				logger.ScopeID(s.id),
				logger.Service(key.String()),
				logger.Error(err),
			)
			errs = errors.Append(errs, errors.NewServiceError(key.String(), "dispose", err))
		}
	}

	s.registry.metrics.ScopeClosed()
	s.registry.logger.Debug("scope disposed", logger.ScopeID(s.id), logger.Int("instances", len(order)))
	return errors.NewDisposeError(errs)
}

type scopeContextKey struct{}

// ContextWithScope returns a context carrying s.
func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(logger.WithScopeID(ctx, s.ID()), scopeContextKey{}, s)
}

// ScopeFromContext returns the scope carried by ctx, if any.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(*Scope)
	return s, ok && s != nil
}
