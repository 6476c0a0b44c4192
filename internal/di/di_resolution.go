package di

import (
	"sync"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/metrics"
)

// resolution is the Resolver handed to factories. It carries the chain of
// keys being constructed so cycles are reported instead of deadlocking.
type resolution struct {
	registry *Registry
	scope    *Scope
	flight   *flight
	chain    []Key
}

func (res *resolution) chainStrings() []string {
	chain := make([]string, 0, len(res.chain))
	for _, c := range res.chain {
		chain = append(chain, c.String())
	}
	return chain
}

func (res *resolution) contractMapper() ContractMapper {
	return res.registry.mapper
}

func (res *resolution) Resolve(key Key) (any, error) {
	for _, k := range res.chain {
		if k == key {
			chain := append(res.chainStrings(), key.String())
			return nil, &errors.CircularDependencyError{Chain: chain}
		}
	}

	r := res.registry
	reg, ok := r.lookup(key)
	if !ok {
		r.metrics.ObserveResolution("unknown", metrics.OutcomeFailure)
		return nil, &errors.NotRegisteredError{Key: key.String()}
	}

	child := &resolution{
		registry: r,
		scope:    res.scope,
		flight:   res.flight,
		chain:    append(append(make([]Key, 0, len(res.chain)+1), res.chain...), key),
	}

	var (
		instance any
		err      error
	)
	switch reg.desc.Lifetime {
	case Singleton:
		// Singletons outlive every scope and must not capture scoped instances.
		child.scope = nil
		instance, err = r.singleton(reg, child)
	case Scoped:
		if res.scope == nil {
			err = &errors.NoActiveScopeError{Key: key.String()}
		} else {
			instance, err = res.scope.resolveScoped(reg, child)
		}
	case Transient:
		instance, err = reg.factory(child)
	}

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	r.metrics.ObserveResolution(reg.desc.Lifetime.String(), outcome)

	if err != nil {
		return nil, wrapResolveError(key, err)
	}
	return instance, nil
}

// wrapResolveError keeps taxonomy errors intact and tags factory failures
// with the key being resolved.
func wrapResolveError(key Key, err error) error {
	switch err.(type) {
	case *errors.NotRegisteredError, *errors.CircularDependencyError, *errors.NoActiveScopeError, *errors.ServiceError:
		return err
	}
	return errors.NewServiceError(key.String(), "resolve", err)
}

// flight identifies one top-level Resolve call and everything it builds.
type flight struct{ _ byte }

var errWaitCycle = errors.New("singleton construction wait cycle")

// buildGuard records which flight is constructing each singleton and which
// singleton each blocked flight waits for, so a wait cycle between
// goroutines is reported instead of blocking both.
type buildGuard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	builders map[*registration]*flight
	waiting  map[*flight]*registration
}

func newBuildGuard() *buildGuard {
	g := &buildGuard{
		builders: make(map[*registration]*flight),
		waiting:  make(map[*flight]*registration),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// acquire reports whether f must construct reg. It returns false once
// another flight has built reg, and errWaitCycle when waiting would close
// a cycle.
func (g *buildGuard) acquire(reg *registration, f *flight) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		if _, built := reg.get(); built {
			return false, nil
		}
		owner, busy := g.builders[reg]
		if !busy {
			g.builders[reg] = f
			return true, nil
		}
		if g.waitsOn(owner, f) {
			return false, errWaitCycle
		}
		g.waiting[f] = reg
		g.cond.Wait()
		delete(g.waiting, f)
	}
}

// waitsOn follows owner through the singletons it waits for and reports
// whether the chain leads back to f.
func (g *buildGuard) waitsOn(owner, f *flight) bool {
	for range len(g.waiting) + 1 {
		if owner == f {
			return true
		}
		reg, ok := g.waiting[owner]
		if !ok {
			return false
		}
		owner = g.builders[reg]
	}
	return false
}

func (g *buildGuard) release(reg *registration) {
	g.mu.Lock()
	delete(g.builders, reg)
	g.mu.Unlock()
	g.cond.Broadcast()
}
