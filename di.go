package corekit

import (
	"github.com/xraph/corekit/internal/di"
)

// Key identifies a service contract.
type Key = di.Key

// Lifetime controls how long a resolved instance lives.
type Lifetime = di.Lifetime

const (
	Singleton = di.Singleton
	Scoped    = di.Scoped
	Transient = di.Transient
)

// DuplicatePolicy decides what happens when a key is registered twice.
type DuplicatePolicy = di.DuplicatePolicy

const (
	ReplaceExisting  = di.ReplaceExisting
	KeepExisting     = di.KeepExisting
	RejectDuplicates = di.RejectDuplicates
)

type (
	Registry          = di.Registry
	Scope             = di.Scope
	Resolver          = di.Resolver
	Registrar         = di.Registrar
	Factory           = di.Factory
	GenericFactory    = di.GenericFactory
	Disposer          = di.Disposer
	ServiceDescriptor = di.Descriptor
	RegistrationEvent = di.RegistrationEvent
)

// KeyOf returns the key for T.
func KeyOf[T any]() Key {
	return di.KeyOf[T]()
}

// Resolve returns the instance registered for T.
func Resolve[T any](r Resolver) (T, error) {
	return di.Resolve[T](r)
}

// ResolveNamed returns the instance registered for T under name.
func ResolveNamed[T any](r Resolver, name string) (T, error) {
	return di.ResolveNamed[T](r, name)
}

// MustResolve resolves T and panics on failure.
func MustResolve[T any](r Resolver) T {
	return di.MustResolve[T](r)
}

// Provide registers constructor under the key of T; its parameters are
// resolved by type when T is first needed.
func Provide[T any](r Registrar, constructor any, lifetime Lifetime) error {
	return di.Provide[T](r, constructor, lifetime)
}

// RegisterValue registers a ready instance as a singleton. The registry
// does not dispose it.
func RegisterValue[T any](r Registrar, instance T) error {
	return di.RegisterValue(r, instance)
}

func RegisterSingleton[T any](r Registrar, factory func(Resolver) (T, error)) error {
	return di.RegisterSingleton(r, factory)
}

func RegisterScoped[T any](r Registrar, factory func(Resolver) (T, error)) error {
	return di.RegisterScoped(r, factory)
}

func RegisterTransient[T any](r Registrar, factory func(Resolver) (T, error)) error {
	return di.RegisterTransient(r, factory)
}

// Invoke calls fn with its parameters resolved from r.
func Invoke(r Resolver, fn any) (any, error) {
	return di.Invoke(r, fn)
}

// ScopeFromContext returns the scope attached by the admin scope middleware
// or by Registry.WithScope.
var ScopeFromContext = di.ScopeFromContext

// ContextWithScope attaches s to ctx.
var ContextWithScope = di.ContextWithScope
