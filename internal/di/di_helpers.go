package di

import (
	"fmt"
	"reflect"

	"github.com/xraph/corekit/internal/errors"
)

// Resolve with type safety
func Resolve[T any](r Resolver) (T, error) {
	return ResolveKey[T](r, KeyOf[T]())
}

// ResolveNamed resolves the named implementation of T.
func ResolveNamed[T any](r Resolver, name string) (T, error) {
	return ResolveKey[T](r, KeyOf[T]().Named(name))
}

// ResolveKey resolves key and asserts the result to T.
func ResolveKey[T any](r Resolver, key Key) (T, error) {
	var zero T
	instance, err := r.Resolve(key)
	if err != nil {
		return zero, err
	}
	if instance == nil {
		return zero, nil
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: service %s is %T, not %s", errors.ErrTypeMismatch, key, instance, reflect.TypeFor[T]())
	}
	return typed, nil
}

// MustResolve resolves or panics - use only during startup
func MustResolve[T any](r Resolver) T {
	instance, err := Resolve[T](r)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s: %v", KeyOf[T](), err))
	}
	return instance
}

func register[T any](r Registrar, factory func(Resolver) (T, error), lifetime Lifetime) error {
	return r.Register(KeyOf[T](), func(res Resolver) (any, error) {
		return factory(res)
	}, lifetime)
}

// RegisterSingleton is a convenience wrapper
func RegisterSingleton[T any](r Registrar, factory func(Resolver) (T, error)) error {
	return register(r, factory, Singleton)
}

// RegisterScoped is a convenience wrapper for per-scope services
func RegisterScoped[T any](r Registrar, factory func(Resolver) (T, error)) error {
	return register(r, factory, Scoped)
}

// RegisterTransient is a convenience wrapper
func RegisterTransient[T any](r Registrar, factory func(Resolver) (T, error)) error {
	return register(r, factory, Transient)
}

// RegisterValue registers a pre-built instance (always singleton). The
// registry does not dispose values it did not construct.
func RegisterValue[T any](r Registrar, instance T) error {
	return r.Register(KeyOf[T](), valueFactory{instance}, Singleton)
}

// valueFactory lets RegisterValue store values that are themselves functions.
type valueFactory struct{ v any }

// Provide registers constructor under the key of T. The constructor's first
// result must be assignable to T; its parameters are resolved by type.
//
//	di.Provide[Store](reg, NewSQLStore, di.Singleton) // func NewSQLStore(db *DbContext) (*SQLStore, error)
func Provide[T any](r Registrar, constructor any, lifetime Lifetime) error {
	want := reflect.TypeFor[T]()
	ct := reflect.TypeOf(constructor)
	if ct == nil || ct.Kind() != reflect.Func || ct.NumOut() == 0 {
		return errors.ErrInvalidRegistration(KeyOf[T]().String(), errors.ErrInvalidFactory)
	}
	if !ct.Out(0).AssignableTo(want) {
		return errors.ErrInvalidRegistration(KeyOf[T]().String(),
			fmt.Errorf("%w: constructor returns %s, not assignable to %s", errors.ErrTypeMismatch, ct.Out(0), want))
	}
	return r.Register(KeyOf[T](), constructor, lifetime)
}
