package di

import (
	"fmt"
	"reflect"

	"github.com/xraph/corekit/internal/errors"
)

var (
	resolverType = reflect.TypeFor[Resolver]()
	errorType    = reflect.TypeFor[error]()
)

// constructor wraps a plain function whose parameters are resolved by type.
type constructor struct {
	fn     reflect.Value
	params []reflect.Type
	deps   []Key
	out    reflect.Type
}

// newConstructor validates fn and derives the keys of its parameters.
// Parameters of type Resolver receive the active resolver.
func newConstructor(fn any, mapper ContractMapper) (*constructor, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, errors.ErrInvalidFactory
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic constructors are not supported", errors.ErrInvalidFactory)
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0) == errorType {
			return nil, fmt.Errorf("%w: constructor returns only an error", errors.ErrInvalidFactory)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result must be error, got %s", errors.ErrInvalidFactory, t.Out(1))
		}
	default:
		return nil, fmt.Errorf("%w: constructor must return (T) or (T, error), got %d results", errors.ErrInvalidFactory, t.NumOut())
	}

	c := &constructor{fn: v, out: t.Out(0)}
	for i := range t.NumIn() {
		p := t.In(i)
		c.params = append(c.params, p)
		if p == resolverType {
			continue
		}
		c.deps = append(c.deps, keyForParam(p, mapper))
	}
	return c, nil
}

func keyForParam(t reflect.Type, mapper ContractMapper) Key {
	if mapper != nil {
		if k, ok := mapper(t); ok {
			return k
		}
	}
	return KeyForType(t)
}

func (c *constructor) call(r Resolver) (any, error) {
	args := make([]reflect.Value, len(c.params))
	dep := 0
	for i, p := range c.params {
		if p == resolverType {
			args[i] = reflect.ValueOf(&r).Elem()
			continue
		}
		key := c.deps[dep]
		dep++

		v, err := r.Resolve(key)
		if err != nil {
			return nil, err
		}
		arg, err := assignable(v, p, key)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}

	results := c.fn.Call(args)
	if len(results) == 2 && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

func assignable(v any, to reflect.Type, key Key) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(to), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(to) {
		return reflect.Value{}, fmt.Errorf("%w: %s resolved to %s, want %s", errors.ErrTypeMismatch, key, rv.Type(), to)
	}
	return rv, nil
}

// zeroFactory builds instances of t without dependencies. Pointer types get
// a freshly allocated element.
func zeroFactory(t reflect.Type) Factory {
	return func(Resolver) (any, error) {
		if t.Kind() == reflect.Pointer {
			return reflect.New(t.Elem()).Interface(), nil
		}
		return reflect.New(t).Elem().Interface(), nil
	}
}

// Invoke calls fn with its parameters resolved from r and returns its first
// result. fn follows the constructor rules used by Register.
func Invoke(r Resolver, fn any) (any, error) {
	var mapper ContractMapper
	if m, ok := r.(interface{ contractMapper() ContractMapper }); ok {
		mapper = m.contractMapper()
	}
	c, err := newConstructor(fn, mapper)
	if err != nil {
		return nil, err
	}
	return c.call(r)
}
