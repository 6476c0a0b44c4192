package di

import (
	"fmt"
	"reflect"
	"strings"
)

// Lifetime controls how long a resolved instance lives.
type Lifetime int

const (
	// Singleton instances are created once, lazily, and shared process-wide.
	Singleton Lifetime = iota
	// Scoped instances are created once per Scope.
	Scoped
	// Transient instances are created on every resolution.
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// ParseLifetime parses the textual form produced by Lifetime.String.
func ParseLifetime(s string) (Lifetime, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "singleton":
		return Singleton, nil
	case "scoped":
		return Scoped, nil
	case "transient":
		return Transient, nil
	}
	return 0, fmt.Errorf("unknown lifetime %q", s)
}

func (l Lifetime) valid() bool {
	return l >= Singleton && l <= Transient
}

// Key identifies a service contract. Param is set for generic contracts
// bound to a concrete type parameter. Name optionally qualifies the key so
// several implementations of one contract can coexist.
type Key struct {
	Type  string
	Param reflect.Type
	Name  string
}

// KeyOf returns the key for T.
func KeyOf[T any]() Key {
	return KeyForType(reflect.TypeFor[T]())
}

// KeyForType returns the key for t.
func KeyForType(t reflect.Type) Key {
	return Key{Type: TypeID(t)}
}

// GenericKey returns the key of contract bound to param.
func GenericKey(contract string, param reflect.Type) Key {
	return Key{Type: contract, Param: param}
}

// Named returns a copy of k qualified by name.
func (k Key) Named(name string) Key {
	k.Name = name
	return k
}

// Open strips the type parameter, yielding the open generic key.
func (k Key) Open() Key {
	k.Param = nil
	return k
}

// IsZero reports whether k identifies nothing.
func (k Key) IsZero() bool {
	return k.Type == ""
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Type)
	if k.Param != nil {
		b.WriteByte('[')
		b.WriteString(TypeID(k.Param))
		b.WriteByte(']')
	}
	if k.Name != "" {
		b.WriteByte('#')
		b.WriteString(k.Name)
	}
	return b.String()
}

// TypeID returns a package-qualified identity for t. Named types use their
// import path so identically named types from different packages differ.
func TypeID(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeID(t.Elem())
	}
	return t.String()
}

// ContractMapper maps a constructor parameter type to a service key. It
// lets parameters of an instantiated generic type resolve through the
// matching open generic contract.
type ContractMapper func(t reflect.Type) (Key, bool)
