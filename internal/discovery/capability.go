package discovery

import (
	"fmt"
	"reflect"
)

// Candidate is an inspected export. Type is the instantiable type: struct
// exports are normalised to pointers. Constructor is set when the export
// was a constructor function.
type Candidate struct {
	Module      string
	Type        reflect.Type
	Constructor any
}

// Name returns the candidate's unqualified type name.
func (c Candidate) Name() string {
	t := c.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Match is a candidate that satisfies a capability. Param is the bound type
// parameter for generic capabilities.
type Match struct {
	Candidate Candidate
	Param     reflect.Type
}

// Capability decides whether a candidate qualifies. A non-nil error skips
// the candidate and is recorded as a partial failure.
type Capability interface {
	Name() string
	Match(c Candidate) (Match, bool, error)
}

type implementsCapability struct {
	iface reflect.Type
}

// Implements matches candidates assignable to the interface I.
func Implements[I any]() Capability {
	return &implementsCapability{iface: reflect.TypeFor[I]()}
}

func (c *implementsCapability) Name() string {
	return c.iface.String()
}

func (c *implementsCapability) Match(cand Candidate) (Match, bool, error) {
	if c.iface.Kind() != reflect.Interface {
		return Match{}, false, fmt.Errorf("capability %s is not an interface", c.iface)
	}
	if !cand.Type.Implements(c.iface) {
		return Match{}, false, nil
	}
	return Match{Candidate: cand}, true, nil
}

// BindFunc extracts the type parameter a candidate binds for a generic contract.
type BindFunc func(t reflect.Type) (reflect.Type, error)

type genericCapability struct {
	name  string
	shape reflect.Type
	bind  BindFunc
}

// Generic matches candidates implementing shape, binding the contract's
// type parameter through bind. bind may panic; the candidate is then skipped.
func Generic(name string, shape reflect.Type, bind BindFunc) Capability {
	return &genericCapability{name: name, shape: shape, bind: bind}
}

func (c *genericCapability) Name() string {
	return c.name
}

func (c *genericCapability) Match(cand Candidate) (Match, bool, error) {
	if c.shape == nil || c.shape.Kind() != reflect.Interface {
		return Match{}, false, fmt.Errorf("capability %s has no interface shape", c.name)
	}
	if !cand.Type.Implements(c.shape) {
		return Match{}, false, nil
	}
	param, err := c.bind(cand.Type)
	if err != nil {
		return Match{}, false, err
	}
	if param == nil {
		return Match{}, false, fmt.Errorf("%s bound no type parameter", cand.Type)
	}
	return Match{Candidate: cand, Param: param}, true, nil
}
