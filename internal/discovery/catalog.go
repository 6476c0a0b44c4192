// Package discovery finds implementations of a capability among the types
// that packages export through an explicit manifest.
//
// Packages announce their exports from an init function, the same way
// database/sql drivers register themselves:
//
//	func init() {
//		discovery.Register(discovery.Module{
//			Name:    "github.com/acme/app/orders",
//			Version: "v1",
//			Exports: []any{NewOrderRepository, (*SeedOrdersTask)(nil)},
//		})
//	}
package discovery

import (
	"sync"
)

// Module is one manifest entry. Exports may hold constructor functions,
// reflect.Type values or typed prototypes such as (*T)(nil).
type Module struct {
	Name    string
	Version string
	Exports []any
}

// Catalog is the set of modules available for discovery.
type Catalog struct {
	mu         sync.RWMutex
	modules    map[string]Module
	order      []string
	generation uint64
}

// DefaultCatalog receives modules registered through Register.
var DefaultCatalog = NewCatalog()

// Register adds m to DefaultCatalog.
func Register(m Module) {
	DefaultCatalog.Register(m)
}

func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]Module)}
}

// Register adds or replaces the module named m.Name. Replacing keeps the
// module's original position.
func (c *Catalog) Register(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.modules[m.Name]; !ok {
		c.order = append(c.order, m.Name)
	}
	m.Exports = append([]any(nil), m.Exports...)
	c.modules[m.Name] = m
	c.generation++
}

// Remove drops the module named name.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.modules[name]; !ok {
		return
	}
	delete(c.modules, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.generation++
}

// Modules returns the registered modules in registration order.
func (c *Catalog) Modules() []Module {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Module, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.modules[name])
	}
	return out
}

// Generation changes whenever the catalog changes.
func (c *Catalog) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}
