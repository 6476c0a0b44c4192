package di

import (
	"github.com/xraph/corekit/internal/errors"
)

// DependencyGraph orders services by their declared dependencies.
type DependencyGraph struct {
	nodes map[string]*node
	order []string // registration order
}

type node struct {
	name         string
	dependencies []string
}

// NewDependencyGraph creates a new dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a node with its dependencies. Re-adding a name replaces its
// dependencies and keeps its original position.
func (g *DependencyGraph) AddNode(name string, dependencies []string) {
	if _, ok := g.nodes[name]; !ok {
		g.order = append(g.order, name)
	}
	g.nodes[name] = &node{
		name:         name,
		dependencies: dependencies,
	}
}

// TopologicalSort returns nodes in dependency order. Nodes without
// dependencies keep their registration order. Dependencies missing from the
// graph are ignored; they surface at resolution time instead.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	result := make([]string, 0, len(g.nodes))
	var path []string

	for _, name := range g.order {
		if err := g.visit(name, visited, visiting, &path, &result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (g *DependencyGraph) visit(name string, visited, visiting map[string]bool, path, result *[]string) error {
	if visited[name] {
		return nil
	}

	if visiting[name] {
		return &errors.CircularDependencyError{Chain: cycleFrom(*path, name)}
	}

	n := g.nodes[name]
	if n == nil {
		return nil
	}

	visiting[name] = true
	*path = append(*path, name)

	for _, dep := range n.dependencies {
		if err := g.visit(dep, visited, visiting, path, result); err != nil {
			return err
		}
	}

	*path = (*path)[:len(*path)-1]
	visiting[name] = false
	visited[name] = true
	*result = append(*result, name)

	return nil
}

// cycleFrom trims path to the segment starting at name and closes the loop.
func cycleFrom(path []string, name string) []string {
	for i, p := range path {
		if p == name {
			chain := append([]string(nil), path[i:]...)
			return append(chain, name)
		}
	}
	return []string{name, name}
}
