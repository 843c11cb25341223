// SPDX-License-Identifier: MPL-2.0

// Package depgraph maintains the module dependency graph: which module keys
// depend on which, what must be rebuilt when a module changes, and in what
// order modules can be built.
package depgraph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing
	// topological ordering.
	CycleError struct {
		// Cycle contains the nodes left unordered, which include every
		// node on a cycle.
		Cycle []string
	}

	// Graph is a directed graph over module keys. An edge from A to B means
	// B depends on A, so A must be built before B and a change to A
	// invalidates B. Graph is not safe for concurrent use; the registry
	// touches it only from its serial queue.
	Graph struct {
		// dependents maps each node to the nodes that depend on it.
		dependents map[string]map[string]struct{}
		// dependencies maps each node to the nodes it depends on.
		dependencies map[string]map[string]struct{}
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		dependents:   make(map[string]map[string]struct{}),
		dependencies: make(map[string]map[string]struct{}),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(key string) {
	if _, ok := g.dependents[key]; ok {
		return
	}
	g.dependents[key] = make(map[string]struct{})
	g.dependencies[key] = make(map[string]struct{})
}

// AddDependency records that dependent depends on dependency, adding both
// nodes if needed.
func (g *Graph) AddDependency(dependent, dependency string) {
	g.AddNode(dependent)
	g.AddNode(dependency)
	g.dependents[dependency][dependent] = struct{}{}
	g.dependencies[dependent][dependency] = struct{}{}
}

// SetDependencies replaces the outgoing dependencies of key.
func (g *Graph) SetDependencies(key string, deps []string) {
	g.AddNode(key)
	for dep := range g.dependencies[key] {
		delete(g.dependents[dep], key)
	}
	clear(g.dependencies[key])
	for _, dep := range deps {
		g.AddDependency(key, dep)
	}
}

// RemoveNode deletes key and its edges. Nodes that depend on key keep no
// record of the dependency.
func (g *Graph) RemoveNode(key string) {
	for dep := range g.dependencies[key] {
		delete(g.dependents[dep], key)
	}
	for d := range g.dependents[key] {
		delete(g.dependencies[d], key)
	}
	delete(g.dependents, key)
	delete(g.dependencies, key)
}

// Has reports whether key is a node.
func (g *Graph) Has(key string) bool {
	_, ok := g.dependents[key]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.dependents) }

// Nodes returns all nodes in sorted order.
func (g *Graph) Nodes() []string {
	return slices.Sorted(maps.Keys(g.dependents))
}

// Dependencies returns the sorted direct dependencies of key.
func (g *Graph) Dependencies(key string) []string {
	return slices.Sorted(maps.Keys(g.dependencies[key]))
}

// Dependents returns the sorted direct dependents of key.
func (g *Graph) Dependents(key string) []string {
	return slices.Sorted(maps.Keys(g.dependents[key]))
}

// TransitiveDependents returns every node that depends, directly or
// indirectly, on any of keys, excluding keys themselves. The result is
// sorted.
func (g *Graph) TransitiveDependents(keys ...string) []string {
	return g.reach(g.dependents, keys)
}

// TransitiveDependencies returns every node that any of keys depends on,
// directly or indirectly, excluding keys themselves. The result is sorted.
func (g *Graph) TransitiveDependencies(keys ...string) []string {
	return g.reach(g.dependencies, keys)
}

func (g *Graph) reach(edges map[string]map[string]struct{}, start []string) []string {
	seen := make(map[string]bool, len(start))
	for _, k := range start {
		seen[k] = true
	}
	var out []string
	queue := slices.Clone(start)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for next := range edges[n] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	slices.Sort(out)
	return out
}

// LongestDownstreamPath returns, for every node, the number of edges on the
// longest chain of dependents starting at it. Leaves that nothing depends on
// have 0. Building nodes with the longest downstream path first keeps the
// critical path short. Nodes on a cycle are reported with CycleError.
func (g *Graph) LongestDownstreamPath() (map[string]int, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		best := 0
		for d := range g.dependents[n] {
			best = max(best, depth[d]+1)
		}
		depth[n] = best
	}
	return depth, nil
}

// TopologicalSort returns the nodes ordered so that every node comes after
// all of its dependencies, using Kahn's algorithm. Ties are broken by key so
// the order is deterministic. Returns CycleError if the graph has a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.dependents) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.dependencies))
	for n, deps := range g.dependencies {
		inDegree[n] = len(deps)
	}

	var ready []string
	for _, n := range g.Nodes() {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	result := make([]string, 0, len(inDegree))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		result = append(result, n)

		var unlocked []string
		for d := range g.dependents[n] {
			inDegree[d]--
			if inDegree[d] == 0 {
				unlocked = append(unlocked, d)
			}
		}
		slices.Sort(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(result) != len(inDegree) {
		var cycle []string
		for _, n := range g.Nodes() {
			if inDegree[n] > 0 {
				cycle = append(cycle, n)
			}
		}
		return nil, &CycleError{Cycle: cycle}
	}
	return result, nil
}

// Levels groups the nodes so that every node depends only on nodes of
// earlier levels. Each level is sorted. Returns CycleError if the graph has
// a cycle.
func (g *Graph) Levels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(order))
	var levels [][]string
	for _, n := range order {
		d := 0
		for dep := range g.dependencies[n] {
			d = max(d, depth[dep]+1)
		}
		depth[n] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n)
	}
	for _, l := range levels {
		slices.Sort(l)
	}
	return levels, nil
}

// Restrict returns the subgraph induced by keys: the keys that are nodes of
// g and the edges between them.
func (g *Graph) Restrict(keys ...string) *Graph {
	out := New()
	keep := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := g.dependents[k]; ok {
			keep[k] = struct{}{}
			out.AddNode(k)
		}
	}
	for k := range keep {
		for d := range g.dependencies[k] {
			if _, ok := keep[d]; ok {
				out.AddDependency(k, d)
			}
		}
	}
	return out
}

// Clone returns an independent copy of g.
func (g *Graph) Clone() *Graph {
	out := New()
	for n := range g.dependents {
		out.AddNode(n)
	}
	for n, deps := range g.dependencies {
		for d := range deps {
			out.AddDependency(n, d)
		}
	}
	return out
}
