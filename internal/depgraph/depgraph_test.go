// SPDX-License-Identifier: MPL-2.0

package depgraph

import (
	"errors"
	"slices"
	"testing"
)

// chain builds C -> B -> A (C depends on B, B depends on A).
func chain() *Graph {
	g := New()
	g.AddDependency("B", "A")
	g.AddDependency("C", "B")
	return g
}

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()
	order, err := New().TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSort_Chain(t *testing.T) {
	t.Parallel()
	order, err := chain().TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"A", "B", "C"}) {
		t.Errorf("expected [A B C], got %v", order)
	}
}

func TestTopologicalSort_Diamond(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddDependency("B", "A")
	g.AddDependency("C", "A")
	g.AddDependency("D", "B")
	g.AddDependency("D", "C")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"A", "B", "C", "D"}) {
		t.Errorf("expected [A B C D], got %v", order)
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	t.Parallel()
	g := chain()
	g.AddDependency("A", "C")
	g.AddNode("free")

	_, err := g.TopologicalSort()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if !slices.Equal(cycleErr.Cycle, []string{"A", "B", "C"}) {
		t.Errorf("Cycle = %v, want [A B C]", cycleErr.Cycle)
	}
	if _, err := g.LongestDownstreamPath(); !errors.As(err, &cycleErr) {
		t.Errorf("LongestDownstreamPath should report the cycle, got %v", err)
	}
}

func TestTopologicalSort_SelfLoop(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddDependency("A", "A")
	var cycleErr *CycleError
	if _, err := g.TopologicalSort(); !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
}

func TestTransitiveDependents(t *testing.T) {
	t.Parallel()
	g := chain()
	g.AddNode("unrelated")

	if got := g.TransitiveDependents("A"); !slices.Equal(got, []string{"B", "C"}) {
		t.Errorf("TransitiveDependents(A) = %v", got)
	}
	if got := g.TransitiveDependents("A", "B"); !slices.Equal(got, []string{"C"}) {
		t.Errorf("TransitiveDependents(A, B) = %v", got)
	}
	if got := g.TransitiveDependencies("C"); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("TransitiveDependencies(C) = %v", got)
	}
}

func TestSetDependencies_ReplacesEdges(t *testing.T) {
	t.Parallel()
	g := chain()
	g.SetDependencies("C", []string{"A"})

	if got := g.Dependencies("C"); !slices.Equal(got, []string{"A"}) {
		t.Errorf("Dependencies(C) = %v", got)
	}
	if got := g.Dependents("B"); len(got) != 0 {
		t.Errorf("Dependents(B) = %v, want none", got)
	}
}

func TestRemoveNode(t *testing.T) {
	t.Parallel()
	g := chain()
	g.RemoveNode("B")

	if g.Has("B") || g.Len() != 2 {
		t.Fatalf("B not removed: %v", g.Nodes())
	}
	if got := g.TransitiveDependents("A"); len(got) != 0 {
		t.Errorf("TransitiveDependents(A) = %v after removing B", got)
	}
}

func TestLongestDownstreamPath(t *testing.T) {
	t.Parallel()
	g := chain()
	g.AddDependency("D", "A")

	depth, err := g.LongestDownstreamPath()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int{"A": 2, "B": 1, "C": 0, "D": 0}
	for k, v := range want {
		if depth[k] != v {
			t.Errorf("depth[%s] = %d, want %d", k, depth[k], v)
		}
	}
}

func TestClone_Independent(t *testing.T) {
	t.Parallel()
	g := chain()
	c := g.Clone()
	c.RemoveNode("A")
	if !g.Has("A") || len(g.Dependencies("B")) != 1 {
		t.Error("mutating the clone changed the original")
	}
}

func TestCycleError_Message(t *testing.T) {
	t.Parallel()
	err := &CycleError{Cycle: []string{"A", "B", "C"}}
	if err.Error() != "dependency cycle detected: A -> B -> C" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestLevels(t *testing.T) {
	t.Parallel()

	g := chain()
	g.AddDependency("D", "A")
	g.AddNode("E")
	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"A", "E"}, {"B", "D"}, {"C"}}
	if len(levels) != len(want) {
		t.Fatalf("expected %v, got %v", want, levels)
	}
	for i := range want {
		if !slices.Equal(levels[i], want[i]) {
			t.Errorf("level %d: expected %v, got %v", i, want[i], levels[i])
		}
	}

	g.AddDependency("A", "C")
	var cycleErr *CycleError
	if _, err := g.Levels(); !errors.As(err, &cycleErr) {
		t.Errorf("expected CycleError, got %v", err)
	}
}

func TestRestrict(t *testing.T) {
	t.Parallel()

	g := chain()
	g.AddDependency("C", "A")
	sub := g.Restrict("A", "C", "missing")
	if !slices.Equal(sub.Nodes(), []string{"A", "C"}) {
		t.Errorf("expected nodes [A C], got %v", sub.Nodes())
	}
	if !slices.Equal(sub.Dependencies("C"), []string{"A"}) {
		t.Errorf("expected C to keep only its edge to A, got %v", sub.Dependencies("C"))
	}
	if !g.Has("B") || !slices.Equal(g.Dependencies("C"), []string{"A", "B"}) {
		t.Error("Restrict modified the original graph")
	}
}
