package depgraph

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/strata-data/extract-engine/pkg/models"
)

func edge(source, target string, t models.DependencyType) Edge {
	return Edge{ID: uuid.New(), Source: source, Target: target, Type: t}
}

func TestTopoSort_DependenciesFirst(t *testing.T) {
	g := NewGraph()
	// orders depends on customers and products; reports depends on orders.
	g.AddEdge(edge("orders", "customers", models.DependencyTypeData))
	g.AddEdge(edge("orders", "products", models.DependencyTypeData))
	g.AddEdge(edge("reports", "orders", models.DependencyTypeExecution))

	order, cycles := g.TopoSort([]string{"reports", "orders", "customers", "products"})
	if cycles != nil {
		t.Fatalf("unexpected cycles: %v", cycles)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["customers"] > pos["orders"] || pos["products"] > pos["orders"] {
		t.Errorf("dependencies must come before dependents: %v", order)
	}
	if pos["orders"] > pos["reports"] {
		t.Errorf("orders must come before reports: %v", order)
	}
}

func TestTopoSort_DeterministicTieBreak(t *testing.T) {
	g := NewGraph()
	// Three independent nodes plus one dependent.
	g.AddEdge(edge("zeta", "alpha", models.DependencyTypeData))
	g.AddEdge(edge("zeta", "beta", models.DependencyTypeData))
	g.AddEdge(edge("zeta", "gamma", models.DependencyTypeData))

	want, _ := g.TopoSort([]string{"zeta", "gamma", "beta", "alpha"})
	if !reflect.DeepEqual(want, []string{"alpha", "beta", "gamma", "zeta"}) {
		t.Fatalf("expected ascending tie-break, got %v", want)
	}

	for i := 0; i < 20; i++ {
		got, _ := g.TopoSort([]string{"beta", "alpha", "zeta", "gamma"})
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("order not deterministic: %v vs %v", got, want)
		}
	}
}

func TestTopoSort_SoftCycleIsBroken(t *testing.T) {
	g := NewGraph()
	// Resource hint cycle: tolerable, must still produce a total order.
	g.AddEdge(edge("a", "b", models.DependencyTypeResource))
	g.AddEdge(edge("b", "a", models.DependencyTypeResource))

	order, cycles := g.TopoSort([]string{"a", "b"})
	if cycles != nil {
		t.Fatalf("soft cycle should not be fatal: %v", cycles)
	}
	if len(order) != 2 {
		t.Fatalf("expected both nodes ordered, got %v", order)
	}
}

func TestTopoSort_ExecutionCycleFails(t *testing.T) {
	g := NewGraph()
	g.AddEdge(edge("a", "b", models.DependencyTypeExecution))
	g.AddEdge(edge("b", "c", models.DependencyTypeExecution))
	g.AddEdge(edge("c", "a", models.DependencyTypeExecution))

	order, cycles := g.TopoSort([]string{"a", "b", "c"})
	if order != nil {
		t.Fatalf("expected no order, got %v", order)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %v", cycles)
	}
	if !reflect.DeepEqual(cycles[0], []string{"a", "b", "c"}) {
		t.Errorf("expected normalized chain [a b c], got %v", cycles[0])
	}
}

func TestDetectCycles_RotationInvariant(t *testing.T) {
	build := func(edges [][2]string) *Graph {
		g := NewGraph()
		for _, e := range edges {
			g.AddEdge(edge(e[0], e[1], models.DependencyTypeExecution))
		}
		return g
	}

	// Same cycle inserted starting from different nodes.
	g1 := build([][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	g2 := build([][2]string{{"c", "a"}, {"a", "b"}, {"b", "c"}})

	c1 := g1.DetectCycles()
	c2 := g2.DetectCycles()
	if !reflect.DeepEqual(c1, c2) {
		t.Fatalf("cycle detection not rotation-invariant: %v vs %v", c1, c2)
	}
	if len(c1) != 1 || !reflect.DeepEqual(c1[0], []string{"a", "b", "c"}) {
		t.Errorf("expected [[a b c]], got %v", c1)
	}
}

func TestDetectCycles_MultiEdgeTerminates(t *testing.T) {
	g := NewGraph()
	// Two parallel edges of different types between the same pair.
	g.AddEdge(edge("a", "b", models.DependencyTypeData))
	g.AddEdge(edge("a", "b", models.DependencyTypeResource))
	g.AddEdge(edge("b", "a", models.DependencyTypeData))

	cycles := g.DetectCycles()
	if len(cycles) != 1 {
		t.Fatalf("expected one distinct cycle despite multi-edges, got %v", cycles)
	}
}

func TestDetectCycles_NoCycles(t *testing.T) {
	g := NewGraph()
	g.AddEdge(edge("a", "b", models.DependencyTypeData))
	g.AddEdge(edge("b", "c", models.DependencyTypeData))

	if cycles := g.DetectCycles(); len(cycles) != 0 {
		t.Errorf("expected no cycles, got %v", cycles)
	}
}

func TestRemoveEdge(t *testing.T) {
	g := NewGraph()
	e := edge("a", "b", models.DependencyTypeData)
	g.AddEdge(e)

	if !g.RemoveEdge(e.ID) {
		t.Fatal("expected removal to succeed")
	}
	if g.RemoveEdge(e.ID) {
		t.Fatal("second removal should report missing edge")
	}
	if len(g.Nodes()) != 0 {
		t.Errorf("edgeless nodes should be pruned, got %v", g.Nodes())
	}
}

func TestDependents(t *testing.T) {
	g := NewGraph()
	g.AddEdge(edge("orders", "customers", models.DependencyTypeData))
	g.AddEdge(edge("reports", "orders", models.DependencyTypeExecution))
	g.AddEdge(edge("audit", "orders", models.DependencyTypeExecution))

	direct, transitive := g.Dependents("customers")
	if !reflect.DeepEqual(direct, []string{"orders"}) {
		t.Errorf("direct dependents: got %v", direct)
	}
	if !reflect.DeepEqual(transitive, []string{"audit", "orders", "reports"}) {
		t.Errorf("transitive dependents: got %v", transitive)
	}
}
