package depgraph

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/strata-data/extract-engine/pkg/models"
)

// Edge is one typed dependency edge in the graph. Source depends on Target.
type Edge struct {
	ID     uuid.UUID
	Source string
	Target string
	Type   models.DependencyType
}

// Graph is a directed multigraph over source identifiers. Edges point from
// the dependent source to the source it depends on. The graph is pure data:
// no I/O, no locks; the Manager owns synchronization.
type Graph struct {
	nodes map[string]struct{}
	// out: source -> edges leaving it (its dependencies)
	out map[string][]Edge
	// in: target -> edges entering it (its dependents)
	in map[string][]Edge
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

// AddEdge inserts a dependency edge. Both endpoints become graph nodes.
// Duplicate (source, target, type) edges are rejected by the Manager before
// reaching the graph, but the graph itself tolerates multi-edges.
func (g *Graph) AddEdge(e Edge) {
	g.nodes[e.Source] = struct{}{}
	g.nodes[e.Target] = struct{}{}
	g.out[e.Source] = append(g.out[e.Source], e)
	g.in[e.Target] = append(g.in[e.Target], e)
}

// RemoveEdge deletes the edge with the given dependency id.
// Returns false if no such edge exists. Endpoint nodes with no remaining
// edges are dropped from the node set.
func (g *Graph) RemoveEdge(id uuid.UUID) bool {
	var removed *Edge
	for source, edges := range g.out {
		for i, e := range edges {
			if e.ID == id {
				removed = &e
				g.out[source] = append(edges[:i], edges[i+1:]...)
				break
			}
		}
		if removed != nil {
			break
		}
	}
	if removed == nil {
		return false
	}

	inEdges := g.in[removed.Target]
	for i, e := range inEdges {
		if e.ID == id {
			g.in[removed.Target] = append(inEdges[:i], inEdges[i+1:]...)
			break
		}
	}

	g.pruneNode(removed.Source)
	g.pruneNode(removed.Target)
	return true
}

func (g *Graph) pruneNode(id string) {
	if len(g.out[id]) == 0 && len(g.in[id]) == 0 {
		delete(g.nodes, id)
		delete(g.out, id)
		delete(g.in, id)
	}
}

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// EdgesFrom returns the dependency edges leaving source (what it depends on).
func (g *Graph) EdgesFrom(source string) []Edge {
	return append([]Edge(nil), g.out[source]...)
}

// EdgesTo returns the dependency edges entering target (who depends on it).
func (g *Graph) EdgesTo(target string) []Edge {
	return append([]Edge(nil), g.in[target]...)
}

// TopoSort orders the induced subgraph over ids so that every dependency
// appears before its dependent. Ties among ready nodes break by ascending
// id, making the order deterministic regardless of map iteration.
//
// Cycles made only of soft edges (anything but EXECUTION) are broken by
// emitting the smallest-id stuck node and continuing. A cycle that
// includes an EXECUTION edge cannot be broken; TopoSort returns the
// execution cycles found in the stuck region.
func (g *Graph) TopoSort(ids []string) ([]string, [][]string) {
	inSubgraph := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSubgraph[id] = true
	}

	// Remaining dependency count per node, restricted to the subgraph.
	remaining := make(map[string]int, len(ids))
	for _, id := range ids {
		count := 0
		for _, e := range g.out[id] {
			if inSubgraph[e.Target] && e.Target != id {
				count++
			}
		}
		remaining[id] = count
	}

	emitted := make(map[string]bool, len(ids))
	order := make([]string, 0, len(ids))

	emit := func(id string) {
		emitted[id] = true
		order = append(order, id)
		for _, e := range g.in[id] {
			if inSubgraph[e.Source] && !emitted[e.Source] {
				remaining[e.Source]--
			}
		}
	}

	for len(order) < len(remaining) {
		ready := make([]string, 0)
		for id := range remaining {
			if !emitted[id] && remaining[id] <= 0 {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			// Stuck: every unemitted node still waits on another. If the
			// stuck region contains an execution cycle, ordering is
			// impossible. Otherwise break the softest knot deterministically.
			stuck := make([]string, 0)
			for id := range remaining {
				if !emitted[id] {
					stuck = append(stuck, id)
				}
			}
			sort.Strings(stuck)

			if cycles := g.executionCycles(stuck); len(cycles) > 0 {
				return nil, cycles
			}
			emit(stuck[0])
			continue
		}

		sort.Strings(ready)
		emit(ready[0])
	}

	return order, nil
}

// DetectCycles finds all distinct cycles in the full graph using a
// three-color DFS with recursion-stack marking. Each cycle is returned as
// an ordered chain, rotated so its smallest id comes first, which makes
// the result rotation-invariant and deterministic. Multi-edges between the
// same pair contribute at most one cycle occurrence.
func (g *Graph) DetectCycles() [][]string {
	return g.detectCycles(g.Nodes(), nil)
}

// executionCycles finds cycles within the given nodes that include at
// least one EXECUTION-type edge.
func (g *Graph) executionCycles(nodes []string) [][]string {
	all := g.detectCycles(nodes, func(c []string) bool {
		return g.cycleHasType(c, models.DependencyTypeExecution)
	})
	return all
}

func (g *Graph) cycleHasType(cycle []string, t models.DependencyType) bool {
	for i := range cycle {
		from := cycle[i]
		to := cycle[(i+1)%len(cycle)]
		for _, e := range g.out[from] {
			if e.Target == to && e.Type == t {
				return true
			}
		}
	}
	return false
}

const (
	colorWhite = 0 // unvisited
	colorGray  = 1 // on the recursion stack
	colorBlack = 2 // fully explored
)

// detectCycles runs the DFS over the given nodes, optionally keeping only
// cycles that pass the filter. Visiting nodes in sorted order keeps the
// output deterministic across runs and rebuilds.
func (g *Graph) detectCycles(nodes []string, keep func([]string) bool) [][]string {
	restricted := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		restricted[n] = true
	}

	color := make(map[string]int, len(nodes))
	var stack []string
	onStack := make(map[string]int) // node -> index in stack
	var cycles [][]string
	seen := make(map[string]bool) // normalized cycle dedup

	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)

	var visit func(n string)
	visit = func(n string) {
		color[n] = colorGray
		onStack[n] = len(stack)
		stack = append(stack, n)

		// Walk distinct neighbors in sorted order; multi-edges collapse.
		neighbors := make([]string, 0, len(g.out[n]))
		dedup := make(map[string]bool)
		for _, e := range g.out[n] {
			if restricted[e.Target] && !dedup[e.Target] {
				dedup[e.Target] = true
				neighbors = append(neighbors, e.Target)
			}
		}
		sort.Strings(neighbors)

		for _, next := range neighbors {
			switch color[next] {
			case colorWhite:
				visit(next)
			case colorGray:
				// Back edge: the chain from next to n is a cycle.
				chain := normalizeCycle(stack[onStack[next]:])
				key := strings.Join(chain, "\x00")
				if !seen[key] && (keep == nil || keep(chain)) {
					seen[key] = true
					cycles = append(cycles, chain)
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, n)
		color[n] = colorBlack
	}

	for _, n := range sorted {
		if color[n] == colorWhite {
			visit(n)
		}
	}
	return cycles
}

// normalizeCycle rotates a cycle so its lexicographically smallest node
// comes first. The chain itself keeps edge order.
func normalizeCycle(cycle []string) []string {
	out := append([]string(nil), cycle...)
	if len(out) == 0 {
		return out
	}
	minIdx := 0
	for i, n := range out {
		if n < out[minIdx] {
			minIdx = i
		}
	}
	return append(out[minIdx:], out[:minIdx]...)
}

// Dependents walks reverse edges from source and returns the direct and
// transitive dependents, each sorted ascending.
func (g *Graph) Dependents(source string) (direct []string, transitive []string) {
	directSet := make(map[string]bool)
	for _, e := range g.in[source] {
		directSet[e.Source] = true
	}

	visited := map[string]bool{source: true}
	queue := []string{source}
	transSet := make(map[string]bool)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.in[current] {
			if !visited[e.Source] {
				visited[e.Source] = true
				transSet[e.Source] = true
				queue = append(queue, e.Source)
			}
		}
	}

	direct = sortedKeys(directSet)
	transitive = sortedKeys(transSet)
	return direct, transitive
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
