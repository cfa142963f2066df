package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
)

type nodeKind int

const (
	kindEntity nodeKind = iota
	kindConstraint
)

type node struct {
	kind     nodeKind
	name     string // component name or attribute name
	grouping int
	out      []string // node keys this node has an edge to
	indegree int
}

func (n *node) key() string {
	if n.kind == kindEntity {
		return "E:" + n.name
	}
	return "C:" + n.name
}

// topoSort builds the bipartite entity/constraint graph for the entities in
// state and returns the lexicographic-Kahn topological order, keyed by
// (grouping, constraint-name-or-entity-id) per spec.md §4.4.
func (r *Resolver) topoSort(state *planState) (*Plan, error) {
	nodes := make(map[string]*node)

	ensureConstraint := func(attr string, grouping int) *node {
		key := "C:" + attr
		n, ok := nodes[key]
		if !ok {
			n = &node{kind: kindConstraint, name: attr, grouping: grouping}
			nodes[key] = n
		} else if grouping < n.grouping {
			n.grouping = grouping
		}
		return n
	}

	for name := range state.inPlan {
		nodes["E:"+name] = &node{kind: kindEntity, name: name, grouping: state.grouping[name]}
	}

	addEdge := func(fromKey, toKey string) {
		from := nodes[fromKey]
		to := nodes[toKey]
		from.out = append(from.out, toKey)
		to.indegree++
	}

	for name := range state.inPlan {
		m, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		eKey := "E:" + name
		g := state.grouping[name]

		for _, attr := range m.AttributeProvides {
			ensureConstraint(attr, g)
			addEdge(eKey, "C:"+attr)
		}
		for _, attr := range m.AttributeDepends {
			ensureConstraint(attr, g)
			addEdge("C:"+attr, eKey)
		}
		for _, attr := range m.AttributePrecedes {
			ensureConstraint(attr, g)
			addEdge(eKey, "C:"+attr)
		}
		for _, dep := range m.ComponentDepends {
			if _, ok := nodes["E:"+dep]; ok {
				addEdge("E:"+dep, eKey)
			}
		}
		for _, target := range m.ComponentPrecedes {
			if _, ok := nodes["E:"+target]; ok {
				addEdge(eKey, "E:"+target)
			}
		}
	}

	return kahnSort(nodes)
}

func kahnSort(nodes map[string]*node) (*Plan, error) {
	available := make([]*node, 0)
	for _, n := range nodes {
		if n.indegree == 0 {
			available = append(available, n)
		}
	}

	var order []string
	processed := make(map[string]bool)

	for len(available) > 0 {
		sort.Slice(available, func(i, j int) bool {
			a, b := available[i], available[j]
			if a.grouping != b.grouping {
				return a.grouping < b.grouping
			}
			return a.name < b.name
		})

		n := available[0]
		available = available[1:]
		processed[n.key()] = true

		if n.kind == kindEntity {
			order = append(order, n.name)
		}

		for _, outKey := range n.out {
			target := nodes[outKey]
			target.indegree--
			if target.indegree == 0 {
				available = append(available, target)
			}
		}
	}

	if len(processed) != len(nodes) {
		cycles := findSimpleCycles(nodes, processed)
		return nil, fmt.Errorf("%w: %s", fwerrors.ErrDependencyCycle, formatCycles(cycles))
	}

	return &Plan{Order: order}, nil
}

// findSimpleCycles does a DFS over the unresolved subgraph (nodes Kahn's
// could not retire) and reports one simple cycle per strongly connected
// starting point it finds, for the user-visible "pretty-printed simple-cycle
// listing" required by spec.md §7.
func findSimpleCycles(nodes map[string]*node, processed map[string]bool) [][]string {
	remaining := make(map[string]*node)
	for k, n := range nodes {
		if !processed[k] {
			remaining[k] = n
		}
	}

	var cycles [][]string
	visited := make(map[string]bool)

	var dfs func(start, current string, path []string, onPath map[string]bool) bool
	dfs = func(start, current string, path []string, onPath map[string]bool) bool {
		n := remaining[current]
		if n == nil {
			return false
		}
		for _, next := range n.out {
			if _, ok := remaining[next]; !ok {
				continue
			}
			if next == start && len(path) > 0 {
				cycle := append(append([]string{}, path...), labelOf(nodes[next]))
				cycles = append(cycles, cycle)
				return true
			}
			if onPath[next] {
				continue
			}
			onPath[next] = true
			if dfs(start, next, append(path, labelOf(nodes[next])), onPath) {
				return true
			}
			onPath[next] = false
		}
		return false
	}

	for k := range remaining {
		if visited[k] {
			continue
		}
		onPath := map[string]bool{k: true}
		if dfs(k, k, []string{labelOf(nodes[k])}, onPath) {
			visited[k] = true
		}
	}

	if len(cycles) == 0 && len(remaining) > 0 {
		// Defensive fallback: report the unresolved node set even if the DFS
		// above didn't isolate a clean simple cycle (e.g. a cycle that
		// shares nodes with another one already reported).
		var leftover []string
		for _, n := range remaining {
			leftover = append(leftover, labelOf(n))
		}
		sort.Strings(leftover)
		cycles = append(cycles, leftover)
	}

	return cycles
}

func labelOf(n *node) string {
	if n.kind == kindConstraint {
		return "[" + n.name + "]"
	}
	return n.name
}

func formatCycles(cycles [][]string) string {
	parts := make([]string, len(cycles))
	for i, c := range cycles {
		parts[i] = strings.Join(c, " -> ")
	}
	return strings.Join(parts, "; ")
}
