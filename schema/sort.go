package schema

import (
	"slices"
	"sort"

	"golang.org/x/exp/constraints"
)

// Sortable is a node in a dependency graph.
type Sortable[K constraints.Ordered] interface {
	SortKey() K     // sorted by this, ascending
	DependsOn() []K // keys of the nodes that must come first
}

// Sort orders nodes so that every node comes after the nodes it depends on.
// Nodes are visited in ascending key order, so the result does not depend on
// the initial ordering. Dependencies on keys that are not part of the input
// are ignored, and cycles are broken at the first repeated node.
//
// For the graph
//
//	a -> b -> c
//	x
//	y -> z
//
// the result is always
//
//	c, b, a, x, z, y
//
// Sort reorders the given slice in place while visiting it; pass a copy if
// the caller's order matters.
func Sort[K constraints.Ordered, T Sortable[K]](nodes []T) []T {
	state := &sortState[K, T]{
		permanent: make(map[K]void, len(nodes)),
		temporary: make(map[K]void, len(nodes)),
		byKey:     make(map[K]T, len(nodes)),
		result:    make([]T, 0, len(nodes)),
	}
	for _, node := range nodes {
		state.byKey[node.SortKey()] = node
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].SortKey() < nodes[j].SortKey()
	})
	for _, node := range nodes {
		visit(state, node)
	}
	return state.result
}

type void struct{}

type sortState[K constraints.Ordered, T Sortable[K]] struct {
	permanent map[K]void
	temporary map[K]void
	byKey     map[K]T
	result    []T
}

func visit[K constraints.Ordered, T Sortable[K]](state *sortState[K, T], node T) {
	key := node.SortKey()
	if _, ok := state.permanent[key]; ok {
		return
	}
	if _, ok := state.temporary[key]; ok {
		// cycle
		return
	}
	state.temporary[key] = void{}
	deps := slices.Clone(node.DependsOn())
	slices.Sort(deps)
	for _, dep := range deps {
		if child, ok := state.byKey[dep]; ok {
			visit(state, child)
		}
	}
	delete(state.temporary, key)
	state.permanent[key] = void{}
	state.result = append(state.result, node)
}
