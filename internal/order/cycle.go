package order

import "sort"

// components runs Tarjan's algorithm over the nodes of subset and returns
// every strongly connected component, singletons included. Edges leaving
// subset or reaching a node in done are ignored. Self edges are never
// present in g.
func components(g graph, subset, done map[string]bool) [][]string {
	var (
		index   = 0
		stack   []string
		onStack = map[string]bool{}
		indices = map[string]int{}
		lowlink = map[string]int{}
		result  [][]string
	)

	var visit func(v string)
	visit = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if !subset[w] || done[w] {
				continue
			}
			if _, seen := indices[w]; !seen {
				visit(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			result = append(result, scc)
		}
	}

	for _, n := range g.nodes {
		if !subset[n] || done[n] {
			continue
		}
		if _, seen := indices[n]; !seen {
			visit(n)
		}
	}
	return result
}

// componentIndex maps each node of subset to the id of its component.
func componentIndex(g graph, subset, done map[string]bool) map[string]int {
	idx := map[string]int{}
	for i, scc := range components(g, subset, done) {
		for _, n := range scc {
			idx[n] = i
		}
	}
	return idx
}

// stronglyConnected returns the cycles of g: components with more than one node.
func stronglyConnected(g graph) [][]string {
	var result [][]string
	for _, scc := range components(g, toSet(g.nodes), nil) {
		if len(scc) > 1 {
			sort.Strings(scc)
			result = append(result, scc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i][0] < result[j][0] })
	return result
}
