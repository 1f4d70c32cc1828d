package order

import "sort"

// graph holds required-reference edges: deps[O] lists the object types O needs first.
type graph struct {
	nodes []string
	deps  map[string][]string
}

func (g graph) dependents(subset map[string]bool) map[string][]string {
	out := map[string][]string{}
	for _, n := range g.nodes {
		if !subset[n] {
			continue
		}
		for _, d := range g.deps[n] {
			if subset[d] {
				out[d] = append(out[d], n)
			}
		}
	}
	return out
}

// indegrees counts, for every node in subset, the dependencies that are in
// subset and not yet scheduled.
func (g graph) indegrees(subset, done map[string]bool) map[string]int {
	indeg := make(map[string]int, len(subset))
	for n := range subset {
		for _, d := range g.deps[n] {
			if subset[d] && !done[d] {
				indeg[n]++
			}
		}
	}
	return indeg
}

// linearize orders nodes so that every dependency is emitted before its
// dependents. Edges to nodes in done count as satisfied. When no node is
// ready a node of a remaining cycle is forced out (see forced), so every node
// is emitted exactly once and only edges inside a cycle are broken.
func (g graph) linearize(nodes []string, done map[string]bool, less func(a, b string) bool) []string {
	subset := toSet(nodes)
	indeg := g.indegrees(subset, done)
	out := g.dependents(subset)
	for k := range out {
		sortBy(out[k], less)
	}

	var ready []string
	for _, n := range nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	sortBy(ready, less)

	emitted := map[string]bool{}
	order := make([]string, 0, len(nodes))
	for len(order) < len(nodes) {
		if len(ready) == 0 {
			ready = []string{g.forced(nodes, subset, done, emitted, less)}
		}
		n := ready[0]
		ready = ready[1:]
		if emitted[n] {
			continue
		}
		emitted[n] = true
		order = append(order, n)

		for _, m := range out[n] {
			indeg[m]--
			if indeg[m] == 0 && !emitted[m] {
				// Insert while keeping ready sorted.
				k := sort.Search(len(ready), func(i int) bool { return !less(ready[i], m) })
				ready = append(ready, "")
				copy(ready[k+1:], ready[k:])
				ready[k] = m
			}
		}
	}
	return order
}

// layers partitions nodes into waves: wave k holds the nodes whose
// dependencies all lie in earlier waves. A stall yields a single forced node
// chosen as in linearize.
func (g graph) layers(nodes []string, done map[string]bool, less func(a, b string) bool) [][]string {
	subset := toSet(nodes)
	indeg := g.indegrees(subset, done)
	out := g.dependents(subset)

	emitted := map[string]bool{}
	var waves [][]string
	for len(emitted) < len(nodes) {
		var wave []string
		for _, n := range nodes {
			if !emitted[n] && indeg[n] <= 0 {
				wave = append(wave, n)
			}
		}
		if len(wave) == 0 {
			wave = []string{g.forced(nodes, subset, done, emitted, less)}
		}
		sortBy(wave, less)
		for _, n := range wave {
			emitted[n] = true
		}
		for _, n := range wave {
			for _, m := range out[n] {
				indeg[m]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

// forced picks the node to emit when none is ready. Candidates are the
// members of a strongly connected component with no pending dependency
// outside itself; one always exists, since the components form a DAG. The
// smallest candidate by less wins.
func (g graph) forced(nodes []string, subset, done, emitted map[string]bool, less func(a, b string) bool) string {
	settled := make(map[string]bool, len(done)+len(emitted))
	for n := range done {
		settled[n] = true
	}
	for n := range emitted {
		settled[n] = true
	}
	comp := componentIndex(g, subset, settled)
	open := map[int]bool{}
	for _, n := range nodes {
		if settled[n] {
			continue
		}
		for _, d := range g.deps[n] {
			if subset[d] && !settled[d] && comp[d] != comp[n] {
				open[comp[n]] = true
			}
		}
	}

	var best string
	found := false
	for _, n := range nodes {
		if settled[n] || open[comp[n]] {
			continue
		}
		if !found || less(n, best) {
			best, found = n, true
		}
	}
	return best
}

func sortBy(items []string, less func(a, b string) bool) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func lexical(a, b string) bool { return a < b }
