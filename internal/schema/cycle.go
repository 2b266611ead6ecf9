package schema

import "sort"

// findCycle runs Tarjan's strongly connected components algorithm over the
// field dependency graph (qualified name -> maintained fields it reads) and
// returns one cycle path such as ["a", "b", "a"], or nil for a DAG. Nodes
// are visited in sorted order so the reported cycle is deterministic.
func findCycle(graph map[string][]string) []string {
	nodes := collectNodes(graph)

	var (
		index   int
		stack   []string
		indices = make(map[string]int, len(nodes))
		lowlink = make(map[string]int, len(nodes))
		onStack = make(map[string]bool, len(nodes))
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
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
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	for _, scc := range sccs {
		if len(scc) > 1 {
			return cyclePath(scc, graph)
		}
		if hasSelfLoop(scc[0], graph) {
			return []string{scc[0], scc[0]}
		}
	}
	return nil
}

func collectNodes(graph map[string][]string) []string {
	seen := make(map[string]bool, len(graph))
	var nodes []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	for node, succs := range graph {
		add(node)
		for _, s := range succs {
			add(s)
		}
	}
	sort.Strings(nodes)
	return nodes
}

func hasSelfLoop(node string, graph map[string][]string) bool {
	for _, succ := range graph[node] {
		if succ == node {
			return true
		}
	}
	return false
}

// cyclePath walks edges inside the SCC from its smallest member until the
// walk returns to the start, yielding a concrete dependency chain.
func cyclePath(scc []string, graph map[string][]string) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	for _, node := range scc[1:] {
		if node < start {
			start = node
		}
	}

	path := []string{start}
	visited := make(map[string]bool, len(scc))
	current := start
	for {
		visited[current] = true
		next := ""
		for _, succ := range graph[current] {
			if members[succ] && (!visited[succ] || succ == start) {
				next = succ
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// computeRanks assigns each field its longest dependency depth: 0 when only
// plain attributes are read, otherwise one more than the deepest maintained
// field it reads. Callable only after findCycle returned nil.
func computeRanks(order []*FieldSpec, depsOf map[string][]string) map[string]int {
	ranks := make(map[string]int, len(order))
	var visit func(name string) int
	visit = func(name string) int {
		if rank, ok := ranks[name]; ok {
			return rank
		}
		rank := 0
		for _, dep := range depsOf[name] {
			if r := visit(dep) + 1; r > rank {
				rank = r
			}
		}
		ranks[name] = rank
		return rank
	}
	for _, spec := range order {
		visit(spec.QualifiedName())
	}
	return ranks
}
