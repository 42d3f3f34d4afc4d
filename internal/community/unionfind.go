package community

// unionFind is a disjoint-set forest over string ids with union by rank and
// path compression. find compresses iteratively so deep chains on large
// graphs cannot exhaust the stack.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind(elements []string) *unionFind {
	uf := &unionFind{
		parent: make(map[string]string, len(elements)),
		rank:   make(map[string]int, len(elements)),
	}
	for _, e := range elements {
		uf.parent[e] = e
	}
	return uf
}

func (uf *unionFind) find(element string) string {
	root, ok := uf.parent[element]
	if !ok {
		// Edges can reference ids missing from the node listing.
		uf.parent[element] = element
		return element
	}
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	// Second pass: point every node on the walk directly at the root.
	for element != root {
		next := uf.parent[element]
		uf.parent[element] = root
		element = next
	}
	return root
}

func (uf *unionFind) union(a, b string) {
	rootA := uf.find(a)
	rootB := uf.find(b)
	if rootA == rootB {
		return
	}

	switch {
	case uf.rank[rootA] < uf.rank[rootB]:
		uf.parent[rootA] = rootB
	case uf.rank[rootA] > uf.rank[rootB]:
		uf.parent[rootB] = rootA
	default:
		// Equal rank: attach the second root under the first.
		uf.parent[rootB] = rootA
		uf.rank[rootA]++
	}
}
