// Package unionfind provides a disjoint-set forest over dense integer ids
// with union by rank and path compression.
package unionfind

// Forest is a disjoint-set structure over ids [0, n). The zero value is not
// usable; create forests with New.
type Forest struct {
	parent []int
	rank   []byte
}

// New creates a forest of n singleton sets.
func New(n int) *Forest {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}

	return &Forest{parent: parent, rank: make([]byte, n)}
}

// Len returns the number of elements in the forest.
func (f *Forest) Len() int {
	return len(f.parent)
}

// Grow extends the forest with additional singleton sets up to n elements.
func (f *Forest) Grow(n int) {
	for i := len(f.parent); i < n; i++ {
		f.parent = append(f.parent, i)
		f.rank = append(f.rank, 0)
	}
}

// Find returns the representative of x's set, compressing the path.
func (f *Forest) Find(x int) int {
	root := x
	for f.parent[root] != root {
		root = f.parent[root]
	}

	for f.parent[x] != root {
		f.parent[x], x = root, f.parent[x]
	}

	return root
}

// Union merges the sets containing x and y and reports whether they were
// previously disjoint.
func (f *Forest) Union(x, y int) bool {
	rx, ry := f.Find(x), f.Find(y)
	if rx == ry {
		return false
	}

	if f.rank[rx] < f.rank[ry] {
		rx, ry = ry, rx
	}

	f.parent[ry] = rx
	if f.rank[rx] == f.rank[ry] {
		f.rank[rx]++
	}

	return true
}

// Components groups all ids by representative and returns the groups. Order
// within and across groups follows ascending id, so output is deterministic.
func (f *Forest) Components() [][]int {
	byRoot := make(map[int][]int)

	for i := range f.parent {
		root := f.Find(i)
		byRoot[root] = append(byRoot[root], i)
	}

	components := make([][]int, 0, len(byRoot))

	for i := range f.parent {
		if group, ok := byRoot[i]; ok {
			components = append(components, group)
		}
	}

	return components
}
