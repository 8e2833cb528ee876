package edges

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// UnionFind implements union-find with path compression and union by rank
// over uint64 node identifiers.
type UnionFind struct {
	parent map[uint64]uint64
	rank   map[uint64]int
}

// NewUnionFind creates a UnionFind where each node is its own component.
func NewUnionFind(nodes []uint64) *UnionFind {
	uf := &UnionFind{
		parent: make(map[uint64]uint64, len(nodes)),
		rank:   make(map[uint64]int, len(nodes)),
	}
	for _, id := range nodes {
		uf.parent[id] = id
	}
	return uf
}

// Add registers a node if it is not yet known.
func (uf *UnionFind) Add(id uint64) {
	if _, ok := uf.parent[id]; !ok {
		uf.parent[id] = id
	}
}

// Find returns the root of the component containing id, with path
// compression. Unknown nodes are registered as singletons.
func (uf *UnionFind) Find(id uint64) uint64 {
	parent, ok := uf.parent[id]
	if !ok {
		uf.parent[id] = id
		return id
	}
	if parent != id {
		root := uf.Find(parent)
		uf.parent[id] = root
		return root
	}
	return id
}

// Union merges the components containing a and b. Returns true if they
// were separate.
func (uf *UnionFind) Union(a, b uint64) bool {
	rootA := uf.Find(a)
	rootB := uf.Find(b)
	if rootA == rootB {
		return false
	}

	switch {
	case uf.rank[rootA] < uf.rank[rootB]:
		uf.parent[rootA] = rootB
	case uf.rank[rootA] > uf.rank[rootB]:
		uf.parent[rootB] = rootA
	default:
		uf.parent[rootB] = rootA
		uf.rank[rootA]++
	}
	return true
}

// Components returns all components as bitmaps, sorted by minimum
// element so the result is deterministic for identical inputs.
func (uf *UnionFind) Components() []*roaring64.Bitmap {
	groups := make(map[uint64]*roaring64.Bitmap)
	for id := range uf.parent {
		root := uf.Find(id)
		bm, ok := groups[root]
		if !ok {
			bm = roaring64.New()
			groups[root] = bm
		}
		bm.Add(id)
	}

	out := make([]*roaring64.Bitmap, 0, len(groups))
	for _, bm := range groups {
		out = append(out, bm)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Minimum() < out[j].Minimum()
	})
	return out
}
