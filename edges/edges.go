// Package edges holds the edge and connected-component primitives shared
// by chunk processing and the layered graph build.
package edges

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Edge is an unordered pair of node identifiers with an affinity weight.
// Endpoints are raw watershed labels at the atomic layer and segment IDs
// above it; both are plain uint64 on the wire.
//
// Edges are kept normalized (U < V) except for cross-chunk edges stored on
// a graph node, where U is by convention the endpoint inside the node.
type Edge struct {
	U, V     uint64
	Affinity float32
}

// Normalize returns the edge with U <= V.
func (e Edge) Normalize() Edge {
	if e.U > e.V {
		e.U, e.V = e.V, e.U
	}
	return e
}

// Sort orders edges by (U, V, Affinity). Used to make persisted edge
// lists and test fixtures deterministic.
func Sort(es []Edge) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].U != es[j].U {
			return es[i].U < es[j].U
		}
		if es[i].V != es[j].V {
			return es[i].V < es[j].V
		}
		return es[i].Affinity < es[j].Affinity
	})
}

// Dedup normalizes, sorts and removes duplicate pairs. When the same pair
// was recorded by both adjacent chunks with diverging affinities, the
// first occurrence after sorting wins; since sorting includes affinity
// the result is still deterministic.
func Dedup(es []Edge) []Edge {
	if len(es) == 0 {
		return es
	}
	out := make([]Edge, len(es))
	for i, e := range es {
		out[i] = e.Normalize()
	}
	Sort(out)
	w := 1
	for i := 1; i < len(out); i++ {
		if out[i].U == out[w-1].U && out[i].V == out[w-1].V {
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}

// Components runs union-find over the nodes and all edges whose affinity
// is at least threshold, and returns the connected components as roaring
// bitmaps sorted by their minimum element. Nodes not touched by any edge
// form singleton components.
func Components(nodes []uint64, es []Edge, threshold float32) []*roaring64.Bitmap {
	uf := NewUnionFind(nodes)
	for _, e := range es {
		if e.Affinity < threshold {
			continue
		}
		uf.Union(e.U, e.V)
	}
	return uf.Components()
}
