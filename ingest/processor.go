// Package ingest builds the chunked graph from raw volume data: layer-0
// chunks are processed into edges and connected components, components
// become segments, and higher layers merge segments across chunk
// boundaries until the root layer.
package ingest

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/ecstore"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/meta"
	"github.com/hupe1980/chunkgraph/volume"
)

// Processor turns one layer-0 chunk of raw data into edges and
// components. It holds no mutable state; Process is a pure function of
// the raw bytes, which is what makes caching its results correct.
type Processor struct {
	meta   *meta.GraphMeta
	source volume.Source
}

// NewProcessor creates a processor reading from the given source.
func NewProcessor(m *meta.GraphMeta, source volume.Source) *Processor {
	return &Processor{meta: m, source: source}
}

type labelPair struct {
	u, v uint64
}

func normalizePair(u, v uint64) labelPair {
	if u > v {
		u, v = v, u
	}
	return labelPair{u: u, v: v}
}

// Process reads the chunk's labels with a one-voxel halo plus its
// affinity table, and returns the deduplicated edge lists and the
// thresholded connected components. All-or-nothing: no partial result
// accompanies an error.
func (p *Processor) Process(ctx context.Context, chunk core.Coord) (*ecstore.ChunkData, error) {
	labels, err := p.source.ReadLabels(ctx, chunk, 1)
	if err != nil {
		return nil, err
	}
	affs, err := p.source.ReadAffinities(ctx, chunk)
	if err != nil {
		return nil, err
	}

	affinity := make(map[labelPair]float32, len(affs))
	for _, e := range affs {
		affinity[normalizePair(e.U, e.V)] = e.Affinity
	}

	ext := p.meta.ChunkExtent(0, chunk)

	var inChunk, cross []edges.Edge
	nodeSet := roaring64.New()

	inside := func(x, y, z uint32) bool {
		return x >= ext.Min.X && x < ext.Max.X &&
			y >= ext.Min.Y && y < ext.Max.Y &&
			z >= ext.Min.Z && z < ext.Max.Z
	}

	visit := func(label uint64, nx, ny, nz uint32) {
		if !labels.Contains(nx, ny, nz) {
			return
		}
		neighbor := labels.At(nx, ny, nz)
		if neighbor == 0 || neighbor == label {
			return
		}
		e := edges.Edge{
			U:        label,
			V:        neighbor,
			Affinity: affinity[normalizePair(label, neighbor)],
		}
		if inside(nx, ny, nz) {
			inChunk = append(inChunk, e)
		} else {
			// Neighbor is in the halo; U stays the inside endpoint.
			// Both adjacent chunks record a boundary edge this way, each
			// from its own side, which is what lets the parent layer
			// match the two halves up.
			cross = append(cross, e)
		}
	}

	// 6-connectivity. In-chunk pairs are covered exactly once by the
	// +x/+y/+z probes; the -x/-y/-z probes only add the outgoing side of
	// lower-face boundary edges.
	for x := ext.Min.X; x < ext.Max.X; x++ {
		for y := ext.Min.Y; y < ext.Max.Y; y++ {
			for z := ext.Min.Z; z < ext.Max.Z; z++ {
				label := labels.At(x, y, z)
				if label == 0 {
					continue
				}
				nodeSet.Add(label)

				visit(label, x+1, y, z)
				visit(label, x, y+1, z)
				visit(label, x, y, z+1)
				if x == ext.Min.X && x > 0 {
					visit(label, x-1, y, z)
				}
				if y == ext.Min.Y && y > 0 {
					visit(label, x, y-1, z)
				}
				if z == ext.Min.Z && z > 0 {
					visit(label, x, y, z-1)
				}
			}
		}
	}

	nodes := nodeSet.ToArray()
	inChunk = edges.Dedup(inChunk)
	cross = dedupDirected(cross)

	return &ecstore.ChunkData{
		InChunk:    inChunk,
		Cross:      cross,
		Components: edges.Components(nodes, inChunk, p.meta.AffinityThreshold),
	}, nil
}

// dedupDirected deduplicates edges whose endpoint order carries meaning
// and therefore must not be normalized.
func dedupDirected(es []edges.Edge) []edges.Edge {
	if len(es) == 0 {
		return nil
	}
	sort.Slice(es, func(i, j int) bool {
		if es[i].U != es[j].U {
			return es[i].U < es[j].U
		}
		if es[i].V != es[j].V {
			return es[i].V < es[j].V
		}
		return es[i].Affinity > es[j].Affinity
	})
	w := 1
	for i := 1; i < len(es); i++ {
		if es[i].U == es[i-1].U && es[i].V == es[i-1].V {
			continue
		}
		es[w] = es[i]
		w++
	}
	return es[:w]
}
