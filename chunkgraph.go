package chunkgraph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/ecstore"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/graphstore"
	"github.com/hupe1980/chunkgraph/ingest"
	"github.com/hupe1980/chunkgraph/manifest"
	"github.com/hupe1980/chunkgraph/meta"
	"github.com/hupe1980/chunkgraph/shard"
	"github.com/hupe1980/chunkgraph/volume"
)

// ChunkedGraph is a spatially-partitioned segmentation graph over one
// dataset: watershed supervoxels at the bottom, agglomerated segments
// per chunk above them, roots at the top.
type ChunkedGraph struct {
	meta      *meta.GraphMeta
	blobs     blobstore.BlobStore
	graph     graphstore.Store
	source    *volume.Store
	cache     *ecstore.Store
	locator   *shard.Locator // nil without a shard layout
	manifests *manifest.Generator

	metrics      MetricsCollector
	logger       *Logger
	buildOptions []ingest.Option
}

// New creates a chunked graph over the configured stores. The graph may
// be empty (before a Build) or already populated.
func New(m *meta.GraphMeta, optFns ...Option) (*ChunkedGraph, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	o := applyOptions(optFns)

	cg := &ChunkedGraph{
		meta:         m,
		blobs:        o.blobs,
		graph:        o.graph,
		source:       volume.NewStore(m, o.blobs),
		cache:        ecstore.NewStore(m, o.blobs),
		metrics:      o.metricsCollector,
		logger:       o.logger.WithGraph(m.GraphID),
		buildOptions: o.buildOptions,
	}

	if m.Shard != nil {
		locator, err := shard.NewLocator(m, o.blobs)
		if err != nil {
			return nil, translateError(err)
		}
		cg.locator = locator
	}
	cg.manifests = manifest.NewGenerator(m, o.graph, cg.locator)

	return cg, nil
}

// Meta returns the graph's immutable configuration.
func (cg *ChunkedGraph) Meta() *meta.GraphMeta { return cg.meta }

// Volume returns the raw data store, the write side of which is the
// boundary to the segmentation pipeline.
func (cg *ChunkedGraph) Volume() *volume.Store { return cg.source }

// Build runs a full ingestion over the configured raw data. Rebuilding
// over unchanged data reuses cached chunk results and produces an
// identical graph.
func (cg *ChunkedGraph) Build(ctx context.Context) (*ingest.BuildResult, error) {
	start := time.Now()

	opts := append([]ingest.Option{ingest.WithLogger(&ingestLogger{cg.logger})}, cg.buildOptions...)
	result, err := ingest.NewManager(cg.meta, cg.source, cg.cache, cg.graph, opts...).Build(ctx)

	if result != nil {
		cg.metrics.RecordBuild(time.Since(start), result.CacheHits, result.CacheMisses, err)
		cg.logger.LogBuild(ctx, result.Epoch, result.NodesPerLayer, err)
	} else {
		cg.metrics.RecordBuild(time.Since(start), 0, 0, err)
		cg.logger.LogBuild(ctx, "", nil, err)
	}
	return result, translateError(err)
}

// Manifest returns the mesh fragment locators of a segment.
func (cg *ChunkedGraph) Manifest(ctx context.Context, id core.SegmentID, opts manifest.Options) ([]string, error) {
	start := time.Now()

	locators, err := cg.manifests.Manifest(ctx, id, opts)

	cg.metrics.RecordManifest(len(locators), time.Since(start), err)
	cg.logger.LogManifest(ctx, id, len(locators), err)
	return locators, translateError(err)
}

// GetParent returns the segment subsuming id one layer up, or 0 for a
// root.
func (cg *ChunkedGraph) GetParent(ctx context.Context, id core.SegmentID) (core.SegmentID, error) {
	start := time.Now()

	node, err := cg.graph.ReadNode(ctx, id)

	cg.metrics.RecordRead(time.Since(start), err)
	if err != nil {
		return 0, translateError(err)
	}
	return node.Parent, nil
}

// GetChildren returns the identities a segment subsumes: watershed
// labels for a layer-0 segment, segment IDs above.
func (cg *ChunkedGraph) GetChildren(ctx context.Context, id core.SegmentID) ([]uint64, error) {
	start := time.Now()

	node, err := cg.graph.ReadNode(ctx, id)

	cg.metrics.RecordRead(time.Since(start), err)
	if err != nil {
		return nil, translateError(err)
	}
	return node.Children, nil
}

// GetRoot walks the parent chain to the segment's root.
func (cg *ChunkedGraph) GetRoot(ctx context.Context, id core.SegmentID) (core.SegmentID, error) {
	start := time.Now()

	root, err := cg.root(ctx, id)

	cg.metrics.RecordRead(time.Since(start), err)
	if err != nil {
		return 0, translateError(err)
	}
	return root, nil
}

func (cg *ChunkedGraph) root(ctx context.Context, id core.SegmentID) (core.SegmentID, error) {
	for {
		node, err := cg.graph.ReadNode(ctx, id)
		if err != nil {
			return 0, err
		}
		if node.Parent == 0 {
			return node.ID, nil
		}
		id = node.Parent
	}
}

// GetSubgraph returns the watershed supervoxels of the agglomeration
// under a segment, ascending.
func (cg *ChunkedGraph) GetSubgraph(ctx context.Context, id core.SegmentID) ([]uint64, error) {
	start := time.Now()

	labels, err := cg.leafLabels(ctx, id)

	cg.metrics.RecordRead(time.Since(start), err)
	if err != nil {
		return nil, translateError(err)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels, nil
}

func (cg *ChunkedGraph) leafLabels(ctx context.Context, id core.SegmentID) ([]uint64, error) {
	node, err := cg.graph.ReadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if id.Layer() == 0 {
		return node.Children, nil
	}

	var labels []uint64
	for _, child := range node.Children {
		ls, err := cg.leafLabels(ctx, core.SegmentID(child))
		if err != nil {
			return nil, err
		}
		labels = append(labels, ls...)
	}
	return labels, nil
}

// Merge joins the agglomerations of two layer-0 segments: fresh dynamic
// segments replace their shared ancestry from the first common chunk
// upward, and the new root is returned. The previous hierarchy nodes are
// left in place, unreferenced.
//
// Edits assume a single concurrent writer; manifest and hierarchy reads
// stay safe throughout.
func (cg *ChunkedGraph) Merge(ctx context.Context, a, b core.SegmentID) (core.SegmentID, error) {
	start := time.Now()

	root, err := cg.merge(ctx, a, b)

	cg.metrics.RecordMerge(time.Since(start), err)
	cg.logger.LogMerge(ctx, a, b, root, err)
	return root, translateError(err)
}

func (cg *ChunkedGraph) merge(ctx context.Context, a, b core.SegmentID) (core.SegmentID, error) {
	if a == b || a.Layer() != 0 || b.Layer() != 0 {
		return 0, ErrInvalidMerge
	}

	chainA, err := cg.parentChain(ctx, a)
	if err != nil {
		return 0, err
	}
	chainB, err := cg.parentChain(ctx, b)
	if err != nil {
		return 0, err
	}
	if len(chainA) != len(chainB) {
		return 0, fmt.Errorf("%w: hierarchies of unequal depth", ErrInvalidMerge)
	}

	// The user edge is persisted on both leaf nodes with an infinite
	// affinity, in the build's both-sides convention, so a later split
	// can recompute connectivity and sever exactly this edge again.
	if err := cg.writeMergeEdge(ctx, chainA[0], chainB[0]); err != nil {
		return 0, err
	}

	top := len(chainA) - 1
	if chainA[top].ID == chainB[top].ID {
		// Already one agglomeration; only the edge was recorded.
		return chainA[top].ID, nil
	}

	// First layer whose chunk contains both partners.
	common := -1
	for layer := 1; layer <= top; layer++ {
		if chainA[layer].ID.ChunkID() == chainB[layer].ID.ChunkID() {
			common = layer
			break
		}
	}
	if common < 0 {
		return 0, fmt.Errorf("%w: no common ancestor chunk", ErrInvalidMerge)
	}

	var prev core.SegmentID
	for layer := common; layer <= top; layer++ {
		oldA, oldB := chainA[layer], chainB[layer]

		id, err := cg.nextDynamicID(ctx, oldA.ID.ChunkID())
		if err != nil {
			return 0, err
		}

		childSet := make(map[uint64]struct{}, len(oldA.Children)+len(oldB.Children))
		for _, c := range oldA.Children {
			childSet[c] = struct{}{}
		}
		for _, c := range oldB.Children {
			childSet[c] = struct{}{}
		}
		if layer > common {
			delete(childSet, uint64(chainA[layer-1].ID))
			delete(childSet, uint64(chainB[layer-1].ID))
			childSet[uint64(prev)] = struct{}{}
		}
		children := make([]uint64, 0, len(childSet))
		for c := range childSet {
			children = append(children, c)
		}
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })

		node := &graphstore.Node{
			ID:         id,
			Children:   children,
			CrossEdges: mergeCrossEdges(oldA.CrossEdges, oldB.CrossEdges),
		}
		if err := cg.graph.WriteNodes(ctx, []*graphstore.Node{node}); err != nil {
			return 0, err
		}
		// Nodes at and above layer 1 hold segment IDs as children, so
		// every child, including the freshly written prev, gets its
		// parent pointer repointed.
		for _, c := range children {
			if err := cg.graph.SetParent(ctx, core.SegmentID(c), id); err != nil {
				return 0, err
			}
		}

		prev = id
	}

	return prev, nil
}

// writeMergeEdge records a merge between two leaf segments as a pair of
// label-level edges with infinite affinity, one on each node.
func (cg *ChunkedGraph) writeMergeEdge(ctx context.Context, na, nb *graphstore.Node) error {
	inf := float32(math.Inf(1))
	la, lb := na.Children[0], nb.Children[0]

	na.CrossEdges = upsertEdge(na.CrossEdges, edges.Edge{U: la, V: lb, Affinity: inf})
	nb.CrossEdges = upsertEdge(nb.CrossEdges, edges.Edge{U: lb, V: la, Affinity: inf})
	return cg.graph.WriteNodes(ctx, []*graphstore.Node{na, nb})
}

func upsertEdge(es []edges.Edge, e edges.Edge) []edges.Edge {
	for i := range es {
		if es[i].U == e.U && es[i].V == e.V {
			es[i].Affinity = e.Affinity
			return es
		}
	}
	es = append(es, e)
	sort.Slice(es, func(i, j int) bool {
		if es[i].U != es[j].U {
			return es[i].U < es[j].U
		}
		return es[i].V < es[j].V
	})
	return es
}

// Split severs the stored edges between two layer-0 segments of one
// agglomeration and recomputes the agglomeration's connectivity from
// the remaining leaf edges. Each resulting component gets a fresh
// dynamic hierarchy; the new roots are returned ascending. If the cut
// does not disconnect the agglomeration, the existing root is returned
// unchanged (the cut itself stays persisted).
//
// Like Merge, edits assume a single concurrent writer.
func (cg *ChunkedGraph) Split(ctx context.Context, a, b core.SegmentID) ([]core.SegmentID, error) {
	start := time.Now()

	roots, err := cg.split(ctx, a, b)

	cg.metrics.RecordSplit(time.Since(start), err)
	cg.logger.LogSplit(ctx, a, b, roots, err)
	return roots, translateError(err)
}

func (cg *ChunkedGraph) split(ctx context.Context, a, b core.SegmentID) ([]core.SegmentID, error) {
	if a == b || a.Layer() != 0 || b.Layer() != 0 {
		return nil, ErrInvalidSplit
	}

	rootA, err := cg.root(ctx, a)
	if err != nil {
		return nil, err
	}
	rootB, err := cg.root(ctx, b)
	if err != nil {
		return nil, err
	}
	if rootA != rootB {
		return nil, fmt.Errorf("%w: segments share no root", ErrInvalidSplit)
	}

	leaves, err := cg.leafNodes(ctx, rootA)
	if err != nil {
		return nil, err
	}

	byID := make(map[core.SegmentID]*graphstore.Node, len(leaves))
	owner := make(map[uint64]core.SegmentID)
	for _, leaf := range leaves {
		byID[leaf.ID] = leaf
		for _, label := range leaf.Children {
			owner[label] = leaf.ID
		}
	}

	// Persist the cut: drop every stored edge between the two segments,
	// on both sides.
	na, nb := byID[a], byID[b]
	na.CrossEdges = dropEdgesTo(na.CrossEdges, nb)
	nb.CrossEdges = dropEdgesTo(nb.CrossEdges, na)
	if err := cg.graph.WriteNodes(ctx, []*graphstore.Node{na, nb}); err != nil {
		return nil, err
	}

	// Reconnect the leaves over the remaining edges.
	ids := make([]uint64, 0, len(leaves))
	for _, leaf := range leaves {
		ids = append(ids, uint64(leaf.ID))
	}
	uf := edges.NewUnionFind(ids)
	for _, leaf := range leaves {
		for _, e := range leaf.CrossEdges {
			if e.Affinity < cg.meta.AffinityThreshold {
				continue
			}
			if partner, ok := owner[e.V]; ok && partner != leaf.ID {
				uf.Union(uint64(leaf.ID), uint64(partner))
			}
		}
	}

	groups := uf.Components()
	if len(groups) == 1 {
		// The cut edges were not the only connection.
		return []core.SegmentID{rootA}, nil
	}

	roots := make([]core.SegmentID, 0, len(groups))
	for _, group := range groups {
		root, err := cg.rebuildHierarchy(ctx, group, byID)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots, nil
}

// dropEdgesTo removes every edge whose partner label belongs to the
// given node.
func dropEdgesTo(es []edges.Edge, partner *graphstore.Node) []edges.Edge {
	labels := make(map[uint64]struct{}, len(partner.Children))
	for _, l := range partner.Children {
		labels[l] = struct{}{}
	}

	out := es[:0]
	for _, e := range es {
		if _, cut := labels[e.V]; cut {
			continue
		}
		out = append(out, e)
	}
	return out
}

// rebuildHierarchy writes a fresh dynamic hierarchy over one group of
// leaf nodes, one parent per occupied chunk per layer, and returns the
// group's new root.
func (cg *ChunkedGraph) rebuildHierarchy(ctx context.Context, members *roaring64.Bitmap, leaves map[core.SegmentID]*graphstore.Node) (core.SegmentID, error) {
	frontier := make([]*graphstore.Node, 0, members.GetCardinality())
	for _, id := range members.ToArray() {
		frontier = append(frontier, leaves[core.SegmentID(id)])
	}

	for layer := uint8(1); layer < cg.meta.LayerCount; layer++ {
		byChunk := make(map[core.ChunkID][]*graphstore.Node)
		for _, n := range frontier {
			chunk := core.NewChunkID(layer, cg.meta.ParentCoord(n.ID.ChunkCoord()))
			byChunk[chunk] = append(byChunk[chunk], n)
		}

		chunks := make([]core.ChunkID, 0, len(byChunk))
		for c := range byChunk {
			chunks = append(chunks, c)
		}
		sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })

		next := make([]*graphstore.Node, 0, len(chunks))
		for _, chunk := range chunks {
			children := byChunk[chunk]

			id, err := cg.nextDynamicID(ctx, chunk)
			if err != nil {
				return 0, err
			}

			childIDs := make([]uint64, len(children))
			var cross []edges.Edge
			for i, c := range children {
				childIDs[i] = uint64(c.ID)
				cross = mergeCrossEdges(cross, c.CrossEdges)
			}
			sort.Slice(childIDs, func(i, j int) bool { return childIDs[i] < childIDs[j] })

			node := &graphstore.Node{
				ID:         id,
				Children:   childIDs,
				CrossEdges: cross,
			}
			if err := cg.graph.WriteNodes(ctx, []*graphstore.Node{node}); err != nil {
				return 0, err
			}
			for _, c := range children {
				if err := cg.graph.SetParent(ctx, c.ID, id); err != nil {
					return 0, err
				}
			}
			next = append(next, node)
		}
		frontier = next
	}

	if len(frontier) != 1 {
		return 0, fmt.Errorf("chunkgraph: split left %d nodes at the root layer", len(frontier))
	}
	return frontier[0].ID, nil
}

// leafNodes reads the layer-0 nodes of the agglomeration under a
// segment.
func (cg *ChunkedGraph) leafNodes(ctx context.Context, id core.SegmentID) ([]*graphstore.Node, error) {
	node, err := cg.graph.ReadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if id.Layer() == 0 {
		return []*graphstore.Node{node}, nil
	}

	var leaves []*graphstore.Node
	for _, child := range node.Children {
		ls, err := cg.leafNodes(ctx, core.SegmentID(child))
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, ls...)
	}
	return leaves, nil
}

// parentChain reads a segment and its ancestors bottom-up.
func (cg *ChunkedGraph) parentChain(ctx context.Context, id core.SegmentID) ([]*graphstore.Node, error) {
	var chain []*graphstore.Node
	for {
		node, err := cg.graph.ReadNode(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, node)
		if node.Parent == 0 {
			return chain, nil
		}
		id = node.Parent
	}
}

// nextDynamicID allocates the chunk's next post-build counter, starting
// at the initial/dynamic ceiling.
func (cg *ChunkedGraph) nextDynamicID(ctx context.Context, chunk core.ChunkID) (core.SegmentID, error) {
	nodes, err := cg.graph.ScanChunk(ctx, chunk)
	if err != nil {
		return 0, err
	}

	next := cg.meta.IDCeiling()
	for _, n := range nodes {
		if c := n.ID.Counter(); c >= next {
			next = c + 1
		}
	}
	if next > core.MaxCounter {
		return 0, fmt.Errorf("chunkgraph: counter space of chunk %s exhausted", chunk)
	}
	return core.NewSegmentID(chunk, next), nil
}

func mergeCrossEdges(a, b []edges.Edge) []edges.Edge {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make([]edges.Edge, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].U != out[j].U {
			return out[i].U < out[j].U
		}
		return out[i].V < out[j].V
	})
	w := 1
	for i := 1; i < len(out); i++ {
		if out[i].U == out[i-1].U && out[i].V == out[i-1].V {
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}

// ingestLogger adapts Logger to the ingest package's printf interface.
type ingestLogger struct {
	l *Logger
}

func (a *ingestLogger) Infof(format string, args ...interface{}) {
	a.l.Info(fmt.Sprintf(format, args...))
}

func (a *ingestLogger) Errorf(format string, args ...interface{}) {
	a.l.Error(fmt.Sprintf(format, args...))
}
