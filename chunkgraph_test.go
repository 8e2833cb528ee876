package chunkgraph_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgraph"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/manifest"
	"github.com/hupe1980/chunkgraph/meta"
	"github.com/hupe1980/chunkgraph/volume"
)

func testGraphMeta() *meta.GraphMeta {
	return &meta.GraphMeta{
		GraphID:    "lifecycle",
		ChunkSize:  core.Coord{X: 64, Y: 64, Z: 64},
		FanOut:     2,
		LayerCount: 2,
		Bounds: meta.BBox{
			Max: core.Coord{X: 128, Y: 128, Z: 64},
		},
		Sources: meta.DataSource{
			Watershed:      "ws",
			Agglomeration:  "agg",
			EdgeCache:      "edges",
			ComponentCache: "components",
		},
		AffinityThreshold: 0.5,
	}
}

// seedRawData writes a 2x2x1 chunk scene: labels 1 and 6 touch inside
// chunk (0,0,0), label 2 sits across the x boundary in chunk (1,0,0)
// with a strong affinity to 1, and labels 4/5 straddle the y boundary
// with an affinity below threshold.
func seedRawData(t *testing.T, ctx context.Context, cg *chunkgraph.ChunkedGraph) {
	t.Helper()

	m := cg.Meta()
	blocks := map[core.Coord]map[[3]uint32]uint64{
		{X: 0, Y: 0, Z: 0}: {
			{62, 0, 0}: 6,
			{63, 0, 0}: 1,
			{0, 63, 0}: 4,
		},
		{X: 1, Y: 0, Z: 0}: {
			{64, 0, 0}: 2,
		},
		{X: 0, Y: 1, Z: 0}: {
			{0, 64, 0}: 5,
		},
		{X: 1, Y: 1, Z: 0}: {},
	}
	affinities := map[core.Coord][]edges.Edge{
		{X: 0, Y: 0, Z: 0}: {
			{U: 1, V: 6, Affinity: 0.8},
			{U: 1, V: 2, Affinity: 0.9},
			{U: 4, V: 5, Affinity: 0.2},
		},
		{X: 1, Y: 0, Z: 0}: {{U: 1, V: 2, Affinity: 0.9}},
		{X: 0, Y: 1, Z: 0}: {{U: 4, V: 5, Affinity: 0.2}},
		{X: 1, Y: 1, Z: 0}: {},
	}

	for chunk, voxels := range blocks {
		ext := m.ChunkExtent(0, chunk)
		block := volume.NewLabelBlock(ext.Min, [3]uint32{
			ext.Max.X - ext.Min.X,
			ext.Max.Y - ext.Min.Y,
			ext.Max.Z - ext.Min.Z,
		})
		for pos, label := range voxels {
			block.Set(pos[0], pos[1], pos[2], label)
		}
		require.NoError(t, cg.Volume().PutLabels(ctx, chunk, block))
		require.NoError(t, cg.Volume().PutAffinities(ctx, chunk, affinities[chunk]))
	}
}

func TestChunkedGraph(t *testing.T) {
	ctx := context.Background()

	cg, err := chunkgraph.New(testGraphMeta())
	require.NoError(t, err)

	seedRawData(t, ctx, cg)

	result, err := cg.Build(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{4, 3}, result.NodesPerLayer)

	// Layer-0 components carry deterministic counters: {1,6} then {4}
	// in chunk (0,0,0), {2} in chunk (1,0,0), {5} in chunk (0,1,0).
	seg16 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 1)
	seg2 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 1, Y: 0, Z: 0}), 1)
	seg4 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 2)
	seg5 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 1, Z: 0}), 1)

	t.Run("Hierarchy", func(t *testing.T) {
		children, err := cg.GetChildren(ctx, seg16)
		require.NoError(t, err)
		require.Equal(t, []uint64{1, 6}, children)

		root, err := cg.GetRoot(ctx, seg16)
		require.NoError(t, err)
		require.Equal(t, uint8(1), root.Layer())

		// The strong 1-2 boundary edge pulls chunk (1,0,0) under the
		// same root.
		root2, err := cg.GetRoot(ctx, seg2)
		require.NoError(t, err)
		require.Equal(t, root, root2)

		labels, err := cg.GetSubgraph(ctx, root)
		require.NoError(t, err)
		require.Equal(t, []uint64{1, 2, 6}, labels)

		parent, err := cg.GetParent(ctx, root)
		require.NoError(t, err)
		require.Equal(t, core.SegmentID(0), parent)

		// The sub-threshold 4-5 edge keeps both sides apart.
		root4, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)
		root5, err := cg.GetRoot(ctx, seg5)
		require.NoError(t, err)
		require.NotEqual(t, root4, root5)
	})

	t.Run("UnknownSegment", func(t *testing.T) {
		missing := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 99)

		_, err := cg.GetRoot(ctx, missing)
		require.ErrorIs(t, err, chunkgraph.ErrNotFound)

		_, err = cg.GetChildren(ctx, missing)
		require.ErrorIs(t, err, chunkgraph.ErrNotFound)

		_, err = cg.Manifest(ctx, missing, manifest.Options{})
		require.ErrorIs(t, err, chunkgraph.ErrNotFound)
	})

	t.Run("LegacyManifest", func(t *testing.T) {
		root, err := cg.GetRoot(ctx, seg16)
		require.NoError(t, err)

		locators, err := cg.Manifest(ctx, root, manifest.Options{Format: manifest.FormatLegacy})
		require.NoError(t, err)
		require.Equal(t, []string{
			fmt.Sprintf("%d:0:0-64_0-64_0-64", uint64(seg16)),
			fmt.Sprintf("%d:0:64-128_0-64_0-64", uint64(seg2)),
		}, locators)
	})

	t.Run("ShardedWithoutLayout", func(t *testing.T) {
		_, err := cg.Manifest(ctx, seg16, manifest.Options{Format: manifest.FormatSharded})
		require.ErrorIs(t, err, chunkgraph.ErrUnsupportedFormat)
	})
}

func TestChunkedGraphMerge(t *testing.T) {
	ctx := context.Background()

	cg, err := chunkgraph.New(testGraphMeta())
	require.NoError(t, err)

	seedRawData(t, ctx, cg)

	_, err = cg.Build(ctx)
	require.NoError(t, err)

	seg16 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 1)
	seg4 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 2)
	seg5 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 1, Z: 0}), 1)

	t.Run("InvalidEndpoints", func(t *testing.T) {
		_, err := cg.Merge(ctx, seg4, seg4)
		require.ErrorIs(t, err, chunkgraph.ErrInvalidMerge)

		root, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)
		_, err = cg.Merge(ctx, root, seg5)
		require.ErrorIs(t, err, chunkgraph.ErrInvalidMerge)
	})

	t.Run("MergeAcrossChunks", func(t *testing.T) {
		newRoot, err := cg.Merge(ctx, seg4, seg5)
		require.NoError(t, err)
		require.Equal(t, uint8(1), newRoot.Layer())
		require.GreaterOrEqual(t, newRoot.Counter(), cg.Meta().IDCeiling())

		root4, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)
		require.Equal(t, newRoot, root4)

		root5, err := cg.GetRoot(ctx, seg5)
		require.NoError(t, err)
		require.Equal(t, newRoot, root5)

		labels, err := cg.GetSubgraph(ctx, newRoot)
		require.NoError(t, err)
		require.Equal(t, []uint64{4, 5}, labels)

		// Merging an already merged pair is a no-op returning the
		// shared root.
		again, err := cg.Merge(ctx, seg4, seg5)
		require.NoError(t, err)
		require.Equal(t, newRoot, again)
	})

	t.Run("DynamicManifest", func(t *testing.T) {
		root, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)

		// Dynamic segments have no precomputed fragments; both formats
		// fall back to a single legacy locator spanning the chunk.
		locators, err := cg.Manifest(ctx, root, manifest.Options{Format: manifest.FormatLegacy})
		require.NoError(t, err)
		require.Equal(t, []string{
			fmt.Sprintf("%d:1:0-128_0-128_0-64", uint64(root)),
		}, locators)
	})

	t.Run("MergeOntoDynamic", func(t *testing.T) {
		newRoot, err := cg.Merge(ctx, seg16, seg4)
		require.NoError(t, err)

		labels, err := cg.GetSubgraph(ctx, newRoot)
		require.NoError(t, err)
		require.Equal(t, []uint64{1, 2, 4, 5, 6}, labels)

		for _, seg := range []core.SegmentID{seg16, seg4, seg5} {
			root, err := cg.GetRoot(ctx, seg)
			require.NoError(t, err)
			require.Equal(t, newRoot, root)
		}
	})
}

func TestChunkedGraphSplit(t *testing.T) {
	ctx := context.Background()

	cg, err := chunkgraph.New(testGraphMeta())
	require.NoError(t, err)

	seedRawData(t, ctx, cg)

	_, err = cg.Build(ctx)
	require.NoError(t, err)

	seg16 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 1)
	seg2 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 1, Y: 0, Z: 0}), 1)
	seg4 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 2)
	seg5 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 1, Z: 0}), 1)

	t.Run("InvalidEndpoints", func(t *testing.T) {
		_, err := cg.Split(ctx, seg4, seg4)
		require.ErrorIs(t, err, chunkgraph.ErrInvalidSplit)

		root, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)
		_, err = cg.Split(ctx, root, seg5)
		require.ErrorIs(t, err, chunkgraph.ErrInvalidSplit)

		// 4 and 5 never agglomerated; there is nothing to split.
		_, err = cg.Split(ctx, seg4, seg5)
		require.ErrorIs(t, err, chunkgraph.ErrInvalidSplit)
	})

	t.Run("SplitAcrossChunks", func(t *testing.T) {
		// Severs the strong 1-2 boundary edge written by the build.
		roots, err := cg.Split(ctx, seg16, seg2)
		require.NoError(t, err)
		require.Len(t, roots, 2)
		require.Less(t, roots[0], roots[1])

		for _, root := range roots {
			require.Equal(t, uint8(1), root.Layer())
			require.GreaterOrEqual(t, root.Counter(), cg.Meta().IDCeiling())
		}

		root16, err := cg.GetRoot(ctx, seg16)
		require.NoError(t, err)
		root2, err := cg.GetRoot(ctx, seg2)
		require.NoError(t, err)
		require.NotEqual(t, root16, root2)
		require.ElementsMatch(t, roots, []core.SegmentID{root16, root2})

		labels, err := cg.GetSubgraph(ctx, root16)
		require.NoError(t, err)
		require.Equal(t, []uint64{1, 6}, labels)

		labels, err = cg.GetSubgraph(ctx, root2)
		require.NoError(t, err)
		require.Equal(t, []uint64{2}, labels)
	})

	t.Run("SplitUndoesMerge", func(t *testing.T) {
		merged, err := cg.Merge(ctx, seg4, seg5)
		require.NoError(t, err)

		roots, err := cg.Split(ctx, seg4, seg5)
		require.NoError(t, err)
		require.Len(t, roots, 2)
		require.NotContains(t, roots, merged)

		root4, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)
		root5, err := cg.GetRoot(ctx, seg5)
		require.NoError(t, err)
		require.NotEqual(t, root4, root5)

		labels, err := cg.GetSubgraph(ctx, root4)
		require.NoError(t, err)
		require.Equal(t, []uint64{4}, labels)

		labels, err = cg.GetSubgraph(ctx, root5)
		require.NoError(t, err)
		require.Equal(t, []uint64{5}, labels)
	})

	t.Run("NonDisconnectingCut", func(t *testing.T) {
		// 4-16, 5-16 and 4-5 form a triangle; cutting 4-5 leaves one
		// component connected through 16.
		_, err := cg.Merge(ctx, seg4, seg16)
		require.NoError(t, err)
		_, err = cg.Merge(ctx, seg5, seg16)
		require.NoError(t, err)
		root, err := cg.Merge(ctx, seg4, seg5)
		require.NoError(t, err)

		roots, err := cg.Split(ctx, seg4, seg5)
		require.NoError(t, err)
		require.Equal(t, []core.SegmentID{root}, roots)

		root4, err := cg.GetRoot(ctx, seg4)
		require.NoError(t, err)
		root5, err := cg.GetRoot(ctx, seg5)
		require.NoError(t, err)
		require.Equal(t, root, root4)
		require.Equal(t, root, root5)
	})
}

func TestChunkedGraphMetrics(t *testing.T) {
	ctx := context.Background()
	collector := &chunkgraph.BasicMetricsCollector{}

	cg, err := chunkgraph.New(testGraphMeta(), chunkgraph.WithMetricsCollector(collector))
	require.NoError(t, err)

	seedRawData(t, ctx, cg)

	_, err = cg.Build(ctx)
	require.NoError(t, err)

	seg16 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 1)
	root, err := cg.GetRoot(ctx, seg16)
	require.NoError(t, err)

	_, err = cg.Manifest(ctx, root, manifest.Options{})
	require.NoError(t, err)

	missing := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 1, Y: 1, Z: 0}), 7)
	_, err = cg.GetRoot(ctx, missing)
	require.Error(t, err)

	seg4 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 0, Z: 0}), 2)
	seg5 := core.NewSegmentID(core.NewChunkID(0, core.Coord{X: 0, Y: 1, Z: 0}), 1)
	_, err = cg.Merge(ctx, seg4, seg5)
	require.NoError(t, err)
	_, err = cg.Split(ctx, seg4, seg5)
	require.NoError(t, err)

	stats := collector.GetStats()
	require.Equal(t, int64(1), stats.BuildCount)
	require.Equal(t, int64(0), stats.BuildErrors)
	// Cold edge/component caches: every chunk is a miss on the first build.
	require.Equal(t, int64(0), stats.CacheHits)
	require.Equal(t, int64(4), stats.CacheMisses)
	require.Equal(t, int64(1), stats.ManifestCount)
	require.Equal(t, int64(2), stats.ManifestFragments)
	require.Equal(t, int64(2), stats.ReadCount)
	require.Equal(t, int64(1), stats.ReadErrors)
	require.Equal(t, int64(1), stats.MergeCount)
	require.Equal(t, int64(1), stats.SplitCount)
	require.Equal(t, int64(0), stats.SplitErrors)
}

func TestChunkedGraphInvalidMeta(t *testing.T) {
	m := testGraphMeta()
	m.ChunkSize = core.Coord{}

	_, err := chunkgraph.New(m)
	require.Error(t, err)
}

func ExampleChunkedGraph() {
	ctx := context.Background()

	m := testGraphMeta()
	m.Bounds.Max = core.Coord{X: 64, Y: 64, Z: 64} // single atomic chunk

	cg, err := chunkgraph.New(m)
	if err != nil {
		panic(err)
	}

	// Raw data would normally come from the segmentation pipeline.
	chunk := core.Coord{X: 0, Y: 0, Z: 0}
	block := volume.NewLabelBlock(core.Coord{}, [3]uint32{64, 64, 64})
	block.Set(0, 0, 0, 10)
	block.Set(1, 0, 0, 11)
	if err := cg.Volume().PutLabels(ctx, chunk, block); err != nil {
		panic(err)
	}
	if err := cg.Volume().PutAffinities(ctx, chunk, []edges.Edge{{U: 10, V: 11, Affinity: 0.9}}); err != nil {
		panic(err)
	}

	if _, err := cg.Build(ctx); err != nil {
		panic(err)
	}

	seg := core.NewSegmentID(core.NewChunkID(0, chunk), 1)
	labels, err := cg.GetSubgraph(ctx, seg)
	if err != nil {
		panic(err)
	}
	fmt.Println(labels)
	// Output: [10 11]
}
