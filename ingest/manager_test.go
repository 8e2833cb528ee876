package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/ecstore"
	"github.com/hupe1980/chunkgraph/graphstore"
	"github.com/hupe1980/chunkgraph/meta"
	"github.com/hupe1980/chunkgraph/volume"
)

// dumpGraph reads every node of every chunk for a full-graph comparison.
func dumpGraph(t *testing.T, ctx context.Context, m *meta.GraphMeta, graph graphstore.Store) []*graphstore.Node {
	t.Helper()

	var nodes []*graphstore.Node
	for layer := uint8(0); layer < m.LayerCount; layer++ {
		for _, coord := range m.Chunks(layer) {
			ns, err := graph.ScanChunk(ctx, core.NewChunkID(layer, coord))
			require.NoError(t, err)
			nodes = append(nodes, ns...)
		}
	}
	return nodes
}

func TestManagerBuild(t *testing.T) {
	ctx := context.Background()
	m := testMeta()

	blobs := blobstore.NewMemoryStore()
	vs := volume.NewStore(m, blobs)
	seedVolume(t, ctx, vs, m)

	cache := ecstore.NewStore(m, blobs)
	graph := graphstore.NewMemoryStore()

	mgr := NewManager(m, vs, cache, graph, WithMaxWorkers(2))
	result, err := mgr.Build(ctx)
	require.NoError(t, err)

	// Layer 0: {1,6}, {4}, {2}, {5}. Layer 1: {1,6}+{2} merge across the
	// boundary, {4} and {5} stay apart (affinity below threshold).
	require.Equal(t, []uint64{4, 3}, result.NodesPerLayer)
	require.Equal(t, uint64(0), result.CacheHits)
	require.Equal(t, uint64(4), result.CacheMisses)
	require.NotEmpty(t, result.Epoch)
	require.Equal(t, uint64(meta.DefaultInitialIDCeiling), result.IDCeiling)

	origin, err := graph.ScanChunk(ctx, core.NewChunkID(0, core.Coord{}))
	require.NoError(t, err)
	require.Len(t, origin, 2)
	require.Equal(t, []uint64{1, 6}, origin[0].Children)
	require.Equal(t, []uint64{4}, origin[1].Children)

	neighbor, err := graph.ScanChunk(ctx, core.NewChunkID(0, core.Coord{X: 1}))
	require.NoError(t, err)
	require.Len(t, neighbor, 1)

	t.Run("boundary segments share a parent", func(t *testing.T) {
		require.NotZero(t, origin[0].Parent)
		require.Equal(t, origin[0].Parent, neighbor[0].Parent)
		require.Equal(t, uint8(1), origin[0].Parent.Layer())
	})

	t.Run("sub-threshold boundary stays split", func(t *testing.T) {
		other, err := graph.ScanChunk(ctx, core.NewChunkID(0, core.Coord{Y: 1}))
		require.NoError(t, err)
		require.Len(t, other, 1)

		require.NotZero(t, origin[1].Parent)
		require.NotZero(t, other[0].Parent)
		require.NotEqual(t, origin[1].Parent, other[0].Parent)
		require.NotEqual(t, origin[0].Parent, origin[1].Parent)
	})

	t.Run("parents list their children", func(t *testing.T) {
		parent, err := graph.ReadNode(ctx, origin[0].Parent)
		require.NoError(t, err)
		require.ElementsMatch(t, []uint64{uint64(origin[0].ID), uint64(neighbor[0].ID)}, parent.Children)
		require.Empty(t, parent.CrossEdges)
	})

	t.Run("warm cache rebuild is identical", func(t *testing.T) {
		rebuilt := graphstore.NewMemoryStore()
		result2, err := NewManager(m, vs, cache, rebuilt, WithMaxWorkers(2)).Build(ctx)
		require.NoError(t, err)

		require.Equal(t, uint64(4), result2.CacheHits)
		require.Equal(t, uint64(0), result2.CacheMisses)
		require.Equal(t, result.Epoch, result2.Epoch)
		require.Equal(t, dumpGraph(t, ctx, m, graph), dumpGraph(t, ctx, m, rebuilt))
	})

	t.Run("cold cache rebuild is identical", func(t *testing.T) {
		freshBlobs := blobstore.NewMemoryStore()
		freshVS := volume.NewStore(m, freshBlobs)
		seedVolume(t, ctx, freshVS, m)

		rebuilt := graphstore.NewMemoryStore()
		_, err := NewManager(m, freshVS, ecstore.NewStore(m, freshBlobs), rebuilt).Build(ctx)
		require.NoError(t, err)
		require.Equal(t, dumpGraph(t, ctx, m, graph), dumpGraph(t, ctx, m, rebuilt))
	})
}

func TestManagerBuildAborts(t *testing.T) {
	ctx := context.Background()
	m := testMeta()

	t.Run("missing raw data", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		vs := volume.NewStore(m, blobs)
		// No volume data at all.

		mgr := NewManager(m, vs, ecstore.NewStore(m, blobs), graphstore.NewMemoryStore(),
			WithMaxRetries(0))
		_, err := mgr.Build(ctx)

		var aborted *BuildAbortedError
		require.ErrorAs(t, err, &aborted)
		require.Equal(t, uint8(0), aborted.Layer)

		var unavailable *volume.DataUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("malformed block is fatal", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		vs := volume.NewStore(m, blobs)
		seedVolume(t, ctx, vs, m)

		// Overwrite one block with a wrongly-sized extent.
		bad := volume.NewLabelBlock(core.Coord{}, [3]uint32{8, 8, 8})
		require.NoError(t, vs.PutLabels(ctx, core.Coord{}, bad))

		mgr := NewManager(m, vs, ecstore.NewStore(m, blobs), graphstore.NewMemoryStore())
		_, err := mgr.Build(ctx)

		var aborted *BuildAbortedError
		require.ErrorAs(t, err, &aborted)

		var format *volume.FormatError
		require.ErrorAs(t, err, &format)
	})

	t.Run("canceled context", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		vs := volume.NewStore(m, blobs)
		seedVolume(t, ctx, vs, m)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewManager(m, vs, ecstore.NewStore(m, blobs), graphstore.NewMemoryStore()).Build(canceled)
		require.Error(t, err)
	})
}
