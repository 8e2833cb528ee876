package volume

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/meta"
)

func testMeta() *meta.GraphMeta {
	return &meta.GraphMeta{
		GraphID:    "test",
		ChunkSize:  core.Coord{X: 4, Y: 4, Z: 4},
		FanOut:     2,
		LayerCount: 2,
		Bounds:     meta.BBox{Max: core.Coord{X: 8, Y: 8, Z: 4}},
		Sources: meta.DataSource{
			Watershed:     "ws",
			Agglomeration: "aff",
		},
	}
}

// fillBlock writes a constant label into a freshly allocated chunk block.
func fillBlock(m *meta.GraphMeta, chunk core.Coord, label uint64) *LabelBlock {
	ext := m.ChunkExtent(0, chunk)
	b := NewLabelBlock(ext.Min, [3]uint32{
		ext.Max.X - ext.Min.X,
		ext.Max.Y - ext.Min.Y,
		ext.Max.Z - ext.Min.Z,
	})
	for i := range b.Data {
		b.Data[i] = label
	}
	return b
}

func TestReadLabelsWithHalo(t *testing.T) {
	ctx := context.Background()
	m := testMeta()
	store := NewStore(m, blobstore.NewMemoryStore())

	// 2x2x1 grid of chunks, each filled with its own label.
	labels := map[core.Coord]uint64{
		{X: 0, Y: 0, Z: 0}: 1,
		{X: 1, Y: 0, Z: 0}: 2,
		{X: 0, Y: 1, Z: 0}: 3,
		{X: 1, Y: 1, Z: 0}: 4,
	}
	for c, l := range labels {
		require.NoError(t, store.PutLabels(ctx, c, fillBlock(m, c, l)))
	}

	block, err := store.ReadLabels(ctx, core.Coord{X: 0, Y: 0, Z: 0}, 1)
	require.NoError(t, err)

	// Halo clamped at the dataset origin, extended into the neighbors.
	require.Equal(t, core.Coord{X: 0, Y: 0, Z: 0}, block.Origin)
	require.Equal(t, [3]uint32{5, 5, 4}, block.Dims)

	require.Equal(t, uint64(1), block.At(3, 3, 0)) // own chunk
	require.Equal(t, uint64(2), block.At(4, 0, 0)) // +x neighbor
	require.Equal(t, uint64(3), block.At(0, 4, 0)) // +y neighbor
	require.Equal(t, uint64(4), block.At(4, 4, 0)) // diagonal
}

func TestReadLabelsMissingBlock(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testMeta(), blobstore.NewMemoryStore())

	_, err := store.ReadLabels(ctx, core.Coord{X: 0, Y: 0, Z: 0}, 0)

	var unavailable *DataUnavailableError
	require.True(t, errors.As(err, &unavailable))
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestReadLabelsShapeMismatch(t *testing.T) {
	ctx := context.Background()
	m := testMeta()
	blobs := blobstore.NewMemoryStore()
	store := NewStore(m, blobs)

	// Store a block with wrong dims under chunk (0,0,0).
	bad := NewLabelBlock(core.Coord{}, [3]uint32{2, 2, 2})
	data, err := encodeLabelBlock(bad)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, "ws/0_0_0", data))

	_, err = store.ReadLabels(ctx, core.Coord{X: 0, Y: 0, Z: 0}, 0)

	var format *FormatError
	require.True(t, errors.As(err, &format))
}

func TestAffinityRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testMeta(), blobstore.NewMemoryStore())

	es := []edges.Edge{
		{U: 1, V: 2, Affinity: 0.9},
		{U: 2, V: 4, Affinity: 0.1},
	}
	chunk := core.Coord{X: 1, Y: 0, Z: 0}
	require.NoError(t, store.PutAffinities(ctx, chunk, es))

	got, err := store.ReadAffinities(ctx, chunk)
	require.NoError(t, err)
	require.Equal(t, es, got)

	_, err = store.ReadAffinities(ctx, core.Coord{X: 0, Y: 1, Z: 0})
	var unavailable *DataUnavailableError
	require.True(t, errors.As(err, &unavailable))
}
