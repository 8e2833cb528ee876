package meta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgraph/core"
)

func testMeta() *GraphMeta {
	return &GraphMeta{
		GraphID:           "test",
		ChunkSize:         core.Coord{X: 64, Y: 64, Z: 64},
		FanOut:            2,
		LayerCount:        2,
		Bounds:            BBox{Max: core.Coord{X: 128, Y: 128, Z: 64}},
		AffinityThreshold: 0.5,
	}
}

func TestValidate(t *testing.T) {
	m := testMeta()
	require.NoError(t, m.Validate())

	bad := testMeta()
	bad.GraphID = ""
	require.Error(t, bad.Validate())

	bad = testMeta()
	bad.FanOut = 1
	require.Error(t, bad.Validate())

	bad = testMeta()
	bad.Bounds.Max = bad.Bounds.Min
	require.Error(t, bad.Validate())
}

func TestGridSize(t *testing.T) {
	m := testMeta()

	require.Equal(t, core.Coord{X: 2, Y: 2, Z: 1}, m.GridSize(0))
	require.Equal(t, core.Coord{X: 1, Y: 1, Z: 1}, m.GridSize(1))
}

func TestChunkExtentClamped(t *testing.T) {
	m := testMeta()

	// Fully interior chunk.
	e := m.ChunkExtent(0, core.Coord{X: 1, Y: 0, Z: 0})
	require.Equal(t, core.Coord{X: 64, Y: 0, Z: 0}, e.Min)
	require.Equal(t, core.Coord{X: 128, Y: 64, Z: 64}, e.Max)

	// Layer-1 chunk covers the whole (clamped) volume.
	e = m.ChunkExtent(1, core.Coord{})
	require.Equal(t, m.Bounds, e)
}

func TestParentChildCoords(t *testing.T) {
	m := testMeta()

	require.Equal(t, core.Coord{}, m.ParentCoord(core.Coord{X: 1, Y: 1, Z: 0}))

	children := m.ChildrenCoords(1, core.Coord{})
	// 2x2x1 grid at layer 0: the z=1 children fall outside the grid.
	require.Len(t, children, 4)
	for _, c := range children {
		require.True(t, m.ContainsChunk(0, c))
	}
}

func TestChunksEnumeration(t *testing.T) {
	m := testMeta()

	chunks := m.Chunks(0)
	require.Len(t, chunks, 4)
	// Deterministic (x, y, z) order.
	require.Equal(t, core.Coord{X: 0, Y: 0, Z: 0}, chunks[0])
	require.Equal(t, core.Coord{X: 1, Y: 1, Z: 0}, chunks[3])
}
