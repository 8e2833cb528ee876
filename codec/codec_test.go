package codec

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkgraph/edges"
)

func TestByName(t *testing.T) {
	c, ok := ByName("zstd-v1")
	require.True(t, ok)
	require.Equal(t, "zstd-v1", c.Name())
	require.Equal(t, Default.Name(), c.Name())

	_, ok = ByName("gzip-v0")
	require.False(t, ok)
}

func TestEdgesRoundTrip(t *testing.T) {
	c := Zstd{}
	es := []edges.Edge{
		{U: 1, V: 2, Affinity: 0.5},
		{U: 2, V: 3, Affinity: 0.75},
		{U: 100, V: 1 << 60, Affinity: 0},
	}

	data, err := c.EncodeEdges(es)
	require.NoError(t, err)

	got, err := c.DecodeEdges(data)
	require.NoError(t, err)
	require.Equal(t, es, got)

	// Empty lists survive too.
	data, err = c.EncodeEdges(nil)
	require.NoError(t, err)
	got, err = c.DecodeEdges(data)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEncodeEdgesDeterministic(t *testing.T) {
	c := Zstd{}
	es := []edges.Edge{{U: 7, V: 9, Affinity: 0.25}}

	a, err := c.EncodeEdges(es)
	require.NoError(t, err)
	b, err := c.EncodeEdges(es)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestComponentsRoundTrip(t *testing.T) {
	c := Zstd{}
	a := roaring64.BitmapOf(1, 2, 3)
	b := roaring64.BitmapOf(10, 1<<40)

	data, err := c.EncodeComponents([]*roaring64.Bitmap{a, b})
	require.NoError(t, err)

	got, err := c.DecodeComponents(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, a.ToArray(), got[0].ToArray())
	require.Equal(t, b.ToArray(), got[1].ToArray())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := Zstd{}

	_, err := c.DecodeEdges([]byte("not zstd"))
	require.Error(t, err)

	// Components framing rejects edge payloads.
	data, err := c.EncodeEdges(nil)
	require.NoError(t, err)
	_, err = c.DecodeComponents(data)
	require.Error(t, err)
}
