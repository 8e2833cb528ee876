package edges

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedup(t *testing.T) {
	es := []Edge{
		{U: 5, V: 3, Affinity: 0.9},
		{U: 3, V: 5, Affinity: 0.9}, // same pair, recorded by the other chunk
		{U: 1, V: 2, Affinity: 0.4},
		{U: 2, V: 1, Affinity: 0.4},
		{U: 7, V: 8, Affinity: 0.1},
	}

	got := Dedup(es)
	require.Equal(t, []Edge{
		{U: 1, V: 2, Affinity: 0.4},
		{U: 3, V: 5, Affinity: 0.9},
		{U: 7, V: 8, Affinity: 0.1},
	}, got)

	// Deduplicating twice is a no-op.
	require.Equal(t, got, Dedup(got))
}

func TestComponentsThreshold(t *testing.T) {
	nodes := []uint64{1, 2, 3, 4, 9}
	es := []Edge{
		{U: 1, V: 2, Affinity: 0.9},
		{U: 2, V: 3, Affinity: 0.2}, // below threshold, must not merge
		{U: 3, V: 4, Affinity: 0.7},
	}

	comps := Components(nodes, es, 0.5)
	require.Len(t, comps, 3)

	require.Equal(t, []uint64{1, 2}, comps[0].ToArray())
	require.Equal(t, []uint64{3, 4}, comps[1].ToArray())
	require.Equal(t, []uint64{9}, comps[2].ToArray())
}

func TestComponentsDeterministic(t *testing.T) {
	nodes := []uint64{10, 20, 30, 40}
	es := []Edge{
		{U: 40, V: 30, Affinity: 1},
		{U: 10, V: 20, Affinity: 1},
	}

	a := Components(nodes, es, 0.5)
	b := Components(nodes, es, 0.5)

	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].ToArray(), b[i].ToArray())
	}
}

func TestUnionFindRank(t *testing.T) {
	uf := NewUnionFind([]uint64{1, 2, 3})

	require.True(t, uf.Union(1, 2))
	require.False(t, uf.Union(2, 1))
	require.True(t, uf.Union(2, 3))
	require.Equal(t, uf.Find(1), uf.Find(3))

	// Unknown nodes become singletons on first contact.
	require.Equal(t, uint64(99), uf.Find(99))
}
