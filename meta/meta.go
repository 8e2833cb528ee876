// Package meta holds the immutable configuration of one chunked graph:
// the voxel bounding box, the chunk grid at every hierarchy layer and the
// locations of the raw data the graph was (or will be) built from.
package meta

import (
	"fmt"

	"github.com/hupe1980/chunkgraph/core"
)

// DefaultFanOut is the number of child chunks per axis aggregated into a
// parent chunk.
const DefaultFanOut = 2

// DefaultInitialIDCeiling splits the per-chunk counter space in half:
// counters below the ceiling are reserved for the initial build, counters
// at or above it are handed out by post-build edit operations.
const DefaultInitialIDCeiling = 1 << 25

// BBox is a half-open voxel bounding box [Min, Max).
type BBox struct {
	Min core.Coord
	Max core.Coord
}

// DataSource names the external stores a graph build reads and writes.
// Paths are prefixes within the configured blob stores.
type DataSource struct {
	// Watershed is the prefix of the per-chunk oversegmentation label
	// blocks.
	Watershed string
	// Agglomeration is the prefix of the per-chunk affinity tables.
	Agglomeration string
	// EdgeCache and ComponentCache are the prefixes under which
	// processed per-chunk results are persisted for reuse.
	EdgeCache      string
	ComponentCache string
	// ShardedMeshDir is the prefix of the sharded initial mesh fragments,
	// empty if the dataset has no shard layout.
	ShardedMeshDir string
}

// ShardConfig describes the sharded addressing of initial mesh fragments.
type ShardConfig struct {
	PreshiftBits  uint8
	MinishardBits uint8
	ShardBits     uint8
	// MaxMeshLayer is the highest hierarchy layer that has pre-computed
	// mesh fragments. Segments above it contribute through their
	// descendants.
	MaxMeshLayer uint8
	// Split distinguishes re-shard generations in shard file names.
	// Initial builds write generation 0.
	Split uint32
}

// GraphMeta is the immutable configuration of one graph. Construct it
// once, call Validate, then share it freely; nothing in this package
// mutates it afterwards.
type GraphMeta struct {
	// GraphID names the graph within the backing stores.
	GraphID string

	// ChunkSize is the voxel extent of a layer-0 chunk per axis.
	ChunkSize core.Coord

	// FanOut is the per-axis aggregation factor between layers.
	FanOut uint32

	// LayerCount is the number of hierarchy layers. Layer 0 is the
	// finest; layer LayerCount-1 holds the root segments.
	LayerCount uint8

	// Bounds is the voxel bounding box of the dataset.
	Bounds BBox

	// Sources locates the raw and derived data.
	Sources DataSource

	// AffinityThreshold is the minimum edge affinity for two segments to
	// join a connected component.
	AffinityThreshold float32

	// InitialIDCeiling is the per-chunk counter cutoff between initial
	// and dynamic segments. Zero means DefaultInitialIDCeiling.
	InitialIDCeiling uint64

	// Shard is the sharded mesh layout, nil if none is configured.
	Shard *ShardConfig
}

// Validate checks the configuration for internal consistency.
func (m *GraphMeta) Validate() error {
	if m.GraphID == "" {
		return fmt.Errorf("meta: graph id must not be empty")
	}
	if m.ChunkSize.X == 0 || m.ChunkSize.Y == 0 || m.ChunkSize.Z == 0 {
		return fmt.Errorf("meta: chunk size must be positive on every axis, got %+v", m.ChunkSize)
	}
	if m.FanOut < 2 {
		return fmt.Errorf("meta: fan-out must be at least 2, got %d", m.FanOut)
	}
	if m.LayerCount == 0 {
		return fmt.Errorf("meta: layer count must be positive")
	}
	if int(m.LayerCount)-1 > core.MaxLayer {
		return fmt.Errorf("meta: layer count %d exceeds encodable layers", m.LayerCount)
	}
	if m.Bounds.Max.X <= m.Bounds.Min.X ||
		m.Bounds.Max.Y <= m.Bounds.Min.Y ||
		m.Bounds.Max.Z <= m.Bounds.Min.Z {
		return fmt.Errorf("meta: empty bounding box %+v", m.Bounds)
	}
	grid := m.GridSize(0)
	if grid.X > core.MaxCoord+1 || grid.Y > core.MaxCoord+1 || grid.Z > core.MaxCoord+1 {
		return fmt.Errorf("meta: layer-0 grid %+v exceeds encodable coordinates", grid)
	}
	if m.InitialIDCeiling > core.MaxCounter {
		return fmt.Errorf("meta: initial id ceiling %d exceeds counter space", m.InitialIDCeiling)
	}
	if m.Shard != nil {
		total := int(m.Shard.MinishardBits) + int(m.Shard.ShardBits) + int(m.Shard.PreshiftBits)
		if total > 64 {
			return fmt.Errorf("meta: shard bit budget %d exceeds 64", total)
		}
	}
	return nil
}

// IDCeiling returns the effective initial/dynamic counter cutoff.
func (m *GraphMeta) IDCeiling() uint64 {
	if m.InitialIDCeiling == 0 {
		return DefaultInitialIDCeiling
	}
	return m.InitialIDCeiling
}

// chunkVoxels returns the voxel edge length of a chunk at the given layer.
func (m *GraphMeta) chunkVoxels(layer uint8) core.Coord {
	f := uint32(1)
	for i := uint8(0); i < layer; i++ {
		f *= m.FanOut
	}
	return core.Coord{
		X: m.ChunkSize.X * f,
		Y: m.ChunkSize.Y * f,
		Z: m.ChunkSize.Z * f,
	}
}

// GridSize returns the number of chunks per axis at the given layer.
func (m *GraphMeta) GridSize(layer uint8) core.Coord {
	cs := m.chunkVoxels(layer)
	ceilDiv := func(a, b uint32) uint32 { return (a + b - 1) / b }
	return core.Coord{
		X: ceilDiv(m.Bounds.Max.X-m.Bounds.Min.X, cs.X),
		Y: ceilDiv(m.Bounds.Max.Y-m.Bounds.Min.Y, cs.Y),
		Z: ceilDiv(m.Bounds.Max.Z-m.Bounds.Min.Z, cs.Z),
	}
}

// ContainsChunk reports whether the grid coordinate is inside the layer's
// chunk grid.
func (m *GraphMeta) ContainsChunk(layer uint8, coord core.Coord) bool {
	if layer >= m.LayerCount {
		return false
	}
	g := m.GridSize(layer)
	return coord.X < g.X && coord.Y < g.Y && coord.Z < g.Z
}

// ChunkExtent returns the half-open voxel extent of a chunk, clamped to
// the bounding box.
func (m *GraphMeta) ChunkExtent(layer uint8, coord core.Coord) BBox {
	cs := m.chunkVoxels(layer)
	min := core.Coord{
		X: m.Bounds.Min.X + coord.X*cs.X,
		Y: m.Bounds.Min.Y + coord.Y*cs.Y,
		Z: m.Bounds.Min.Z + coord.Z*cs.Z,
	}
	clamp := func(v, hi uint32) uint32 {
		if v > hi {
			return hi
		}
		return v
	}
	max := core.Coord{
		X: clamp(min.X+cs.X, m.Bounds.Max.X),
		Y: clamp(min.Y+cs.Y, m.Bounds.Max.Y),
		Z: clamp(min.Z+cs.Z, m.Bounds.Max.Z),
	}
	return BBox{Min: min, Max: max}
}

// ParentCoord returns the grid coordinate of the chunk that aggregates
// the given chunk one layer up.
func (m *GraphMeta) ParentCoord(coord core.Coord) core.Coord {
	return core.Coord{
		X: coord.X / m.FanOut,
		Y: coord.Y / m.FanOut,
		Z: coord.Z / m.FanOut,
	}
}

// ChildrenCoords returns the grid coordinates of the chunks aggregated by
// the given chunk one layer down, bounds-checked against the child grid.
func (m *GraphMeta) ChildrenCoords(layer uint8, coord core.Coord) []core.Coord {
	if layer == 0 {
		return nil
	}
	childGrid := m.GridSize(layer - 1)
	coords := make([]core.Coord, 0, m.FanOut*m.FanOut*m.FanOut)
	for dx := uint32(0); dx < m.FanOut; dx++ {
		for dy := uint32(0); dy < m.FanOut; dy++ {
			for dz := uint32(0); dz < m.FanOut; dz++ {
				c := core.Coord{
					X: coord.X*m.FanOut + dx,
					Y: coord.Y*m.FanOut + dy,
					Z: coord.Z*m.FanOut + dz,
				}
				if c.X < childGrid.X && c.Y < childGrid.Y && c.Z < childGrid.Z {
					coords = append(coords, c)
				}
			}
		}
	}
	return coords
}

// Chunks enumerates all grid coordinates of a layer in (x, y, z) order.
func (m *GraphMeta) Chunks(layer uint8) []core.Coord {
	g := m.GridSize(layer)
	coords := make([]core.Coord, 0, g.X*g.Y*g.Z)
	for x := uint32(0); x < g.X; x++ {
		for y := uint32(0); y < g.Y; y++ {
			for z := uint32(0); z < g.Z; z++ {
				coords = append(coords, core.Coord{X: x, Y: y, Z: z})
			}
		}
	}
	return coords
}
