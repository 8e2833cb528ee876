package core

import "strconv"

// SegmentID identifies one node of the chunked segmentation graph.
//
// The hierarchy layer, the owning chunk and a per-chunk counter are packed
// into a single uint64 so that IDs sort by (layer, x, y, z, counter) and
// range scans over a chunk become contiguous key ranges:
//
//	[Layer:8 bits][X:10][Y:10][Z:10][Counter:26]
//
//	→ 256 layers max
//	→ 1024 chunks per axis
//	→ ~67M segments per chunk
//
// A SegmentID of 0 is the zero value and never allocated (counters start
// at 1).
type SegmentID uint64

// ChunkID is a SegmentID with the counter bits zeroed. It identifies the
// chunk a segment lives in and doubles as the lower bound of that chunk's
// key range.
type ChunkID uint64

const (
	layerBits   = 8
	spatialBits = 10
	counterBits = 26

	layerShift = 64 - layerBits
	xShift     = layerShift - spatialBits
	yShift     = xShift - spatialBits
	zShift     = yShift - spatialBits

	spatialMask = (1 << spatialBits) - 1
	counterMask = (1 << counterBits) - 1

	// MaxLayer is the highest encodable hierarchy layer.
	MaxLayer = (1 << layerBits) - 1
	// MaxCoord is the highest encodable chunk grid coordinate per axis.
	MaxCoord = spatialMask
	// MaxCounter is the highest encodable per-chunk counter.
	MaxCounter = counterMask
)

// Coord is a chunk grid coordinate or a voxel coordinate, depending on
// context.
type Coord struct {
	X, Y, Z uint32
}

// Less orders coordinates by (X, Y, Z).
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

// NewChunkID packs a layer and chunk grid coordinate. Out-of-range
// components are masked; callers validate against meta bounds first.
func NewChunkID(layer uint8, coord Coord) ChunkID {
	return ChunkID(uint64(layer)<<layerShift |
		uint64(coord.X&spatialMask)<<xShift |
		uint64(coord.Y&spatialMask)<<yShift |
		uint64(coord.Z&spatialMask)<<zShift)
}

// NewSegmentID packs a chunk identity and a per-chunk counter.
func NewSegmentID(chunk ChunkID, counter uint64) SegmentID {
	return SegmentID(uint64(chunk) | counter&counterMask)
}

// Layer extracts the hierarchy layer (high 8 bits).
func (id SegmentID) Layer() uint8 {
	return uint8(id >> layerShift)
}

// ChunkCoord extracts the chunk grid coordinate.
func (id SegmentID) ChunkCoord() Coord {
	return Coord{
		X: uint32(id>>xShift) & spatialMask,
		Y: uint32(id>>yShift) & spatialMask,
		Z: uint32(id>>zShift) & spatialMask,
	}
}

// Counter extracts the per-chunk counter (low 26 bits).
func (id SegmentID) Counter() uint64 {
	return uint64(id) & counterMask
}

// ChunkID returns the segment's chunk identity (counter bits zeroed).
func (id SegmentID) ChunkID() ChunkID {
	return ChunkID(uint64(id) &^ uint64(counterMask))
}

// String renders the ID in decimal, matching the row-key form used by
// the persisted graph.
func (id SegmentID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Layer extracts the hierarchy layer of the chunk.
func (c ChunkID) Layer() uint8 {
	return SegmentID(c).Layer()
}

// Coord extracts the chunk grid coordinate.
func (c ChunkID) Coord() Coord {
	return SegmentID(c).ChunkCoord()
}

// MinSegment returns the smallest SegmentID belonging to the chunk.
func (c ChunkID) MinSegment() SegmentID {
	return SegmentID(c)
}

// MaxSegment returns the largest SegmentID belonging to the chunk.
func (c ChunkID) MaxSegment() SegmentID {
	return SegmentID(uint64(c) | counterMask)
}

// String renders the chunk identity in decimal.
func (c ChunkID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}
