package volume

import "github.com/hupe1980/chunkgraph/core"

// LabelBlock is a dense cuboid of watershed labels with a voxel origin.
// Data is laid out with z fastest: index = (x*DimY + y)*DimZ + z.
type LabelBlock struct {
	Origin core.Coord
	Dims   [3]uint32
	Data   []uint64
}

// NewLabelBlock allocates a zeroed block.
func NewLabelBlock(origin core.Coord, dims [3]uint32) *LabelBlock {
	return &LabelBlock{
		Origin: origin,
		Dims:   dims,
		Data:   make([]uint64, int(dims[0])*int(dims[1])*int(dims[2])),
	}
}

// Contains reports whether the global voxel coordinate lies inside the
// block.
func (b *LabelBlock) Contains(x, y, z uint32) bool {
	return x >= b.Origin.X && x < b.Origin.X+b.Dims[0] &&
		y >= b.Origin.Y && y < b.Origin.Y+b.Dims[1] &&
		z >= b.Origin.Z && z < b.Origin.Z+b.Dims[2]
}

// At returns the label at a global voxel coordinate. The coordinate must
// be inside the block.
func (b *LabelBlock) At(x, y, z uint32) uint64 {
	return b.Data[b.index(x, y, z)]
}

// Set stores a label at a global voxel coordinate.
func (b *LabelBlock) Set(x, y, z uint32, label uint64) {
	b.Data[b.index(x, y, z)] = label
}

func (b *LabelBlock) index(x, y, z uint32) int {
	lx := int(x - b.Origin.X)
	ly := int(y - b.Origin.Y)
	lz := int(z - b.Origin.Z)
	return (lx*int(b.Dims[1])+ly)*int(b.Dims[2]) + lz
}
