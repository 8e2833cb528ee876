// Package volume reads the raw per-voxel data a graph build consumes: the
// watershed oversegmentation (one label block per layer-0 chunk) and the
// agglomeration affinities between neighboring watershed labels.
//
// Blocks are stored without halo; ReadLabels stitches the requested halo
// from the neighboring chunks' blocks, so a chunk build never needs more
// than the blocks overlapping its extent.
package volume

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/meta"
)

const (
	labelsMagic     = "CGWS"
	affinitiesMagic = "CGAF"
	blockVersion    = 1
)

// Source reads raw watershed and agglomeration data for chunk extents.
type Source interface {
	// ReadLabels returns the labels of the chunk's voxel extent extended
	// by halo voxels on every axis (clamped to the dataset bounds).
	ReadLabels(ctx context.Context, chunk core.Coord, halo uint32) (*LabelBlock, error)

	// ReadAffinities returns the affinity table recorded for the chunk.
	ReadAffinities(ctx context.Context, chunk core.Coord) ([]edges.Edge, error)
}

// Store reads and writes raw data blocks in a blob store. It implements
// Source; the write side exists for the external pipeline boundary and
// for tests.
type Store struct {
	meta  *meta.GraphMeta
	blobs blobstore.BlobStore
}

// NewStore creates a raw data store over the given blobs.
func NewStore(m *meta.GraphMeta, blobs blobstore.BlobStore) *Store {
	return &Store{meta: m, blobs: blobs}
}

func (s *Store) labelKey(chunk core.Coord) string {
	return fmt.Sprintf("%s/%d_%d_%d", s.meta.Sources.Watershed, chunk.X, chunk.Y, chunk.Z)
}

func (s *Store) affinityKey(chunk core.Coord) string {
	return fmt.Sprintf("%s/%d_%d_%d", s.meta.Sources.Agglomeration, chunk.X, chunk.Y, chunk.Z)
}

// ReadLabels implements Source.
func (s *Store) ReadLabels(ctx context.Context, chunk core.Coord, halo uint32) (*LabelBlock, error) {
	if !s.meta.ContainsChunk(0, chunk) {
		return nil, &DataUnavailableError{Key: s.labelKey(chunk)}
	}

	ext := s.meta.ChunkExtent(0, chunk)
	bounds := s.meta.Bounds

	// Extend by halo, clamped to the dataset bounds.
	min := core.Coord{
		X: subClamp(ext.Min.X, halo, bounds.Min.X),
		Y: subClamp(ext.Min.Y, halo, bounds.Min.Y),
		Z: subClamp(ext.Min.Z, halo, bounds.Min.Z),
	}
	max := core.Coord{
		X: addClamp(ext.Max.X, halo, bounds.Max.X),
		Y: addClamp(ext.Max.Y, halo, bounds.Max.Y),
		Z: addClamp(ext.Max.Z, halo, bounds.Max.Z),
	}

	out := NewLabelBlock(min, [3]uint32{max.X - min.X, max.Y - min.Y, max.Z - min.Z})

	// Stitch from every layer-0 block overlapping the extent.
	cs := s.meta.ChunkSize
	cx0, cx1 := (min.X-bounds.Min.X)/cs.X, (max.X-1-bounds.Min.X)/cs.X
	cy0, cy1 := (min.Y-bounds.Min.Y)/cs.Y, (max.Y-1-bounds.Min.Y)/cs.Y
	cz0, cz1 := (min.Z-bounds.Min.Z)/cs.Z, (max.Z-1-bounds.Min.Z)/cs.Z

	for cx := cx0; cx <= cx1; cx++ {
		for cy := cy0; cy <= cy1; cy++ {
			for cz := cz0; cz <= cz1; cz++ {
				block, err := s.readBlock(ctx, core.Coord{X: cx, Y: cy, Z: cz})
				if err != nil {
					return nil, err
				}
				copyOverlap(out, block)
			}
		}
	}
	return out, nil
}

func subClamp(v, d, lo uint32) uint32 {
	if v < lo+d {
		return lo
	}
	return v - d
}

func addClamp(v, d, hi uint32) uint32 {
	if v+d > hi {
		return hi
	}
	return v + d
}

func copyOverlap(dst, src *LabelBlock) {
	x0 := maxU32(dst.Origin.X, src.Origin.X)
	x1 := minU32(dst.Origin.X+dst.Dims[0], src.Origin.X+src.Dims[0])
	y0 := maxU32(dst.Origin.Y, src.Origin.Y)
	y1 := minU32(dst.Origin.Y+dst.Dims[1], src.Origin.Y+src.Dims[1])
	z0 := maxU32(dst.Origin.Z, src.Origin.Z)
	z1 := minU32(dst.Origin.Z+dst.Dims[2], src.Origin.Z+src.Dims[2])

	for x := x0; x < x1; x++ {
		for y := y0; y < y1; y++ {
			for z := z0; z < z1; z++ {
				dst.Set(x, y, z, src.At(x, y, z))
			}
		}
	}
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func (s *Store) readBlock(ctx context.Context, chunk core.Coord) (*LabelBlock, error) {
	key := s.labelKey(chunk)

	data, err := blobstore.ReadAll(ctx, s.blobs, key)
	if err != nil {
		return nil, &DataUnavailableError{Key: key, cause: err}
	}

	block, err := decodeLabelBlock(key, data)
	if err != nil {
		return nil, err
	}

	// The stored block must match this chunk's clipped extent exactly.
	ext := s.meta.ChunkExtent(0, chunk)
	want := [3]uint32{ext.Max.X - ext.Min.X, ext.Max.Y - ext.Min.Y, ext.Max.Z - ext.Min.Z}
	if block.Origin != ext.Min || block.Dims != want {
		return nil, &FormatError{
			Key:    key,
			Reason: fmt.Sprintf("block extent %+v/%v does not match chunk extent %+v/%v", block.Origin, block.Dims, ext.Min, want),
		}
	}
	return block, nil
}

// ReadAffinities implements Source.
func (s *Store) ReadAffinities(ctx context.Context, chunk core.Coord) ([]edges.Edge, error) {
	key := s.affinityKey(chunk)

	data, err := blobstore.ReadAll(ctx, s.blobs, key)
	if err != nil {
		return nil, &DataUnavailableError{Key: key, cause: err}
	}
	return decodeAffinities(key, data)
}

// PutLabels writes a chunk's label block. The block must cover exactly
// the chunk's clipped voxel extent.
func (s *Store) PutLabels(ctx context.Context, chunk core.Coord, block *LabelBlock) error {
	data, err := encodeLabelBlock(block)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, s.labelKey(chunk), data)
}

// PutAffinities writes a chunk's affinity table.
func (s *Store) PutAffinities(ctx context.Context, chunk core.Coord, es []edges.Edge) error {
	data, err := encodeAffinities(es)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, s.affinityKey(chunk), data)
}

func encodeLabelBlock(b *LabelBlock) ([]byte, error) {
	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header, labelsMagic)
	header[4] = blockVersion
	binary.LittleEndian.PutUint32(header[8:], b.Origin.X)
	binary.LittleEndian.PutUint32(header[12:], b.Origin.Y)
	binary.LittleEndian.PutUint32(header[16:], b.Origin.Z)
	binary.LittleEndian.PutUint32(header[20:], b.Dims[0])
	binary.LittleEndian.PutUint32(header[24:], b.Dims[1])
	binary.LittleEndian.PutUint32(header[28:], b.Dims[2])
	buf.Write(header)

	raw := make([]byte, len(b.Data)*8)
	for i, v := range b.Data {
		binary.LittleEndian.PutUint64(raw[i*8:], v)
	}

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLabelBlock(key string, data []byte) (*LabelBlock, error) {
	if len(data) < 32 || string(data[:4]) != labelsMagic {
		return nil, &FormatError{Key: key, Reason: "bad label block header"}
	}
	if data[4] != blockVersion {
		return nil, &FormatError{Key: key, Reason: fmt.Sprintf("unsupported block version %d", data[4])}
	}

	origin := core.Coord{
		X: binary.LittleEndian.Uint32(data[8:]),
		Y: binary.LittleEndian.Uint32(data[12:]),
		Z: binary.LittleEndian.Uint32(data[16:]),
	}
	dims := [3]uint32{
		binary.LittleEndian.Uint32(data[20:]),
		binary.LittleEndian.Uint32(data[24:]),
		binary.LittleEndian.Uint32(data[28:]),
	}

	n := int(dims[0]) * int(dims[1]) * int(dims[2])
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data[32:])))
	if err != nil {
		return nil, &FormatError{Key: key, Reason: fmt.Sprintf("lz4: %v", err)}
	}
	if len(raw) != n*8 {
		return nil, &FormatError{Key: key, Reason: fmt.Sprintf("payload is %d bytes, dims require %d", len(raw), n*8)}
	}

	block := &LabelBlock{Origin: origin, Dims: dims, Data: make([]uint64, n)}
	for i := range block.Data {
		block.Data[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return block, nil
}

func encodeAffinities(es []edges.Edge) ([]byte, error) {
	var buf bytes.Buffer
	header := make([]byte, 8)
	copy(header, affinitiesMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(es)))
	buf.Write(header)

	raw := make([]byte, len(es)*20)
	for i, e := range es {
		binary.LittleEndian.PutUint64(raw[i*20:], e.U)
		binary.LittleEndian.PutUint64(raw[i*20+8:], e.V)
		binary.LittleEndian.PutUint32(raw[i*20+16:], math.Float32bits(e.Affinity))
	}

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAffinities(key string, data []byte) ([]edges.Edge, error) {
	if len(data) < 8 || string(data[:4]) != affinitiesMagic {
		return nil, &FormatError{Key: key, Reason: "bad affinity table header"}
	}

	n := int(binary.LittleEndian.Uint32(data[4:]))
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data[8:])))
	if err != nil {
		return nil, &FormatError{Key: key, Reason: fmt.Sprintf("lz4: %v", err)}
	}
	if len(raw) != n*20 {
		return nil, &FormatError{Key: key, Reason: fmt.Sprintf("payload is %d bytes, count requires %d", len(raw), n*20)}
	}

	es := make([]edges.Edge, n)
	for i := range es {
		es[i] = edges.Edge{
			U:        binary.LittleEndian.Uint64(raw[i*20:]),
			V:        binary.LittleEndian.Uint64(raw[i*20+8:]),
			Affinity: math.Float32frombits(binary.LittleEndian.Uint32(raw[i*20+16:])),
		}
	}
	return es, nil
}
