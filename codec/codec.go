// Package codec centralizes the persisted encodings of per-chunk edge
// lists and connected components.
//
// Codec selection is a breaking-change boundary: payloads written by
// older codecs may no longer decode if the framing changes, so every
// payload carries a magic plus version header and codecs are addressable
// by a stable name.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/chunkgraph/edges"
)

// Codec encodes and decodes the cached per-chunk payloads.
// Implementations must be deterministic (identical input yields
// identical bytes) and safe for concurrent use.
type Codec interface {
	Name() string

	EncodeEdges(es []edges.Edge) ([]byte, error)
	DecodeEdges(data []byte) ([]edges.Edge, error)

	EncodeComponents(cs []*roaring64.Bitmap) ([]byte, error)
	DecodeComponents(data []byte) ([]*roaring64.Bitmap, error)
}

// Default is the codec used for new cache entries.
var Default Codec = Zstd{}

// ByName returns a built-in codec by its stable name, for payload
// stores that record the codec alongside their data.
func ByName(name string) (Codec, bool) {
	switch name {
	case "zstd-v1":
		return Zstd{}, true
	default:
		return nil, false
	}
}

const (
	edgesMagic      = "CGE1"
	componentsMagic = "CGC1"

	headerSize = 8 // magic + payload count
)

// Shared zstd coders; both are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Zstd frames payloads as little-endian binary and compresses them with
// zstd.
type Zstd struct{}

// Name implements Codec.
func (Zstd) Name() string { return "zstd-v1" }

// EncodeEdges frames and compresses an edge list. Output is deterministic
// for identical input, which keeps cache puts idempotent.
func (Zstd) EncodeEdges(es []edges.Edge) ([]byte, error) {
	raw := make([]byte, headerSize+len(es)*20)
	copy(raw, edgesMagic)
	binary.LittleEndian.PutUint32(raw[4:], uint32(len(es)))

	off := headerSize
	for _, e := range es {
		binary.LittleEndian.PutUint64(raw[off:], e.U)
		binary.LittleEndian.PutUint64(raw[off+8:], e.V)
		binary.LittleEndian.PutUint32(raw[off+16:], math.Float32bits(e.Affinity))
		off += 20
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// DecodeEdges reverses EncodeEdges.
func (Zstd) DecodeEdges(data []byte) ([]edges.Edge, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress edges: %w", err)
	}
	if len(raw) < headerSize || string(raw[:4]) != edgesMagic {
		return nil, fmt.Errorf("codec: bad edge payload header")
	}

	n := int(binary.LittleEndian.Uint32(raw[4:]))
	if len(raw) != headerSize+n*20 {
		return nil, fmt.Errorf("codec: edge payload length %d does not match count %d", len(raw), n)
	}

	es := make([]edges.Edge, n)
	off := headerSize
	for i := range es {
		es[i] = edges.Edge{
			U:        binary.LittleEndian.Uint64(raw[off:]),
			V:        binary.LittleEndian.Uint64(raw[off+8:]),
			Affinity: math.Float32frombits(binary.LittleEndian.Uint32(raw[off+16:])),
		}
		off += 20
	}
	return es, nil
}

// EncodeComponents frames and compresses connected components as a
// sequence of serialized roaring bitmaps.
func (Zstd) EncodeComponents(cs []*roaring64.Bitmap) ([]byte, error) {
	raw := make([]byte, headerSize)
	copy(raw, componentsMagic)
	binary.LittleEndian.PutUint32(raw[4:], uint32(len(cs)))

	for _, bm := range cs {
		b, err := bm.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("codec: marshal component: %w", err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
		raw = append(raw, lenBuf[:]...)
		raw = append(raw, b...)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// DecodeComponents reverses EncodeComponents.
func (Zstd) DecodeComponents(data []byte) ([]*roaring64.Bitmap, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress components: %w", err)
	}
	if len(raw) < headerSize || string(raw[:4]) != componentsMagic {
		return nil, fmt.Errorf("codec: bad component payload header")
	}

	n := int(binary.LittleEndian.Uint32(raw[4:]))
	cs := make([]*roaring64.Bitmap, 0, n)
	off := headerSize
	for i := 0; i < n; i++ {
		if off+4 > len(raw) {
			return nil, fmt.Errorf("codec: truncated component payload")
		}
		l := int(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
		if off+l > len(raw) {
			return nil, fmt.Errorf("codec: truncated component payload")
		}
		bm := roaring64.New()
		if err := bm.UnmarshalBinary(raw[off : off+l]); err != nil {
			return nil, fmt.Errorf("codec: unmarshal component: %w", err)
		}
		cs = append(cs, bm)
		off += l
	}
	if off != len(raw) {
		return nil, fmt.Errorf("codec: trailing bytes in component payload")
	}
	return cs, nil
}
