// Package ecstore persists per-chunk edge lists and connected components
// so that repeated graph builds over the same raw data skip chunk
// processing. It is a content-addressed cache: entries are keyed by chunk
// identity plus an opaque raw-data version, so builds over different raw
// data never share entries.
package ecstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/codec"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/meta"
)

// ChunkData is the result of processing one layer-0 chunk.
type ChunkData struct {
	// InChunk are edges with both endpoints inside the chunk, normalized
	// and deduplicated.
	InChunk []edges.Edge
	// Cross are edges leaving the chunk; U is the endpoint inside.
	Cross []edges.Edge
	// Components are the thresholded connected components of the chunk's
	// labels, sorted by minimum label.
	Components []*roaring64.Bitmap
}

// Store caches ChunkData in a blob store.
type Store struct {
	meta  *meta.GraphMeta
	blobs blobstore.BlobStore
	codec codec.Codec
}

// NewStore creates an edge/component cache over the given blobs using
// the default codec.
func NewStore(m *meta.GraphMeta, blobs blobstore.BlobStore) *Store {
	return &Store{meta: m, blobs: blobs, codec: codec.Default}
}

func (s *Store) edgeKey(chunk core.Coord, version string) string {
	return fmt.Sprintf("%s/%s/%d_%d_%d", s.meta.Sources.EdgeCache, version, chunk.X, chunk.Y, chunk.Z)
}

func (s *Store) componentKey(chunk core.Coord, version string) string {
	return fmt.Sprintf("%s/%s/%d_%d_%d", s.meta.Sources.ComponentCache, version, chunk.X, chunk.Y, chunk.Z)
}

// Get returns the cached data for (chunk, version). A missing entry is
// reported as (nil, false, nil), never as an error; callers fall back to
// processing the chunk.
func (s *Store) Get(ctx context.Context, chunk core.Coord, version string) (*ChunkData, bool, error) {
	edgeData, err := blobstore.ReadAll(ctx, s.blobs, s.edgeKey(chunk, version))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ecstore: read edges: %w", err)
	}

	compData, err := blobstore.ReadAll(ctx, s.blobs, s.componentKey(chunk, version))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ecstore: read components: %w", err)
	}

	inChunk, cross, err := s.decodeEdgePair(edgeData)
	if err != nil {
		return nil, false, err
	}
	components, err := s.codec.DecodeComponents(compData)
	if err != nil {
		return nil, false, err
	}

	return &ChunkData{InChunk: inChunk, Cross: cross, Components: components}, true, nil
}

// Put stores the data for (chunk, version). Puts are idempotent: the
// encoding is deterministic, so re-putting identical content overwrites
// the entry with identical bytes.
func (s *Store) Put(ctx context.Context, chunk core.Coord, version string, data *ChunkData) error {
	edgeData, err := s.encodeEdgePair(data.InChunk, data.Cross)
	if err != nil {
		return err
	}
	compData, err := s.codec.EncodeComponents(data.Components)
	if err != nil {
		return err
	}

	if err := s.blobs.Put(ctx, s.edgeKey(chunk, version), edgeData); err != nil {
		return fmt.Errorf("ecstore: put edges: %w", err)
	}
	if err := s.blobs.Put(ctx, s.componentKey(chunk, version), compData); err != nil {
		return fmt.Errorf("ecstore: put components: %w", err)
	}
	return nil
}

// encodeEdgePair concatenates the in-chunk and cross edge payloads with a
// length prefix so both lists live in one blob.
func (s *Store) encodeEdgePair(inChunk, cross []edges.Edge) ([]byte, error) {
	a, err := s.codec.EncodeEdges(inChunk)
	if err != nil {
		return nil, err
	}
	b, err := s.codec.EncodeEdges(cross)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 4, 4+len(a)+len(b))
	binary.LittleEndian.PutUint32(out, uint32(len(a)))
	out = append(out, a...)
	out = append(out, b...)
	return out, nil
}

func (s *Store) decodeEdgePair(data []byte) (inChunk, cross []edges.Edge, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("ecstore: truncated edge payload")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if 4+n > len(data) {
		return nil, nil, fmt.Errorf("ecstore: truncated edge payload")
	}

	inChunk, err = s.codec.DecodeEdges(data[4 : 4+n])
	if err != nil {
		return nil, nil, err
	}
	cross, err = s.codec.DecodeEdges(data[4+n:])
	if err != nil {
		return nil, nil, err
	}
	return inChunk, cross, nil
}
