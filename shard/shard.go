// Package shard resolves segment IDs to regions of neuroglancer-style
// shard files. A shard file aggregates many small mesh fragments; the
// fragment for a given ID is found by hashing the ID into a (shard,
// minishard) pair and looking the ID up in that minishard's index.
package shard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/cache"
	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/meta"
)

// DefaultIndexCacheBytes bounds the memory held by cached shard
// indexes. Each index is (1<<MinishardBits)*16 bytes, so the default
// admits thousands of shard files for typical layouts.
const DefaultIndexCacheBytes = 64 << 20

// ErrNoShardLayout is returned when the dataset has no sharded mesh
// configuration.
var ErrNoShardLayout = errors.New("shard: no shard layout configured")

// Location is the addressing of a segment within the shard layout,
// computed purely from bit arithmetic with no storage access.
type Location struct {
	// ShardFile is the file name within the layer directory.
	ShardFile string
	// Shard and Minishard are the raw addressing components.
	Shard     uint64
	Minishard uint64
}

// Locator maps segment IDs to shard file regions.
type Locator struct {
	cfg   meta.ShardConfig
	dir   string
	store blobstore.BlobStore

	indexes cache.BlockCache // shard file -> fixed-size shard index
}

// NewLocator creates a locator for the graph's shard layout. The store
// holds the shard files; reads are ranged, never whole-file.
func NewLocator(m *meta.GraphMeta, store blobstore.BlobStore) (*Locator, error) {
	if m.Shard == nil {
		return nil, ErrNoShardLayout
	}
	return &Locator{
		cfg:     *m.Shard,
		dir:     m.Sources.ShardedMeshDir,
		store:   store,
		indexes: cache.NewLRU(DefaultIndexCacheBytes),
	}, nil
}

// Locate computes the shard addressing of a segment. It never fails for
// a well-formed ID and performs no storage access.
func (l *Locator) Locate(id core.SegmentID) Location {
	hashed := uint64(id) >> l.cfg.PreshiftBits // identity hash
	minishard := hashed & ((1 << l.cfg.MinishardBits) - 1)
	shard := (hashed >> l.cfg.MinishardBits) & ((1 << l.cfg.ShardBits) - 1)
	return Location{
		ShardFile: fmt.Sprintf("%d-%d.shard", shard, l.cfg.Split),
		Shard:     shard,
		Minishard: minishard,
	}
}

// shardIndexSize is the fixed byte length of the shard index: one
// (start, end) uint64 pair per minishard.
func (l *Locator) shardIndexSize() uint64 {
	return (1 << l.cfg.MinishardBits) * 16
}

func (l *Locator) blobName(layer uint8, shardFile string) string {
	return path.Join(l.dir, "initial", strconv.Itoa(int(layer)), shardFile)
}

// Confirm looks a segment up in the shard's minishard index and returns
// the absolute byte offset and length of its fragment. ok is false when
// the shard file, the minishard or the segment itself has no data;
// storage errors propagate.
func (l *Locator) Confirm(ctx context.Context, layer uint8, loc Location, id core.SegmentID) (offset, size uint64, ok bool, err error) {
	name := l.blobName(layer, loc.ShardFile)

	index, err := l.shardIndex(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}

	pos := loc.Minishard * 16
	beg := binary.LittleEndian.Uint64(index[pos:]) + l.shardIndexSize()
	end := binary.LittleEndian.Uint64(index[pos+8:]) + l.shardIndexSize()
	if end <= beg {
		return 0, 0, false, nil
	}

	blob, err := l.store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	defer blob.Close()

	data := make([]byte, end-beg)
	if _, err := blob.ReadAt(ctx, data, int64(beg)); err != nil {
		return 0, 0, false, fmt.Errorf("shard: read minishard index of %s: %w", name, err)
	}

	return l.findEntry(name, data, uint64(id))
}

// shardIndex returns the cached fixed-size index of a shard file,
// loading it on first use. Shard files are immutable once written, so
// the cache never invalidates.
func (l *Locator) shardIndex(ctx context.Context, name string) ([]byte, error) {
	if index, found := l.indexes.Get(ctx, name); found {
		return index, nil
	}

	blob, err := l.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	index := make([]byte, l.shardIndexSize())
	if _, err := blob.ReadAt(ctx, index, 0); err != nil {
		return nil, fmt.Errorf("shard: read shard index of %s: %w", name, err)
	}

	l.indexes.Set(ctx, name, index)
	return index, nil
}

// findEntry scans a decoded minishard index for an ID. The index holds
// n 24-byte entries laid out column-wise: n delta-encoded IDs, then n
// delta-encoded offsets relative to the end of the preceding fragment,
// then n raw sizes.
func (l *Locator) findEntry(name string, data []byte, want uint64) (offset, size uint64, ok bool, err error) {
	if len(data)%24 != 0 {
		return 0, 0, false, fmt.Errorf("shard: minishard index of %s has %d bytes, not a multiple of 24", name, len(data))
	}
	n := uint64(len(data)) / 24

	var id, off uint64
	acc := l.shardIndexSize()
	for i := uint64(0); i < n; i++ {
		id += binary.LittleEndian.Uint64(data[i*8:])
		off += binary.LittleEndian.Uint64(data[(n+i)*8:])
		sz := binary.LittleEndian.Uint64(data[(2*n+i)*8:])
		if id == want {
			return off + acc, sz, true, nil
		}
		acc += sz
	}
	return 0, 0, false, nil
}
