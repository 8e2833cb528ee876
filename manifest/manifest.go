// Package manifest produces the ordered fragment-locator lists a mesh
// client needs to render one segment. A manifest is transient and
// request-scoped; locators are recomputed from the graph and the shard
// layout on every request.
package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/graphstore"
	"github.com/hupe1980/chunkgraph/meta"
	"github.com/hupe1980/chunkgraph/shard"
)

// Format selects the fragment addressing scheme.
type Format int

const (
	// FormatLegacy addresses one mesh file per segment.
	FormatLegacy Format = iota
	// FormatSharded addresses fragments inside shard files.
	FormatSharded
)

// ErrUnsupportedFormat is returned when sharded addressing is requested
// for a dataset without a shard layout.
var ErrUnsupportedFormat = errors.New("manifest: dataset has no shard layout configured")

// UnknownSegmentError is returned when the requested segment does not
// resolve in the graph.
type UnknownSegmentError struct {
	ID core.SegmentID
}

func (e *UnknownSegmentError) Error() string {
	return fmt.Sprintf("manifest: unknown segment %s", e.ID)
}

// Options control one manifest request.
type Options struct {
	Format Format

	// Verify looks every sharded fragment up in its shard index and
	// silently omits segments with no stored geometry.
	Verify bool

	// PrependSegID prefixes every locator with the requested segment's
	// ID so clients can index a local fragment cache by segment.
	PrependSegID bool
}

// Generator computes manifests. It only reads; concurrent requests and
// concurrent graph edits are safe.
type Generator struct {
	meta    *meta.GraphMeta
	graph   graphstore.Store
	locator *shard.Locator
}

// NewGenerator creates a manifest generator. locator may be nil when the
// dataset has no shard layout; sharded requests then fail with
// ErrUnsupportedFormat.
func NewGenerator(m *meta.GraphMeta, graph graphstore.Store, locator *shard.Locator) *Generator {
	return &Generator{meta: m, graph: graph, locator: locator}
}

// Manifest returns the fragment locators of a segment, ordered
// deterministically for identical inputs.
//
// Segments created by post-build edits have no sharded geometry yet, so
// they always get a legacy locator regardless of the requested format.
func (g *Generator) Manifest(ctx context.Context, id core.SegmentID, opts Options) ([]string, error) {
	node, err := g.graph.ReadNode(ctx, id)
	if errors.Is(err, graphstore.ErrNodeNotFound) {
		return nil, &UnknownSegmentError{ID: id}
	}
	if err != nil {
		return nil, err
	}

	var locators []string
	switch {
	case id.Counter() >= g.meta.IDCeiling():
		locators = []string{g.legacyLocator(id)}
	case opts.Format == FormatLegacy:
		locators, err = g.legacy(ctx, node)
	case opts.Format == FormatSharded:
		if g.locator == nil {
			return nil, ErrUnsupportedFormat
		}
		if opts.Verify {
			locators, err = g.shardedVerified(ctx, id)
		} else {
			locators, err = g.shardedRaw(ctx, id)
		}
	default:
		return nil, fmt.Errorf("manifest: unknown format %d", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	if opts.PrependSegID {
		for i, l := range locators {
			locators[i] = fmt.Sprintf("~%d:%s", uint64(id), l)
		}
	}
	return locators, nil
}

// legacyLocator renders a segment's single-file mesh address from its
// chunk's voxel extent.
func (g *Generator) legacyLocator(id core.SegmentID) string {
	layer := id.Layer()
	ext := g.meta.ChunkExtent(layer, id.ChunkCoord())
	return fmt.Sprintf("%d:%d:%d-%d_%d-%d_%d-%d",
		uint64(id), layer,
		ext.Min.X, ext.Max.X, ext.Min.Y, ext.Max.Y, ext.Min.Z, ext.Max.Z)
}

// legacy emits one locator per layer-0 leaf of the segment, in child
// order.
func (g *Generator) legacy(ctx context.Context, node *graphstore.Node) ([]string, error) {
	if node.ID.Layer() == 0 {
		return []string{g.legacyLocator(node.ID)}, nil
	}

	var out []string
	for _, child := range node.Children {
		cn, err := g.graph.ReadNode(ctx, core.SegmentID(child))
		if err != nil {
			return nil, err
		}
		ls, err := g.legacy(ctx, cn)
		if err != nil {
			return nil, err
		}
		out = append(out, ls...)
	}
	return out, nil
}

// shardedVerified resolves a segment against the shard indexes. A
// segment whose own layer has no stored geometry descends to its
// children; a leaf without geometry is omitted, not an error.
func (g *Generator) shardedVerified(ctx context.Context, id core.SegmentID) ([]string, error) {
	layer := id.Layer()

	if layer <= g.meta.Shard.MaxMeshLayer {
		loc := g.locator.Locate(id)
		offset, size, ok, err := g.locator.Confirm(ctx, layer, loc, id)
		if err != nil {
			return nil, err
		}
		if ok {
			return []string{fmt.Sprintf("~%d/%s:%d:%d", layer, loc.ShardFile, offset, size)}, nil
		}
	}
	if layer == 0 {
		return nil, nil
	}

	node, err := g.graph.ReadNode(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, child := range node.Children {
		ls, err := g.shardedVerified(ctx, core.SegmentID(child))
		if err != nil {
			return nil, err
		}
		out = append(out, ls...)
	}
	return out, nil
}

// shardedRaw emits addressing locators at the highest mesh layer with
// no existence check. The segment ID is embedded because, without
// verification, the derived file name alone is not unique per segment.
func (g *Generator) shardedRaw(ctx context.Context, id core.SegmentID) ([]string, error) {
	layer := id.Layer()

	if layer <= g.meta.Shard.MaxMeshLayer {
		loc := g.locator.Locate(id)
		return []string{fmt.Sprintf("~%d:%d:%d:%s:%d",
			uint64(id), layer, uint64(id.ChunkID()), loc.ShardFile, loc.Minishard)}, nil
	}

	node, err := g.graph.ReadNode(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, child := range node.Children {
		ls, err := g.shardedRaw(ctx, core.SegmentID(child))
		if err != nil {
			return nil, err
		}
		out = append(out, ls...)
	}
	return out, nil
}
