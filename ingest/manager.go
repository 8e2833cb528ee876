package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/ecstore"
	"github.com/hupe1980/chunkgraph/edges"
	"github.com/hupe1980/chunkgraph/graphstore"
	"github.com/hupe1980/chunkgraph/meta"
	"github.com/hupe1980/chunkgraph/volume"
)

// BuildAbortedError reports the chunk whose processing failed and
// aborted the layer, so the operator can retry a targeted rebuild.
type BuildAbortedError struct {
	Layer uint8
	Coord core.Coord
	Err   error
}

func (e *BuildAbortedError) Error() string {
	return fmt.Sprintf("ingest: build aborted at layer %d chunk (%d, %d, %d): %v",
		e.Layer, e.Coord.X, e.Coord.Y, e.Coord.Z, e.Err)
}

func (e *BuildAbortedError) Unwrap() error { return e.Err }

// Logger is a simple interface for logging.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a default logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Infof(format string, args ...interface{})  {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// Option configures the manager.
type Option func(*Manager)

// WithLogger sets the logger for the build.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxWorkers bounds the number of chunks processed concurrently
// within a layer. Defaults to GOMAXPROCS.
func WithMaxWorkers(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxWorkers = n
		}
	}
}

// WithReadLimit throttles raw-data reads to n chunk reads per second.
// Zero means unlimited.
func WithReadLimit(n rate.Limit) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limiter = rate.NewLimiter(n, 1)
		}
	}
}

// WithMaxRetries caps the retries of a chunk whose raw data is
// temporarily unavailable. Defaults to 3.
func WithMaxRetries(n uint64) Option {
	return func(m *Manager) {
		m.maxRetries = n
	}
}

// WithEpoch overrides the derived build epoch token with an external
// fingerprint of the raw data, e.g. from the pipeline that produced it.
func WithEpoch(epoch string) Option {
	return func(m *Manager) {
		if epoch != "" {
			m.epoch = epoch
		}
	}
}

// BuildResult summarizes one completed graph build.
type BuildResult struct {
	// Epoch is the data-version token the build ran under; cache
	// entries are keyed by it.
	Epoch string

	// NodesPerLayer counts the segments created at each layer.
	NodesPerLayer []uint64

	// CacheHits and CacheMisses count layer-0 chunk results served from
	// the edge/component cache vs. recomputed.
	CacheHits   uint64
	CacheMisses uint64

	// IDCeiling is the initial/dynamic counter cutoff in effect.
	IDCeiling uint64
}

// Manager drives a full graph build: layer 0 in parallel, then each
// higher layer after the previous one is completely written.
type Manager struct {
	meta  *meta.GraphMeta
	proc  *Processor
	cache *ecstore.Store
	graph graphstore.Store

	logger     Logger
	maxWorkers int64
	limiter    *rate.Limiter
	maxRetries uint64
	epoch      string
}

// NewManager creates a build manager. The cache may be shared across
// concurrent builds; entries are keyed by the build epoch.
func NewManager(m *meta.GraphMeta, source volume.Source, cache *ecstore.Store, graph graphstore.Store, optFns ...Option) *Manager {
	mgr := &Manager{
		meta:       m,
		proc:       NewProcessor(m, source),
		cache:      cache,
		graph:      graph,
		logger:     &noopLogger{},
		maxWorkers: int64(runtime.GOMAXPROCS(0)),
		maxRetries: 3,
		epoch:      dataVersion(m),
	}

	for _, fn := range optFns {
		fn(mgr)
	}

	return mgr
}

// dataVersion derives the default epoch token from the raw data
// locations. Two builds over the same sources share cache entries; a
// re-pointed source gets a fresh key space.
func dataVersion(m *meta.GraphMeta) string {
	sum := sha256.Sum256([]byte(m.GraphID + "|" + m.Sources.Watershed + "|" + m.Sources.Agglomeration))
	return hex.EncodeToString(sum[:6])
}

// Build constructs the whole graph. A chunk failure aborts the current
// layer and surfaces as BuildAbortedError; already-committed chunks stay
// intact and a rerun reuses their cached results.
func (m *Manager) Build(ctx context.Context) (*BuildResult, error) {
	result := &BuildResult{
		Epoch:         m.epoch,
		NodesPerLayer: make([]uint64, m.meta.LayerCount),
		IDCeiling:     m.meta.IDCeiling(),
	}

	var mu sync.Mutex

	for layer := uint8(0); layer < m.meta.LayerCount; layer++ {
		coords := m.meta.Chunks(layer)
		m.logger.Infof("ingest: layer %d, %d chunks", layer, len(coords))

		sem := semaphore.NewWeighted(m.maxWorkers)
		g, gctx := errgroup.WithContext(ctx)

		for _, coord := range coords {
			coord := coord
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				var (
					created        uint64
					hit, processed bool
					err            error
				)
				if layer == 0 {
					created, hit, processed, err = m.buildAtomicChunk(gctx, coord)
				} else {
					created, err = m.buildParentChunk(gctx, layer, coord)
				}
				if err != nil {
					m.logger.Errorf("ingest: chunk (%d, %d, %d) layer %d failed: %v", coord.X, coord.Y, coord.Z, layer, err)
					return &BuildAbortedError{Layer: layer, Coord: coord, Err: err}
				}

				mu.Lock()
				result.NodesPerLayer[layer] += created
				if hit {
					result.CacheHits++
				}
				if processed {
					result.CacheMisses++
				}
				mu.Unlock()
				return nil
			})
		}

		// Strict layer barrier: the next layer reads this one's nodes.
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	m.logger.Infof("ingest: build done, epoch %s, nodes per layer %v", result.Epoch, result.NodesPerLayer)
	return result, nil
}

// buildAtomicChunk materializes the layer-0 segments of one chunk from
// its connected components.
func (m *Manager) buildAtomicChunk(ctx context.Context, coord core.Coord) (created uint64, hit, processed bool, err error) {
	data, ok, err := m.cache.Get(ctx, coord, m.epoch)
	if err != nil {
		return 0, false, false, err
	}
	if ok {
		hit = true
	} else {
		data, err = m.processWithRetry(ctx, coord)
		if err != nil {
			return 0, false, false, err
		}
		if err := m.cache.Put(ctx, coord, m.epoch, data); err != nil {
			return 0, false, false, err
		}
		processed = true
	}

	crossByLabel := make(map[uint64][]edges.Edge)
	for _, e := range data.Cross {
		crossByLabel[e.U] = append(crossByLabel[e.U], e)
	}

	chunkID := core.NewChunkID(0, coord)
	nodes := make([]*graphstore.Node, 0, len(data.Components))
	for i, comp := range data.Components {
		children := comp.ToArray()

		var ce []edges.Edge
		for _, label := range children {
			ce = append(ce, crossByLabel[label]...)
		}

		nodes = append(nodes, &graphstore.Node{
			ID:         core.NewSegmentID(chunkID, uint64(i)+1),
			Children:   children,
			CrossEdges: ce,
		})
	}

	if err := m.graph.WriteNodes(ctx, nodes); err != nil {
		return 0, false, false, err
	}
	return uint64(len(nodes)), hit, processed, nil
}

// buildParentChunk merges the child chunks' segments one layer up. A
// boundary edge joins two components when its partner is found inside
// the parent footprint; edges still leaving the footprint propagate to
// the parent node.
func (m *Manager) buildParentChunk(ctx context.Context, layer uint8, coord core.Coord) (uint64, error) {
	var children []*graphstore.Node
	for _, cc := range m.meta.ChildrenCoords(layer, coord) {
		ns, err := m.graph.ScanChunk(ctx, core.NewChunkID(layer-1, cc))
		if err != nil {
			return 0, err
		}
		children = append(children, ns...)
	}
	if len(children) == 0 {
		return 0, nil
	}

	// Every cross edge's U endpoint is a raw label inside its node, so
	// the union of the children's U endpoints maps boundary labels to
	// their owning segment within this footprint.
	owner := make(map[uint64]core.SegmentID)
	byID := make(map[core.SegmentID]*graphstore.Node, len(children))
	ids := make([]uint64, 0, len(children))
	for _, ch := range children {
		byID[ch.ID] = ch
		ids = append(ids, uint64(ch.ID))
		for _, e := range ch.CrossEdges {
			owner[e.U] = ch.ID
		}
	}

	uf := edges.NewUnionFind(ids)
	for _, ch := range children {
		for _, e := range ch.CrossEdges {
			if e.Affinity < m.meta.AffinityThreshold {
				continue
			}
			if partner, ok := owner[e.V]; ok {
				uf.Union(uint64(ch.ID), uint64(partner))
			}
		}
	}

	chunkID := core.NewChunkID(layer, coord)
	components := uf.Components()
	parents := make([]*graphstore.Node, 0, len(components))

	for i, comp := range components {
		pid := core.NewSegmentID(chunkID, uint64(i)+1)
		members := comp.ToArray()

		// Keep only the edges that still cross the parent footprint.
		var ce []edges.Edge
		for _, member := range members {
			for _, e := range byID[core.SegmentID(member)].CrossEdges {
				if _, ok := owner[e.V]; !ok {
					ce = append(ce, e)
				}
			}
		}
		ce = dedupDirected(ce)

		parents = append(parents, &graphstore.Node{
			ID:         pid,
			Children:   members,
			CrossEdges: ce,
		})
	}

	if err := m.graph.WriteNodes(ctx, parents); err != nil {
		return 0, err
	}
	for _, p := range parents {
		for _, member := range p.Children {
			if err := m.graph.SetParent(ctx, core.SegmentID(member), p.ID); err != nil {
				return 0, err
			}
		}
	}
	return uint64(len(parents)), nil
}

// processWithRetry runs the chunk processor under the read-rate limit,
// retrying unavailable raw data with exponential backoff. Format errors
// are fatal and never retried.
func (m *Manager) processWithRetry(ctx context.Context, coord core.Coord) (*ecstore.ChunkData, error) {
	op := func() (*ecstore.ChunkData, error) {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		data, err := m.proc.Process(ctx, coord)
		if err != nil {
			var unavailable *volume.DataUnavailableError
			if errors.As(err, &unavailable) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return data, nil
	}

	return backoff.RetryWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.maxRetries), ctx))
}
