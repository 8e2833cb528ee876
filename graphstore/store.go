package graphstore

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/chunkgraph/core"
)

// Store is the sparse key-value interface the graph lives behind.
//
// Writes are atomic per key. Within one build, writers touch disjoint
// chunks, so no cross-key transaction is needed.
type Store interface {
	// ReadNode returns the record for a segment, or ErrNodeNotFound.
	ReadNode(ctx context.Context, id core.SegmentID) (*Node, error)

	// WriteNodes writes a batch of records. Each record is written
	// atomically; the batch as a whole is not transactional.
	WriteNodes(ctx context.Context, nodes []*Node) error

	// SetParent updates a single node's parent pointer.
	SetParent(ctx context.Context, id, parent core.SegmentID) error

	// ScanChunk returns all nodes of a chunk in ascending ID order.
	ScanChunk(ctx context.Context, chunk core.ChunkID) ([]*Node, error)
}

// MemoryStore is an in-memory Store for tests and single-process builds.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[core.SegmentID][]byte
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[core.SegmentID][]byte)}
}

// ReadNode implements Store.
func (s *MemoryStore) ReadNode(_ context.Context, id core.SegmentID) (*Node, error) {
	s.mu.RLock()
	data, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNodeNotFound
	}
	return decodeNode(id, data)
}

// WriteNodes implements Store.
func (s *MemoryStore) WriteNodes(_ context.Context, nodes []*Node) error {
	encoded := make(map[core.SegmentID][]byte, len(nodes))
	for _, n := range nodes {
		data, err := encodeNode(n)
		if err != nil {
			return err
		}
		encoded[n.ID] = data
	}

	s.mu.Lock()
	for id, data := range encoded {
		s.nodes[id] = data
	}
	s.mu.Unlock()
	return nil
}

// SetParent implements Store.
func (s *MemoryStore) SetParent(ctx context.Context, id, parent core.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	n, err := decodeNode(id, data)
	if err != nil {
		return err
	}
	n.Parent = parent
	updated, err := encodeNode(n)
	if err != nil {
		return err
	}
	s.nodes[id] = updated
	return nil
}

// ScanChunk implements Store.
func (s *MemoryStore) ScanChunk(_ context.Context, chunk core.ChunkID) ([]*Node, error) {
	lo, hi := chunk.MinSegment(), chunk.MaxSegment()

	s.mu.RLock()
	ids := make([]core.SegmentID, 0, 16)
	for id := range s.nodes {
		if id >= lo && id <= hi {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		s.mu.RLock()
		data := s.nodes[id]
		s.mu.RUnlock()
		n, err := decodeNode(id, data)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Len returns the number of stored nodes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
