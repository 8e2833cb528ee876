// Package graphstore persists the chunked graph: one record per segment,
// holding its parent, its children and the cross-chunk edges attached to
// it. The backing store is a sparse key-value store keyed by segment ID;
// the ID bit layout makes a chunk's segments one contiguous key range.
package graphstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/chunkgraph/core"
	"github.com/hupe1980/chunkgraph/edges"
)

// ErrNodeNotFound is returned when a segment ID does not resolve.
var ErrNodeNotFound = errors.New("graphstore: node not found")

// Node is one persisted graph record.
type Node struct {
	ID core.SegmentID

	// Parent is the higher-layer segment subsuming this one, 0 for
	// roots.
	Parent core.SegmentID

	// Children are the identities this segment subsumes: raw watershed
	// labels for layer-0 segments, segment IDs above. Kept sorted.
	Children []uint64

	// CrossEdges are the edges leaving this segment's chunk, in raw
	// watershed label pairs; U is the endpoint inside the segment.
	CrossEdges []edges.Edge
}

const nodeMagic = "CGN1"

// encodeNode frames a node record and compresses it. The raw byte form
// is deterministic for identical nodes.
func encodeNode(n *Node) ([]byte, error) {
	raw := make([]byte, 0, 24+len(n.Children)*8+len(n.CrossEdges)*20)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n.Parent))
	raw = append(raw, buf[:]...)

	binary.LittleEndian.PutUint32(buf[:4], uint32(len(n.Children)))
	raw = append(raw, buf[:4]...)
	for _, c := range n.Children {
		binary.LittleEndian.PutUint64(buf[:], c)
		raw = append(raw, buf[:]...)
	}

	binary.LittleEndian.PutUint32(buf[:4], uint32(len(n.CrossEdges)))
	raw = append(raw, buf[:4]...)
	for _, e := range n.CrossEdges {
		binary.LittleEndian.PutUint64(buf[:], e.U)
		raw = append(raw, buf[:]...)
		binary.LittleEndian.PutUint64(buf[:], e.V)
		raw = append(raw, buf[:]...)
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(e.Affinity))
		raw = append(raw, buf[:4]...)
	}

	var out bytes.Buffer
	out.WriteString(nodeMagic)
	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decodeNode(id core.SegmentID, data []byte) (*Node, error) {
	if len(data) < 4 || string(data[:4]) != nodeMagic {
		return nil, fmt.Errorf("graphstore: bad node record for %s", id)
	}
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data[4:])))
	if err != nil {
		return nil, fmt.Errorf("graphstore: decompress node %s: %w", id, err)
	}
	if len(raw) < 16 {
		return nil, fmt.Errorf("graphstore: truncated node record for %s", id)
	}

	n := &Node{ID: id, Parent: core.SegmentID(binary.LittleEndian.Uint64(raw))}
	off := 8

	nc := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if len(raw) < off+nc*8+4 {
		return nil, fmt.Errorf("graphstore: truncated node record for %s", id)
	}
	if nc > 0 {
		n.Children = make([]uint64, nc)
		for i := range n.Children {
			n.Children[i] = binary.LittleEndian.Uint64(raw[off:])
			off += 8
		}
	}

	ne := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if len(raw) != off+ne*20 {
		return nil, fmt.Errorf("graphstore: truncated node record for %s", id)
	}
	if ne > 0 {
		n.CrossEdges = make([]edges.Edge, ne)
		for i := range n.CrossEdges {
			n.CrossEdges[i] = edges.Edge{
				U:        binary.LittleEndian.Uint64(raw[off:]),
				V:        binary.LittleEndian.Uint64(raw[off+8:]),
				Affinity: math.Float32frombits(binary.LittleEndian.Uint32(raw[off+16:])),
			}
			off += 20
		}
	}
	return n, nil
}
