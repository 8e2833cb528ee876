package chunkgraph

import (
	"errors"
	"fmt"

	"github.com/hupe1980/chunkgraph/graphstore"
	"github.com/hupe1980/chunkgraph/manifest"
	"github.com/hupe1980/chunkgraph/shard"
	"github.com/hupe1980/chunkgraph/volume"
)

var (
	// ErrNotFound is returned when a segment does not resolve in the
	// graph.
	ErrNotFound = errors.New("segment not found")

	// ErrUnsupportedFormat is returned when sharded addressing is
	// requested for a dataset without a shard layout.
	ErrUnsupportedFormat = errors.New("unsupported manifest format")

	// ErrDataUnavailable is returned when the raw data source cannot
	// supply a requested extent. Retryable.
	ErrDataUnavailable = errors.New("raw data unavailable")

	// ErrInvalidMerge is returned when a merge request does not name two
	// distinct layer-0 segments.
	ErrInvalidMerge = errors.New("merge endpoints must be two distinct layer-0 segments")

	// ErrInvalidSplit is returned when a split request does not name two
	// distinct layer-0 segments of the same agglomeration.
	ErrInvalidSplit = errors.New("split endpoints must be two connected layer-0 segments")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, graphstore.ErrNodeNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var unknown *manifest.UnknownSegmentError
	if errors.As(err, &unknown) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Configuration/request mismatches.
	if errors.Is(err, manifest.ErrUnsupportedFormat) || errors.Is(err, shard.ErrNoShardLayout) {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	// Retryable source failures.
	var unavailable *volume.DataUnavailableError
	if errors.As(err, &unavailable) {
		return fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}

	return err
}
