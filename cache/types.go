// Package cache provides byte-block caching for immutable storage
// regions, primarily the fixed-size shard file indexes read during
// manifest verification.
package cache

import "context"

// BlockCache is a byte-oriented cache for immutable blocks. Returned
// slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok is false if missing.
	Get(ctx context.Context, key string) (b []byte, ok bool)

	// Set caches a block. Implementations may copy or retain; the
	// caller must treat b as immutable afterwards.
	Set(ctx context.Context, key string, b []byte)
}
