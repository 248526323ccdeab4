package storage

import (
	"context"

	"github.com/poiesic/imgmatch/core"
)

// EmbeddingCache stores analysis results keyed by content fingerprint.
// Implementations must be thread-safe. Every method is its own transaction;
// no transaction spans more than one call.
type EmbeddingCache interface {
	// Get returns the entry stored for fp.
	// Returns ErrNotFound if no entry exists. Never touches the network.
	Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error)

	// Set stores description and embedding for fp, replacing any existing entry
	// (last write wins) and refreshing its CreatedAt timestamp.
	// Returns the record id assigned to the written entry.
	Set(ctx context.Context, fp core.Fingerprint, description string, embedding []float32) (uint64, error)

	// EvictOlderThan deletes entries whose CreatedAt predates now minus maxAgeDays
	// days and returns how many were removed. Concurrent Get and Set calls are not
	// blocked for the duration of the eviction.
	EvictOlderThan(ctx context.Context, maxAgeDays int) (int, error)

	// Invalidate removes the entry for fp. Missing entries are not an error.
	Invalidate(ctx context.Context, fp core.Fingerprint) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// ForEach calls fn with successive batches of at most batchSize entries in
	// fingerprint order and stops at the first error fn returns. fn may write
	// to the cache; entries it rewrites are not visited again.
	ForEach(ctx context.Context, batchSize int, fn func([]*core.CacheEntry) error) error

	// Close releases the underlying storage handle.
	Close() error
}
