package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/storage"
)

// evictBatchSize is the number of index keys removed per eviction transaction.
const evictBatchSize = 256

// Cache implements storage.EmbeddingCache for BadgerDB.
//
// Entries live under their fingerprint key; a secondary index ordered by
// creation time makes eviction a range scan instead of a full table scan.
type Cache struct {
	backend *Backend
	seq     *badger.Sequence
	now     func() time.Time
	logger  *slog.Logger
}

var _ storage.EmbeddingCache = (*Cache)(nil)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source used for CreatedAt and eviction cutoffs.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache creates an embedding cache on top of backend.
// The backend stays owned by the caller; Close on the cache does not close it.
func NewCache(backend *Backend, opts ...CacheOption) (storage.EmbeddingCache, error) {
	return newCache(backend, opts...)
}

func newCache(backend *Backend, opts ...CacheOption) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("badger backend required")
	}
	seq, err := backend.GetSequence(entryIDSeq)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		backend: backend,
		seq:     seq,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "badger-cache")
	return c, nil
}

// Close releases the id sequence.
func (c *Cache) Close() error {
	return c.seq.Release()
}

// Get retrieves the entry for fp.
func (c *Cache) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	var result *core.CacheEntry
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readEntry(tx, makeEntryKey(fp))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	if err != nil {
		return nil, storage.CacheFailure(err)
	}
	return result, nil
}

// Set upserts the entry for fp.
func (c *Cache) Set(ctx context.Context, fp core.Fingerprint, description string, embedding []float32) (uint64, error) {
	entry := &core.CacheEntry{
		Fingerprint: fp,
		Description: description,
		Embedding:   embedding,
	}
	if err := core.ValidateCacheEntry(entry); err != nil {
		return 0, err
	}

	id, err := c.seq.Next()
	if err != nil {
		return 0, storage.CacheFailure(fmt.Errorf("allocating record id: %w", err))
	}
	// Sequences start at zero; keep zero meaning "unassigned".
	entry.RecordID = id + 1
	entry.CreatedAt = c.now().UTC().Truncate(time.Microsecond)

	key := makeEntryKey(fp)
	value := storage.MarshalCacheEntry(entry)
	err = c.backend.Update(func(tx *badger.Txn) error {
		old, err := readEntry(tx, key)
		if err != nil {
			return err
		}
		if old != nil {
			if err := tx.Delete(makeEntryTimeKey(old.CreatedAt, fp)); err != nil {
				return err
			}
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Set(makeEntryTimeKey(entry.CreatedAt, fp), nil)
	})
	if err != nil {
		return 0, storage.CacheFailure(err)
	}
	return entry.RecordID, nil
}

// EvictOlderThan removes entries created more than maxAgeDays days ago.
//
// The time index is consumed in batches of evictBatchSize, each in its own
// transaction, so readers and writers interleave with a long eviction. An
// entry rewritten after its index key was read is left in place.
func (c *Cache) EvictOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("%w: maxAgeDays must not be negative", storage.ErrInvalidQuery)
	}
	cutoff := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	end := makePartialEntryTimeKey(cutoff)

	removed := 0
	for {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}

		batch, err := c.staleIndexKeys(end)
		if err != nil {
			return removed, storage.CacheFailure(err)
		}
		if len(batch) == 0 {
			break
		}

		n, err := c.evictBatch(batch)
		removed += n
		if err != nil {
			return removed, storage.CacheFailure(err)
		}
	}

	c.logger.Debug("evicted stale entries", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// staleIndexKeys collects up to evictBatchSize time index keys sorting before end.
func (c *Cache) staleIndexKeys(end []byte) ([][]byte, error) {
	var keys [][]byte
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(entryTimePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid() && len(keys) < evictBatchSize; iter.Next() {
			key := iter.Item().KeyCopy(nil)
			if bytes.Compare(key, end) >= 0 {
				break
			}
			keys = append(keys, key)
		}
		return nil
	}, false)
	return keys, err
}

func (c *Cache) evictBatch(indexKeys [][]byte) (int, error) {
	removed := 0
	err := c.backend.Update(func(tx *badger.Txn) error {
		removed = 0
		for _, indexKey := range indexKeys {
			micros, fp, ok := parseEntryTimeKey(indexKey)
			if !ok {
				if err := tx.Delete(indexKey); err != nil {
					return err
				}
				continue
			}

			key := makeEntryKey(fp)
			entry, err := readEntry(tx, key)
			if err != nil {
				return err
			}
			if entry != nil && entry.CreatedAt.UnixMicro() == micros {
				if err := tx.Delete(key); err != nil {
					return err
				}
				removed++
			}
			if err := tx.Delete(indexKey); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

// Invalidate removes the entry for fp if present.
func (c *Cache) Invalidate(ctx context.Context, fp core.Fingerprint) error {
	key := makeEntryKey(fp)
	err := c.backend.Update(func(tx *badger.Txn) error {
		entry, err := readEntry(tx, key)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if err := tx.Delete(makeEntryTimeKey(entry.CreatedAt, fp)); err != nil {
			return err
		}
		return tx.Delete(key)
	})
	return storage.CacheFailure(err)
}

// Count returns the number of stored entries.
func (c *Cache) Count(ctx context.Context) (int, error) {
	count := 0
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(entryPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	if err != nil {
		return 0, storage.CacheFailure(err)
	}
	return count, nil
}

// ForEach walks the entries in fingerprint order, one read transaction per
// batch, so fn runs outside any transaction.
func (c *Cache) ForEach(ctx context.Context, batchSize int, fn func([]*core.CacheEntry) error) error {
	if batchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	prefix := []byte(entryPrefix)
	seek := prefix
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []*core.CacheEntry
		var next []byte
		err := c.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			iter := tx.NewIterator(opts)
			defer iter.Close()

			for iter.Seek(seek); iter.Valid(); iter.Next() {
				item := iter.Item()
				if len(batch) == batchSize {
					next = item.KeyCopy(nil)
					return nil
				}
				err := item.Value(func(val []byte) error {
					entry, err := storage.UnmarshalCacheEntry(val)
					if err != nil {
						return err
					}
					batch = append(batch, entry)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		}, false)
		if err != nil {
			return storage.CacheFailure(err)
		}

		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if next == nil {
			return nil
		}
		seek = next
	}
}

// readEntry reads a cache entry from the transaction.
// Returns nil, nil if the key does not exist.
func readEntry(tx *badger.Txn, key []byte) (*core.CacheEntry, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var entry *core.CacheEntry
	err = item.Value(func(val []byte) error {
		var err error
		entry, err = storage.UnmarshalCacheEntry(val)
		return err
	})
	return entry, err
}
