package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/poiesic/imgmatch/core"
)

// lruCache fronts an EmbeddingCache with an in-process expirable LRU so repeated
// lookups within a run do not hit the store.
type lruCache struct {
	next  EmbeddingCache
	cache *expirable.LRU[core.Fingerprint, *core.CacheEntry]

	// gen advances around every write to next. A read that started under an
	// older generation may have seen replaced data and is not memoized.
	mu  sync.Mutex
	gen uint64
}

var _ EmbeddingCache = (*lruCache)(nil)

// NewLRUCache wraps next with an in-memory layer holding up to size entries for ttl.
// Writes go straight through to next and drop the memory copy.
// Returns next unchanged if size or ttl is not positive.
func NewLRUCache(next EmbeddingCache, size int, ttl time.Duration) EmbeddingCache {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruCache{
		next:  next,
		cache: expirable.NewLRU[core.Fingerprint, *core.CacheEntry](size, nil, ttl),
	}
}

func (l *lruCache) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	l.mu.Lock()
	if cached, ok := l.cache.Get(fp); ok {
		l.mu.Unlock()
		return cloneEntry(cached), nil
	}
	start := l.gen
	l.mu.Unlock()

	entry, err := l.next.Get(ctx, fp)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.gen == start {
		l.cache.Add(fp, cloneEntry(entry))
	}
	l.mu.Unlock()
	return entry, nil
}

// forget drops fp, or every entry when purge is set, and starts a new generation.
func (l *lruCache) forget(fp core.Fingerprint, purge bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if purge {
		l.cache.Purge()
	} else {
		l.cache.Remove(fp)
	}
}

func (l *lruCache) Set(ctx context.Context, fp core.Fingerprint, description string, embedding []float32) (uint64, error) {
	l.forget(fp, false)
	defer l.forget(fp, false)
	return l.next.Set(ctx, fp, description, embedding)
}

func (l *lruCache) EvictOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	l.forget("", true)
	defer l.forget("", true)
	return l.next.EvictOlderThan(ctx, maxAgeDays)
}

func (l *lruCache) Invalidate(ctx context.Context, fp core.Fingerprint) error {
	l.forget(fp, false)
	defer l.forget(fp, false)
	return l.next.Invalidate(ctx, fp)
}

func (l *lruCache) Count(ctx context.Context) (int, error) {
	return l.next.Count(ctx)
}

func (l *lruCache) ForEach(ctx context.Context, batchSize int, fn func([]*core.CacheEntry) error) error {
	return l.next.ForEach(ctx, batchSize, fn)
}

func (l *lruCache) Close() error {
	l.cache.Purge()
	return l.next.Close()
}

func cloneEntry(entry *core.CacheEntry) *core.CacheEntry {
	clone := *entry
	clone.Embedding = make([]float32, len(entry.Embedding))
	copy(clone.Embedding, entry.Embedding)
	return &clone
}
