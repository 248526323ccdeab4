package reembed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/imgmatch/ai"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/embedding"
	"github.com/poiesic/imgmatch/storage"
)

// BatchProcessor re-embeds batches of cache entries.
type BatchProcessor struct {
	cache    storage.EmbeddingCache
	embedder ai.Embedder
	retry    embedding.RetryPolicy
	logger   *slog.Logger
}

// NewBatchProcessor creates a new batch processor. Each embedding call is
// repeated according to retry.
func NewBatchProcessor(cache storage.EmbeddingCache, embedder ai.Embedder, retry embedding.RetryPolicy, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		cache:    cache,
		embedder: embedder,
		retry:    retry,
		logger:   logger,
	}
}

// Process embeds the descriptions of entries in one call and writes the new
// vectors back.
func (bp *BatchProcessor) Process(ctx context.Context, entries []*core.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Description
	}

	var vectors [][]float32
	err := bp.retry.Do(ctx, bp.logger, "embed descriptions", func() error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: embedding %d descriptions: %w", core.ErrAnalysis, len(texts), err)
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(entries), len(vectors))
	}

	for i, entry := range entries {
		if err := core.ValidateEmbedding(vectors[i]); err != nil {
			return fmt.Errorf("%w: %s: %w", core.ErrAnalysis, entry.Fingerprint.Short(), err)
		}
		if _, err := bp.cache.Set(ctx, entry.Fingerprint, entry.Description, vectors[i]); err != nil {
			return storage.CacheFailure(fmt.Errorf("updating %s: %w", entry.Fingerprint.Short(), err))
		}
	}
	bp.logger.Debug("reembedded batch", "entries", len(entries))
	return nil
}
