package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/imgmatch/ai"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/embedding"
	"github.com/poiesic/imgmatch/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of entries embedded per service call
	BatchSize int

	// ReportInterval is how often to report progress (number of entries)
	ReportInterval int

	// MaxAttempts is the number of attempts per embedding call
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      64,
		ReportInterval: 64,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
	}
}

// Result summarizes a reembedding run.
type Result struct {
	Processed int
	Elapsed   time.Duration
}

// Reembedder rewrites every cached embedding using the configured embedder.
type Reembedder struct {
	cache     storage.EmbeddingCache
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder. progress receives the progress line
// and may be nil.
func NewReembedder(cache storage.EmbeddingCache, embedder ai.Embedder, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if cache == nil {
		return nil, ErrCacheRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be greater than 0", storage.ErrInvalidQuery)
	}
	if config.MaxAttempts <= 0 {
		return nil, embedding.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reembedder")

	return &Reembedder{
		cache:     cache,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(cache, embedder, embedding.RetryPolicy{
			MaxAttempts: config.MaxAttempts,
			BaseDelay:   config.RetryDelay,
		}, logger),
		logger:    logger,
	}, nil
}

// Run re-embeds every cache entry. The first failing batch aborts the run;
// entries already rewritten keep their new vectors.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	total, err := r.cache.Count(ctx)
	if err != nil {
		return nil, storage.CacheFailure(fmt.Errorf("counting entries: %w", err))
	}
	result := &Result{}
	if total == 0 {
		r.logger.Info("cache is empty, nothing to reembed")
		return result, nil
	}

	r.logger.Info("starting reembedding", "entries", total, "batchSize", r.config.BatchSize)
	tracker := embedding.NewProgressTracker(r.progress, "Reembedding", total, r.config.ReportInterval)
	tracker.Start()

	err = r.cache.ForEach(ctx, r.config.BatchSize, func(entries []*core.CacheEntry) error {
		if err := r.processor.Process(ctx, entries); err != nil {
			return err
		}
		result.Processed += len(entries)
		tracker.Record(core.SourceComputed, len(entries))
		return nil
	})
	result.Elapsed = tracker.Elapsed()
	if err != nil {
		r.logger.Error("reembedding aborted", "processed", result.Processed, "err", err)
		return result, err
	}

	tracker.Finish()
	r.logger.Info("reembedding complete",
		"processed", result.Processed,
		"elapsed", result.Elapsed.Round(time.Millisecond))
	return result, nil
}
