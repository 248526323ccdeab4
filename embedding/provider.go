package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/imgmatch/ai"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/limiter"
	"github.com/poiesic/imgmatch/storage"
	"golang.org/x/sync/singleflight"
)

// Provider resolves image files to embeddings through the cache and, on a
// miss, the external analysis services.
type Provider struct {
	cache     storage.EmbeddingCache
	describer ai.Describer
	embedder  ai.Embedder
	limiter   *limiter.Limiter
	inflight  singleflight.Group

	retry            RetryPolicy
	batchConcurrency int
	progress         io.Writer
	progressInterval int
	logger           *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider) error

// WithMaxAttempts sets how many times each service call is tried.
// Default is 3.
func WithMaxAttempts(n int) Option {
	return func(p *Provider) error {
		if n < 1 {
			return ErrInvalidMaxAttempts
		}
		p.retry.MaxAttempts = n
		return nil
	}
}

// WithRetryDelay sets the base backoff between attempts.
// Default is 500ms.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Provider) error {
		if d < 0 {
			d = 0
		}
		p.retry.BaseDelay = d
		return nil
	}
}

// WithBatchConcurrency bounds how many files EmbedAll hashes and looks up
// at once. Analysis calls are bounded separately by the limiter.
// Default is 16.
func WithBatchConcurrency(n int) Option {
	return func(p *Provider) error {
		if n < 1 {
			n = 1
		}
		p.batchConcurrency = n
		return nil
	}
}

// WithProgress reports EmbedAll progress to w every interval files.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Provider) error {
		p.progress = w
		p.progressInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewProvider creates an embedding provider.
// The cache, AI provider and limiter stay owned by the caller.
func NewProvider(cache storage.EmbeddingCache, services ai.AIProvider, lim *limiter.Limiter, opts ...Option) (*Provider, error) {
	if cache == nil {
		return nil, ErrCacheRequired
	}
	if services == nil {
		return nil, ErrAIProviderRequired
	}
	if lim == nil {
		return nil, ErrLimiterRequired
	}

	p := &Provider{
		cache:            cache,
		describer:        services.Describer(),
		embedder:         services.Embedder(),
		limiter:          lim,
		retry:            RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		batchConcurrency: 16,
		progressInterval: 10,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "embedding-provider")
	return p, nil
}

// GetEmbedding returns the cache entry for the content of the file at path.
// The source tells whether it was served from the cache, computed, or taken
// from a concurrent analysis of identical content.
//
// Hash failures and unreadable files wrap core.ErrIO. Service failures are
// returned as *AnalysisError. A failing cache read is treated as a miss and a
// failing cache write is logged; neither fails the call.
func (p *Provider) GetEmbedding(ctx context.Context, path string) (*core.CacheEntry, core.Source, error) {
	fp, err := core.HashFile(path)
	if err != nil {
		return nil, 0, err
	}

	entry, err := p.cache.Get(ctx, fp)
	switch {
	case err == nil:
		p.logger.Debug("cache hit", "path", path, "fingerprint", fp.Short())
		return entry, core.SourceCache, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		p.logger.Warn("cache lookup failed, treating as miss", "path", path, "fingerprint", fp.Short(), "err", err)
	}

	// shared is also set for the caller that ran compute, so track that separately.
	ran := false
	v, err, shared := p.inflight.Do(fp.String(), func() (any, error) {
		ran = true
		return p.compute(ctx, path, fp)
	})
	if err != nil {
		if shared {
			// Another path with the same content failed; report it for this path.
			var analysisErr *AnalysisError
			if errors.As(err, &analysisErr) && analysisErr.Path != path {
				return nil, 0, &AnalysisError{Path: path, Cause: analysisErr.Cause}
			}
		}
		return nil, 0, err
	}

	computed := *v.(*core.CacheEntry)
	if !ran {
		return &computed, core.SourceShared, nil
	}
	return &computed, core.SourceComputed, nil
}

// compute analyzes one file through the limiter and writes the result back.
func (p *Provider) compute(ctx context.Context, path string, fp core.Fingerprint) (*core.CacheEntry, error) {
	entry, err := limiter.Do(ctx, p.limiter, func(ctx context.Context) (*core.CacheEntry, error) {
		return p.analyze(ctx, path, fp)
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrIO), errors.Is(err, core.ErrAnalysis):
			return nil, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return nil, err
			}
		}
		return nil, &AnalysisError{Path: path, Cause: err}
	}

	id, err := p.cache.Set(ctx, fp, entry.Description, entry.Embedding)
	if err != nil {
		p.logger.Warn("failed to write cache entry", "path", path, "fingerprint", fp.Short(), "err", err)
	} else {
		entry.RecordID = id
	}
	return entry, nil
}

// analyze reads the image, describes it and embeds the description.
// It runs inside a limiter slot.
func (p *Provider) analyze(ctx context.Context, path string, fp core.Fingerprint) (*core.CacheEntry, error) {
	mimeType, err := MimeType(path)
	if err != nil {
		return nil, &AnalysisError{Path: path, Cause: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", core.ErrIO, path, err)
	}

	var description string
	err = p.retry.Do(ctx, p.logger, "describe image", func() error {
		text, err := p.describer.DescribeImage(ctx, data, mimeType)
		if err != nil {
			return err
		}
		if text == "" {
			return core.ErrEmptyDescription
		}
		description = text
		return nil
	})
	if err != nil {
		return nil, &AnalysisError{Path: path, Cause: fmt.Errorf("describing image: %w", err)}
	}

	var embedding []float32
	err = p.retry.Do(ctx, p.logger, "embed description", func() error {
		vector, err := p.embedder.EmbedText(ctx, description)
		if err != nil {
			return err
		}
		if err := core.ValidateEmbedding(vector); err != nil {
			return Permanent(err)
		}
		embedding = vector
		return nil
	})
	if err != nil {
		return nil, &AnalysisError{Path: path, Cause: fmt.Errorf("embedding description: %w", err)}
	}

	p.logger.Debug("analyzed image", "path", path, "fingerprint", fp.Short(), "dimensions", len(embedding))
	return &core.CacheEntry{
		Fingerprint: fp,
		Description: description,
		Embedding:   embedding,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
