package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/imgmatch/ai"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/match"
	"github.com/poiesic/imgmatch/storage"
)

const (
	// DefaultMinSimilarity is the lowest cosine similarity counted as a semantic hit.
	DefaultMinSimilarity = 0.6

	// verbatimBoost is added when every query keyword appears in the description.
	verbatimBoost = 0.3

	scanBatchSize = 256
)

// Hit is one cached image that matched a query.
type Hit struct {
	Entry      *core.CacheEntry
	Similarity float64
	Verbatim   bool
	Score      float64
}

// Searcher ranks cache entries against text queries.
type Searcher struct {
	cache         storage.EmbeddingCache
	embedder      ai.Embedder
	minSimilarity float64
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinSimilarity sets the semantic threshold.
func WithMinSimilarity(min float64) Option {
	return func(s *Searcher) error {
		if min < -1 || min > 1 {
			return fmt.Errorf("%w: min similarity must be within [-1, 1], got %g", match.ErrInvalidOptions, min)
		}
		s.minSimilarity = min
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(cache storage.EmbeddingCache, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if cache == nil {
		return nil, ErrCacheRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		cache:         cache,
		embedder:      embedder,
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")
	return s, nil
}

// FindSimilar returns up to maxHits cached images whose description matches
// query, best first. An entry is a hit when its embedding clears the
// similarity threshold or its description holds every query keyword.
// Entries embedded with a different dimensionality are skipped.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int) ([]*Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxHits < 1 {
		return nil, fmt.Errorf("%w: maxHits must be at least 1", storage.ErrInvalidQuery)
	}

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, fmt.Errorf("%w: embedding query: %w", core.ErrAnalysis, err)
	}
	if err := core.ValidateEmbedding(vector); err != nil {
		return nil, fmt.Errorf("%w: query embedding: %w", core.ErrAnalysis, err)
	}

	keywords := tokenize(query)
	var hits []*Hit
	skipped := 0
	err = s.cache.ForEach(ctx, scanBatchSize, func(entries []*core.CacheEntry) error {
		for _, entry := range entries {
			sim, err := match.Cosine(vector, entry.Embedding)
			if err != nil {
				skipped++
				continue
			}
			hit := &Hit{
				Entry:      entry,
				Similarity: sim,
				Verbatim:   containsAll(entry.Description, keywords),
			}
			semantic := sim >= s.minSimilarity
			if !semantic && !hit.Verbatim {
				continue
			}
			hit.Score = sim
			if hit.Verbatim {
				hit.Score += verbatimBoost
			}
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("error scanning cache", "err", err)
		return nil, storage.CacheFailure(err)
	}
	if skipped > 0 {
		s.logger.Warn("skipped entries with a different embedding size", "count", skipped, "dimensions", len(vector))
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.Fingerprint < hits[j].Entry.Fingerprint
	})
	if len(hits) > maxHits {
		hits = hits[:maxHits]
	}
	s.logger.Debug("search complete", "query", query, "hits", len(hits))
	return hits, nil
}
