// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package imgmatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/imgmatch/ai"
	"github.com/poiesic/imgmatch/ai/openai"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/embedding"
	"github.com/poiesic/imgmatch/limiter"
	"github.com/poiesic/imgmatch/match"
	"github.com/poiesic/imgmatch/reembed"
	"github.com/poiesic/imgmatch/search"
	"github.com/poiesic/imgmatch/storage"
	"github.com/poiesic/imgmatch/storage/badger"
	"github.com/poiesic/imgmatch/storage/sqlite"
)

// CacheBackend selects the store behind the embedding cache.
type CacheBackend string

const (
	// CacheBadger keeps the cache in a BadgerDB directory.
	CacheBadger CacheBackend = "badger"
	// CacheSQLite keeps the cache in a SQLite database file.
	CacheSQLite CacheBackend = "sqlite"
)

// Matcher owns every resource a matching run needs: the embedding cache,
// the AI services, the concurrency limiter and the embedding provider.
type Matcher struct {
	backend      *badger.Backend
	cache        storage.EmbeddingCache
	provider     ai.AIProvider
	ownsProvider bool
	limiter      *limiter.Limiter
	embeddings   *embedding.Provider
	matchOptions match.Options
	maxAttempts  int
	logger       *slog.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*matcherOptions)

type matcherOptions struct {
	aiConfig      *ai.Config
	provider      ai.AIProvider
	backend       CacheBackend
	inMemory      bool
	lruSize       int
	lruTTL        time.Duration
	maxConcurrent int
	delay         time.Duration
	taskTimeout   time.Duration
	maxAttempts   int
	progress      io.Writer
	matchOptions  match.Options
	logger        *slog.Logger
}

// WithAIConfig sets the configuration for the OpenAI-compatible services.
func WithAIConfig(config *ai.Config) MatcherOption {
	return func(o *matcherOptions) {
		o.aiConfig = config
	}
}

// WithAIProvider supplies ready-made AI services. The Matcher does not close them.
func WithAIProvider(provider ai.AIProvider) MatcherOption {
	return func(o *matcherOptions) {
		o.provider = provider
	}
}

// WithCacheBackend selects the cache store. Default is CacheBadger.
func WithCacheBackend(backend CacheBackend) MatcherOption {
	return func(o *matcherOptions) {
		o.backend = backend
	}
}

// WithInMemoryCache keeps the badger cache in memory; nothing is persisted.
func WithInMemoryCache() MatcherOption {
	return func(o *matcherOptions) {
		o.inMemory = true
	}
}

// WithMemoryLRU fronts the cache with an in-process LRU of size entries kept for ttl.
func WithMemoryLRU(size int, ttl time.Duration) MatcherOption {
	return func(o *matcherOptions) {
		o.lruSize = size
		o.lruTTL = ttl
	}
}

// WithConcurrency bounds simultaneous calls to the analysis services. Default is 10.
func WithConcurrency(n int) MatcherOption {
	return func(o *matcherOptions) {
		o.maxConcurrent = n
	}
}

// WithDelay pauses between a finished analysis and the next admission.
func WithDelay(d time.Duration) MatcherOption {
	return func(o *matcherOptions) {
		o.delay = d
	}
}

// WithTaskTimeout bounds how long one analysis may take.
func WithTaskTimeout(d time.Duration) MatcherOption {
	return func(o *matcherOptions) {
		o.taskTimeout = d
	}
}

// WithMaxAttempts sets how often each service call is tried. Default is 3.
func WithMaxAttempts(n int) MatcherOption {
	return func(o *matcherOptions) {
		o.maxAttempts = n
	}
}

// WithProgress reports embedding progress to w.
func WithProgress(w io.Writer) MatcherOption {
	return func(o *matcherOptions) {
		o.progress = w
	}
}

// WithMatchOptions sets TopN and MinSimilarity. Default is match.DefaultOptions().
func WithMatchOptions(opts match.Options) MatcherOption {
	return func(o *matcherOptions) {
		o.matchOptions = opts
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) MatcherOption {
	return func(o *matcherOptions) {
		o.logger = logger
	}
}

// NewMatcher opens the cache at cacheDir and wires the matching pipeline.
func NewMatcher(cacheDir string, opts ...MatcherOption) (*Matcher, error) {
	options := &matcherOptions{
		aiConfig:      ai.DefaultConfig(),
		backend:       CacheBadger,
		maxConcurrent: 10,
		maxAttempts:   3,
		matchOptions:  match.DefaultOptions(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := options.matchOptions.Validate(); err != nil {
		return nil, err
	}

	m := &Matcher{
		matchOptions: options.matchOptions,
		maxAttempts:  options.maxAttempts,
		logger:       options.logger.With("component", "matcher"),
	}

	if err := m.openCache(cacheDir, options); err != nil {
		return nil, err
	}

	if options.provider != nil {
		m.provider = options.provider
	} else {
		provider, err := openai.NewProvider(options.aiConfig)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.provider = provider
		m.ownsProvider = true
	}

	lim, err := limiter.New(options.maxConcurrent,
		limiter.WithDelay(options.delay),
		limiter.WithTaskTimeout(options.taskTimeout),
		limiter.WithLogger(options.logger),
	)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.limiter = lim

	embeddingOpts := []embedding.Option{
		embedding.WithMaxAttempts(options.maxAttempts),
		embedding.WithLogger(options.logger),
	}
	if options.progress != nil {
		embeddingOpts = append(embeddingOpts, embedding.WithProgress(options.progress, 10))
	}
	m.embeddings, err = embedding.NewProvider(m.cache, m.provider, m.limiter, embeddingOpts...)
	if err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

func (m *Matcher) openCache(cacheDir string, options *matcherOptions) error {
	var cache storage.EmbeddingCache

	switch options.backend {
	case CacheBadger, "":
		backend, err := badger.OpenBackend(cacheDir, options.inMemory)
		if err != nil {
			return err
		}
		cache, err = badger.NewCache(backend, badger.WithLogger(options.logger))
		if err != nil {
			backend.Close()
			return err
		}
		m.backend = backend
	case CacheSQLite:
		store, err := sqlite.NewStore(cacheDir, sqlite.WithLogger(options.logger))
		if err != nil {
			return err
		}
		cache = store
	default:
		return fmt.Errorf("unknown cache backend %q", options.backend)
	}

	m.cache = storage.NewLRUCache(cache, options.lruSize, options.lruTTL)
	return nil
}

// Close releases the limiter, AI services and cache. Running analyses are
// waited for first.
func (m *Matcher) Close() error {
	var errs []error

	if m.limiter != nil {
		m.limiter.Close()
	}

	if m.provider != nil && m.ownsProvider {
		if err := m.provider.Close(); err != nil {
			m.logger.Error("error closing AI provider", "err", err)
		}
	}

	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			m.logger.Error("error closing embedding cache", "err", err)
			errs = append(errs, err)
		}
	}

	if m.backend != nil {
		if err := m.backend.Close(); err != nil {
			m.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Report is the outcome of one Run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Result    *core.MatchResult
	CacheHits int
	Computed  int
	Shared    int
	// Failures lists every file that could not be embedded; those files take
	// no part in matching.
	Failures []core.Failure
}

// Run embeds both collections and matches the join images against the base
// images. Files that fail to embed are reported and skipped. A dimension
// mismatch between embeddings aborts the run with core.ErrMatch.
func (m *Matcher) Run(ctx context.Context, basePaths, joinPaths []string) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := m.logger.With("run", report.RunID)
	logger.Info("starting run", "bases", len(basePaths), "joins", len(joinPaths))

	all := make([]string, 0, len(basePaths)+len(joinPaths))
	all = append(all, basePaths...)
	all = append(all, joinPaths...)

	batch, err := m.embeddings.EmbedAll(ctx, all)
	if err != nil {
		return nil, err
	}
	report.CacheHits = batch.CacheHits
	report.Computed = batch.Computed
	report.Shared = batch.Shared
	report.Failures = batch.Failures

	base := collect(basePaths, batch.Embeddings)
	join := collect(joinPaths, batch.Embeddings)

	result, err := match.Match(base, join, m.matchOptions)
	if err != nil {
		logger.Error("matching failed", "err", err)
		return nil, err
	}
	report.Result = result
	report.Duration = time.Since(report.StartedAt)

	logger.Info("run complete",
		"groups", len(result.Groups),
		"unmatchedJoins", len(result.UnmatchedJoins),
		"unmatchedBases", len(result.UnmatchedBases),
		"cacheHits", report.CacheHits,
		"computed", report.Computed,
		"shared", report.Shared,
		"failures", len(report.Failures),
		"duration", report.Duration)
	return report, nil
}

// collect picks the embeddings for paths that were embedded successfully.
func collect(paths []string, embeddings map[string][]float32) map[string][]float32 {
	out := make(map[string][]float32, len(paths))
	for _, p := range paths {
		if v, ok := embeddings[p]; ok {
			out[p] = v
		}
	}
	return out
}

// Index embeds paths into the cache without matching them, so a later Run
// over the same images needs no analysis.
func (m *Matcher) Index(ctx context.Context, paths []string) (*embedding.BatchResult, error) {
	batch, err := m.embeddings.EmbedAll(ctx, paths)
	if err != nil {
		return batch, err
	}
	m.logger.Info("indexed images",
		"images", len(batch.Sources),
		"cacheHits", batch.CacheHits,
		"computed", batch.Computed,
		"shared", batch.Shared,
		"failures", len(batch.Failures))
	return batch, nil
}

// Describe returns the cached or freshly computed analysis of one image.
func (m *Matcher) Describe(ctx context.Context, path string) (*core.CacheEntry, core.Source, error) {
	return m.embeddings.GetEmbedding(ctx, path)
}

// Evict removes cache entries older than maxAgeDays days.
func (m *Matcher) Evict(ctx context.Context, maxAgeDays int) (int, error) {
	return m.cache.EvictOlderThan(ctx, maxAgeDays)
}

// Invalidate drops the cached analysis of the file at path so the next run
// analyzes it again.
func (m *Matcher) Invalidate(ctx context.Context, path string) error {
	fp, err := core.HashFile(path)
	if err != nil {
		return err
	}
	return m.cache.Invalidate(ctx, fp)
}

// Reembed recomputes every cached embedding from its stored description with
// the configured embedding model. batchSize values below 1 select the default.
// progress may be nil.
func (m *Matcher) Reembed(ctx context.Context, batchSize int, progress io.Writer) (*reembed.Result, error) {
	config := reembed.DefaultConfig()
	if batchSize > 0 {
		config.BatchSize = batchSize
		config.ReportInterval = batchSize
	}
	config.MaxAttempts = m.maxAttempts

	r, err := reembed.NewReembedder(m.cache, m.provider.Embedder(), config, progress, m.logger)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// Search returns the cached images whose descriptions best match query.
func (m *Matcher) Search(ctx context.Context, query string, maxHits int, opts ...search.Option) ([]*search.Hit, error) {
	opts = append([]search.Option{search.WithLogger(m.logger)}, opts...)
	s, err := search.NewSearcher(m.cache, m.provider.Embedder(), opts...)
	if err != nil {
		return nil, err
	}
	return s.FindSimilar(ctx, query, maxHits)
}

// Stats is a snapshot of the matcher's state.
type Stats struct {
	CacheEntries int
	InFlight     int
	Queued       int
}

// Stats reports the cache size and limiter occupancy.
func (m *Matcher) Stats(ctx context.Context) (Stats, error) {
	count, err := m.cache.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		CacheEntries: count,
		InFlight:     m.limiter.InFlight(),
		Queued:       m.limiter.Queued(),
	}, nil
}
