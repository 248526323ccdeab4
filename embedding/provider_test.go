package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/imgmatch/ai/mock"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/limiter"
	"github.com/poiesic/imgmatch/storage"
	"github.com/poiesic/imgmatch/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	provider  *Provider
	cache     storage.EmbeddingCache
	describer *mock.MockDescriber
	embedder  *mock.MockEmbedder
	limiter   *limiter.Limiter
	dir       string
}

func setupTestEnv(t *testing.T, maxConcurrent int, opts ...Option) *testEnv {
	t.Helper()

	cache, backend, err := badger.NewMemoryCache()
	require.NoError(t, err)
	t.Cleanup(func() {
		cache.Close()
		backend.Close()
	})

	return setupTestEnvWithCache(t, cache, maxConcurrent, opts...)
}

func setupTestEnvWithCache(t *testing.T, cache storage.EmbeddingCache, maxConcurrent int, opts ...Option) *testEnv {
	t.Helper()

	lim, err := limiter.New(maxConcurrent)
	require.NoError(t, err)
	t.Cleanup(lim.Close)

	describer := mock.NewMockDescriber()
	embedder := mock.NewMockEmbedder()
	services := mock.NewMockProviderWithServices(describer, embedder)

	opts = append([]Option{WithRetryDelay(0)}, opts...)
	provider, err := NewProvider(cache, services, lim, opts...)
	require.NoError(t, err)

	return &testEnv{
		provider:  provider,
		cache:     cache,
		describer: describer,
		embedder:  embedder,
		limiter:   lim,
		dir:       t.TempDir(),
	}
}

func (e *testEnv) writeImage(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

// failingCache fails every operation.
type failingCache struct {
	gets, sets atomic.Int32
}

var errCacheDown = errors.New("cache unavailable")

func (c *failingCache) Get(context.Context, core.Fingerprint) (*core.CacheEntry, error) {
	c.gets.Add(1)
	return nil, errCacheDown
}

func (c *failingCache) Set(context.Context, core.Fingerprint, string, []float32) (uint64, error) {
	c.sets.Add(1)
	return 0, errCacheDown
}

func (c *failingCache) EvictOlderThan(context.Context, int) (int, error) { return 0, errCacheDown }
func (c *failingCache) Invalidate(context.Context, core.Fingerprint) error { return errCacheDown }
func (c *failingCache) Count(context.Context) (int, error)                 { return 0, errCacheDown }
func (c *failingCache) Close() error                                       { return nil }

func (c *failingCache) ForEach(context.Context, int, func([]*core.CacheEntry) error) error {
	return errCacheDown
}

func TestNewProvider_RequiresDependencies(t *testing.T) {
	lim, err := limiter.New(1)
	require.NoError(t, err)
	defer lim.Close()
	cache := &failingCache{}
	services := mock.NewMockProvider()

	_, err = NewProvider(nil, services, lim)
	assert.ErrorIs(t, err, ErrCacheRequired)
	_, err = NewProvider(cache, nil, lim)
	assert.ErrorIs(t, err, ErrAIProviderRequired)
	_, err = NewProvider(cache, services, nil)
	assert.ErrorIs(t, err, ErrLimiterRequired)
	_, err = NewProvider(cache, services, lim, WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestGetEmbedding_MissThenHit(t *testing.T) {
	env := setupTestEnv(t, 2)
	ctx := context.Background()
	path := env.writeImage(t, "sneaker.jpg", []byte("sneaker pixels"))

	first, source, err := env.provider.GetEmbedding(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComputed, source)
	assert.NotZero(t, first.RecordID)
	assert.Len(t, first.Embedding, mock.DefaultDimensions)
	assert.Contains(t, first.Description, "image/jpeg")
	assert.Equal(t, 1, env.describer.CallCount())
	assert.Equal(t, 1, env.embedder.CallCount())

	second, source, err := env.provider.GetEmbedding(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, core.SourceCache, source)
	assert.Equal(t, first.Embedding, second.Embedding)
	assert.Equal(t, first.Description, second.Description)
	assert.Equal(t, 1, env.describer.CallCount(), "cache hit must not call the service")
}

func TestGetEmbedding_RenamedFileStillHits(t *testing.T) {
	env := setupTestEnv(t, 1)
	ctx := context.Background()
	content := []byte("same bytes")

	original := env.writeImage(t, "a/original.png", content)
	_, source, err := env.provider.GetEmbedding(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComputed, source)

	renamed := env.writeImage(t, "b/renamed.png", content)
	_, source, err = env.provider.GetEmbedding(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, core.SourceCache, source)
	assert.Equal(t, 1, env.describer.CallCount())
}

func TestGetEmbedding_ChangedContentMisses(t *testing.T) {
	env := setupTestEnv(t, 1)
	ctx := context.Background()
	path := env.writeImage(t, "lamp.png", []byte("version 1"))

	_, _, err := env.provider.GetEmbedding(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version 2"), 0644))
	_, source, err := env.provider.GetEmbedding(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComputed, source)
	assert.Equal(t, 2, env.describer.CallCount())
}

func TestGetEmbedding_MissingFile(t *testing.T) {
	env := setupTestEnv(t, 1)

	_, _, err := env.provider.GetEmbedding(context.Background(), filepath.Join(env.dir, "gone.jpg"))
	assert.ErrorIs(t, err, core.ErrIO)
	assert.Equal(t, core.KindIO, core.KindOf(err))
	assert.Zero(t, env.describer.CallCount())
}

func TestGetEmbedding_AnalysisFailureIsRetried(t *testing.T) {
	env := setupTestEnv(t, 1, WithMaxAttempts(3))
	serviceErr := errors.New("503 service unavailable")
	env.describer.WithDescribeImageFunc(func(ctx context.Context, image []byte, mimeType string) (string, error) {
		return "", serviceErr
	})
	path := env.writeImage(t, "vase.webp", []byte("vase"))

	_, _, err := env.provider.GetEmbedding(context.Background(), path)
	require.Error(t, err)

	var analysisErr *AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, path, analysisErr.Path)
	assert.ErrorIs(t, err, core.ErrAnalysis)
	assert.ErrorIs(t, err, serviceErr)
	assert.Equal(t, 3, env.describer.CallCount())
	assert.Zero(t, env.embedder.CallCount())

	count, err := env.cache.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "failures are not cached")
}

func TestGetEmbedding_TransientFailureRecovers(t *testing.T) {
	env := setupTestEnv(t, 1, WithMaxAttempts(3))
	var calls atomic.Int32
	env.embedder.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return []float32{0.6, 0.8}, nil
	})
	path := env.writeImage(t, "cup.gif", []byte("cup"))

	entry, source, err := env.provider.GetEmbedding(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComputed, source)
	assert.Equal(t, []float32{0.6, 0.8}, entry.Embedding)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetEmbedding_MalformedEmbeddingIsNotRetried(t *testing.T) {
	env := setupTestEnv(t, 1, WithMaxAttempts(5))
	env.embedder.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{}, nil
	})
	path := env.writeImage(t, "chair.png", []byte("chair"))

	_, _, err := env.provider.GetEmbedding(context.Background(), path)
	assert.ErrorIs(t, err, core.ErrAnalysis)
	assert.ErrorIs(t, err, core.ErrEmptyEmbedding)
	assert.Equal(t, 1, env.embedder.CallCount())
}

func TestGetEmbedding_UnsupportedExtension(t *testing.T) {
	env := setupTestEnv(t, 1)
	path := env.writeImage(t, "notes.txt", []byte("not an image"))

	_, _, err := env.provider.GetEmbedding(context.Background(), path)
	assert.ErrorIs(t, err, core.ErrAnalysis)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
	assert.Zero(t, env.describer.CallCount())
}

func TestGetEmbedding_CacheFailuresAreNotFatal(t *testing.T) {
	cache := &failingCache{}
	env := setupTestEnvWithCache(t, cache, 1)
	path := env.writeImage(t, "bag.jpg", []byte("bag"))

	entry, source, err := env.provider.GetEmbedding(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComputed, source)
	assert.NotEmpty(t, entry.Embedding)
	assert.Zero(t, entry.RecordID)
	assert.Equal(t, int32(1), cache.gets.Load())
	assert.Equal(t, int32(1), cache.sets.Load())
}

func TestGetEmbedding_ConcurrentSameContentAnalyzedOnce(t *testing.T) {
	env := setupTestEnv(t, 4)
	gate := make(chan struct{})
	env.describer.WithDescribeImageFunc(func(ctx context.Context, image []byte, mimeType string) (string, error) {
		<-gate
		return "a green bottle", nil
	})

	content := []byte("bottle")
	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, env.writeImage(t, fmt.Sprintf("copy-%d.png", i), content))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(paths))
	sources := make([]core.Source, len(paths))
	for i, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, sources[i], errs[i] = env.provider.GetEmbedding(context.Background(), path)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	counts := make(map[core.Source]int)
	for i, err := range errs {
		assert.NoError(t, err)
		counts[sources[i]]++
	}
	assert.Equal(t, 1, env.describer.CallCount())
	assert.Equal(t, 1, counts[core.SourceComputed], "only the caller that ran the analysis counts as computed")
	assert.Equal(t, len(paths)-1, counts[core.SourceShared])
}

func TestEmbedAll_DuplicateContentCountedOnce(t *testing.T) {
	env := setupTestEnv(t, 2)
	gate := make(chan struct{})
	env.describer.WithDescribeImageFunc(func(ctx context.Context, image []byte, mimeType string) (string, error) {
		<-gate
		return "a striped umbrella", nil
	})
	first := env.writeImage(t, "umbrella.png", []byte("umbrella"))
	second := env.writeImage(t, "copies/umbrella.png", []byte("umbrella"))

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(gate)
	}()

	result, err := env.provider.EmbedAll(context.Background(), []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)
	assert.Equal(t, 1, result.Shared)
	assert.Zero(t, result.CacheHits)
	assert.Equal(t, result.Embeddings[first], result.Embeddings[second])
	assert.Equal(t, 1, env.describer.CallCount())
}

func TestGetEmbedding_LimiterBoundsAnalysis(t *testing.T) {
	const maxConcurrent = 2
	env := setupTestEnv(t, maxConcurrent)

	var active, peak atomic.Int32
	env.describer.WithDescribeImageFunc(func(ctx context.Context, image []byte, mimeType string) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "item " + string(image), nil
	})

	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, env.writeImage(t, fmt.Sprintf("item-%d.jpg", i), []byte(fmt.Sprintf("%d", i))))
	}

	result, err := env.provider.EmbedAll(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Computed)
	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))
	assert.Equal(t, int32(maxConcurrent), peak.Load())
}

func TestEmbedAll_PartialFailure(t *testing.T) {
	var progress bytes.Buffer
	env := setupTestEnv(t, 2, WithProgress(&progress, 1))
	ctx := context.Background()

	good := env.writeImage(t, "good.png", []byte("good"))
	alsoGood := env.writeImage(t, "also-good.jpg", []byte("also good"))
	missing := filepath.Join(env.dir, "missing.png")
	unsupported := env.writeImage(t, "readme.txt", []byte("text"))

	result, err := env.provider.EmbedAll(ctx, []string{good, missing, alsoGood, unsupported, good})
	require.NoError(t, err)

	assert.Len(t, result.Embeddings, 2)
	assert.Contains(t, result.Embeddings, good)
	assert.Contains(t, result.Embeddings, alsoGood)
	assert.Equal(t, 2, result.Computed)
	assert.Zero(t, result.CacheHits)

	require.Len(t, result.Failures, 2)
	assert.Equal(t, missing, result.Failures[0].Path)
	assert.Equal(t, core.KindIO, result.Failures[0].Kind)
	assert.Equal(t, unsupported, result.Failures[1].Path)
	assert.Equal(t, core.KindAnalysis, result.Failures[1].Kind)
	assert.Error(t, result.Err())

	assert.Contains(t, progress.String(), "Embedding:")

	again, err := env.provider.EmbedAll(ctx, []string{good, alsoGood})
	require.NoError(t, err)
	assert.Equal(t, 2, again.CacheHits)
	assert.Zero(t, again.Computed)
	assert.Equal(t, core.SourceCache, again.Sources[good])
	assert.NoError(t, again.Err())
}

func TestEmbedAll_CanceledContext(t *testing.T) {
	env := setupTestEnv(t, 1)
	path := env.writeImage(t, "x.png", []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.provider.EmbedAll(ctx, []string{path})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, result)
	assert.Empty(t, result.Embeddings)
}
