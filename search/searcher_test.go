package search

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/imgmatch/ai/mock"
	"github.com/poiesic/imgmatch/core"
	"github.com/poiesic/imgmatch/match"
	"github.com/poiesic/imgmatch/storage"
	"github.com/poiesic/imgmatch/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) storage.EmbeddingCache {
	t.Helper()
	cache, backend, err := badger.NewMemoryCache()
	require.NoError(t, err)
	t.Cleanup(func() {
		cache.Close()
		backend.Close()
	})
	return cache
}

// queryEmbedder embeds every query as the same fixed vector.
func queryEmbedder(vector []float32) *mock.MockEmbedder {
	return mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return vector, nil
	})
}

func put(t *testing.T, cache storage.EmbeddingCache, name, description string, vector []float32) core.Fingerprint {
	t.Helper()
	fp := core.HashBytes([]byte(name))
	_, err := cache.Set(context.Background(), fp, description, vector)
	require.NoError(t, err)
	return fp
}

func TestNewSearcher(t *testing.T) {
	cache := setupTestCache(t)
	embedder := mock.NewMockEmbedder()

	_, err := NewSearcher(nil, embedder)
	assert.ErrorIs(t, err, ErrCacheRequired)

	_, err = NewSearcher(cache, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewSearcher(cache, embedder, WithMinSimilarity(1.5))
	assert.ErrorIs(t, err, match.ErrInvalidOptions)

	s, err := NewSearcher(cache, embedder, WithMinSimilarity(0.8), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, 0.8, s.minSimilarity)
	assert.NotNil(t, s.logger)
}

func TestFindSimilar_EmptyCache(t *testing.T) {
	s, err := NewSearcher(setupTestCache(t), queryEmbedder([]float32{1, 0}))
	require.NoError(t, err)

	hits, err := s.FindSimilar(context.Background(), "red chair", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFindSimilar_RanksBySimilarity(t *testing.T) {
	cache := setupTestCache(t)
	near := put(t, cache, "a", "a wooden table", []float32{1, 0.1})
	closer := put(t, cache, "b", "an oak table", []float32{1, 0})
	put(t, cache, "c", "a bicycle", []float32{0, 1})

	s, err := NewSearcher(cache, queryEmbedder([]float32{1, 0}))
	require.NoError(t, err)

	hits, err := s.FindSimilar(context.Background(), "furniture", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, closer, hits[0].Entry.Fingerprint)
	assert.Equal(t, near, hits[1].Entry.Fingerprint)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.False(t, hits[0].Verbatim)
}

func TestFindSimilar_VerbatimBoost(t *testing.T) {
	cache := setupTestCache(t)
	semantic := put(t, cache, "a", "a sofa in a living room", []float32{1, 0})
	verbatim := put(t, cache, "b", "A red chair, seen from the side.", []float32{0.8, 0.6})
	keywordOnly := put(t, cache, "c", "red chair on a beach", []float32{0, 1})

	s, err := NewSearcher(cache, queryEmbedder([]float32{1, 0}))
	require.NoError(t, err)

	hits, err := s.FindSimilar(context.Background(), "the red chair", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, verbatim, hits[0].Entry.Fingerprint)
	assert.True(t, hits[0].Verbatim)
	assert.InDelta(t, 0.8+verbatimBoost, hits[0].Score, 1e-6)

	assert.Equal(t, semantic, hits[1].Entry.Fingerprint)
	assert.Equal(t, keywordOnly, hits[2].Entry.Fingerprint, "keyword hits are kept below the threshold")
}

func TestFindSimilar_MaxHits(t *testing.T) {
	cache := setupTestCache(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		put(t, cache, name, "a lamp", []float32{1, 0})
	}

	s, err := NewSearcher(cache, queryEmbedder([]float32{1, 0}))
	require.NoError(t, err)

	hits, err := s.FindSimilar(context.Background(), "lamp", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Less(t, hits[0].Entry.Fingerprint, hits[1].Entry.Fingerprint, "ties ordered by fingerprint")

	_, err = s.FindSimilar(context.Background(), "lamp", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestFindSimilar_SkipsOtherDimensions(t *testing.T) {
	cache := setupTestCache(t)
	put(t, cache, "old", "a lamp", []float32{1, 0, 0})
	current := put(t, cache, "new", "a desk lamp", []float32{1, 0})

	s, err := NewSearcher(cache, queryEmbedder([]float32{1, 0}))
	require.NoError(t, err)

	hits, err := s.FindSimilar(context.Background(), "lamp", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, current, hits[0].Entry.Fingerprint)
}

func TestFindSimilar_Errors(t *testing.T) {
	cache := setupTestCache(t)

	s, err := NewSearcher(cache, queryEmbedder([]float32{1, 0}))
	require.NoError(t, err)
	_, err = s.FindSimilar(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	failing := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	})
	s, err = NewSearcher(cache, failing)
	require.NoError(t, err)
	_, err = s.FindSimilar(context.Background(), "lamp", 5)
	assert.ErrorIs(t, err, core.ErrAnalysis)
}

func TestContainsAllQueryWords(t *testing.T) {
	tests := []struct {
		name        string
		description string
		query       string
		want        bool
	}{
		{"all words present", "A red chair by the window.", "red chair", true},
		{"case and punctuation ignored", "RED, chair!", "red chair", true},
		{"missing word", "a red table", "red chair", false},
		{"stop words ignored", "a red chair", "the red chair in this image", true},
		{"only stop words", "a red chair", "the image", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsAllQueryWords(tt.description, tt.query))
		})
	}
}
