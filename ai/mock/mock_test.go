package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "red mug")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "red mug")
	require.NoError(t, err)
	c, err := m.EmbedText(ctx, "blue vase")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, DefaultDimensions)
	assert.Equal(t, 3, m.CallCount())

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_Injection(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, boom
	})

	_, err := m.EmbedText(context.Background(), "x")
	assert.ErrorIs(t, err, boom)

	m.Reset()
	assert.Zero(t, m.CallCount())
	_, err = m.EmbedText(context.Background(), "x")
	assert.NoError(t, err)
}

func TestMockDescriber(t *testing.T) {
	m := NewMockDescriber()
	ctx := context.Background()

	a, err := m.DescribeImage(ctx, []byte("one"), "image/png")
	require.NoError(t, err)
	b, err := m.DescribeImage(ctx, []byte("one"), "image/png")
	require.NoError(t, err)
	c, err := m.DescribeImage(ctx, []byte("two"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "image/png")
	assert.Equal(t, 3, m.CallCount())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProviderWithServices(NewMockDescriber(), NewMockEmbedder())

	assert.Same(t, p.GetMockDescriber(), p.Describer())
	assert.Same(t, p.GetMockEmbedder(), p.Embedder())
	assert.False(t, p.Closed())
	require.NoError(t, p.Close())
	assert.True(t, p.Closed())
}
