package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/imgmatch/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrEmptyEmbedding is returned when the service answers without a vector.
	ErrEmptyEmbedding = errors.New("embedding service returned no vector")

	// ErrEmptyText rejects blank input before it reaches the service.
	ErrEmptyText = errors.New("cannot embed empty text")

	// ErrBatchShape is returned when a batch answer does not line up with its input.
	ErrBatchShape = errors.New("embedding batch shape mismatch")
)

// Embedder turns image descriptions into vectors through an OpenAI-compatible
// /embeddings endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIToken),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	// Descriptions are prose; newlines carry no meaning for the vector.
	wrapped, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Embedder{
		embedder: wrapped,
		model:    config.EmbeddingModel,
		logger:   slog.Default().With("component", "openai-embedder", "model", config.EmbeddingModel),
	}, nil
}

// NewEmbedder returns an ai.Embedder backed by config.EmbeddingHost.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText embeds a single description.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds descriptions in one request. The result has one vector per
// input, in input order, and every vector has the same length.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyText, i)
		}
	}

	e.logger.Debug("embedding texts", "count", len(texts))
	// EmbedDocuments rewrites newlines in place.
	vectors, err := e.embedder.EmbedDocuments(ctx, slices.Clone(texts))
	if errors.Is(err, openai.ErrUnexpectedResponseLength) {
		return nil, fmt.Errorf("%w: sent %d texts: %w", ErrBatchShape, len(texts), err)
	}
	if err != nil {
		e.logger.Error("embedding request failed", "count", len(texts), "err", err)
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d vectors", ErrBatchShape, len(texts), len(vectors))
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyEmbedding, i)
		}
		if len(v) != dims {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrBatchShape, i, len(v), dims)
		}
	}
	return vectors, nil
}
