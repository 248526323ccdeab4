package ai

import "context"

// Describer turns an image into a text description.
// Implementations must be thread-safe for concurrent use.
type Describer interface {
	// DescribeImage sends the raw image bytes to a vision model and returns
	// the model's description. mimeType is the image media type, for example
	// "image/jpeg". Returns an error if the service call fails or the model
	// produces no text.
	DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Embedder generates vector embeddings from text for similarity comparison.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Describer and Embedder instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Describer returns the image description service.
	// The returned Describer is safe for concurrent use.
	Describer() Describer

	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
