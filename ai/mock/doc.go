// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Describer, ai.Embedder and
// ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
// All mocks are safe for concurrent use.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	text, err := mockProvider.Describer().DescribeImage(ctx, data, "image/png")
//
//	// Custom behavior injection
//	mockEmbedder := mock.NewMockEmbedder().
//	    WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
//	        return []float32{0.1, 0.2, 0.3}, nil
//	    })
//
//	// Check call counts
//	count := mockEmbedder.CallCount()
//
// # Default Behavior
//
//   - MockDescriber: returns a description derived from the image bytes
//   - MockEmbedder: returns deterministic unit vectors based on a text hash
//   - MockProvider: aggregates mock describer and embedder
package mock
