package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// MockDescriber is a test double for ai.Describer.
// It allows custom behavior injection via function fields.
type MockDescriber struct {
	mu sync.Mutex

	// DescribeImageFunc is called by DescribeImage if set.
	// If nil, returns a description derived from the image bytes.
	DescribeImageFunc func(ctx context.Context, image []byte, mimeType string) (string, error)

	callCount int
}

// NewMockDescriber creates a mock describer with default deterministic behavior.
// Returns concrete type to allow test assertions.
func NewMockDescriber() *MockDescriber {
	return &MockDescriber{}
}

// WithDescribeImageFunc sets DescribeImageFunc and returns the mock for chaining.
func (m *MockDescriber) WithDescribeImageFunc(fn func(ctx context.Context, image []byte, mimeType string) (string, error)) *MockDescriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeImageFunc = fn
	return m
}

// DescribeImage returns a deterministic description of image.
func (m *MockDescriber) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.DescribeImageFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, image, mimeType)
	}

	h := fnv.New64a()
	h.Write(image)
	return fmt.Sprintf("%s image %016x", mimeType, h.Sum64()), nil
}

// CallCount returns the number of times DescribeImage was called.
func (m *MockDescriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockDescriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.DescribeImageFunc = nil
}
