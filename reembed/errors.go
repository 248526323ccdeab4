package reembed

import "errors"

var (
	// ErrCacheRequired is returned when no cache is supplied.
	ErrCacheRequired = errors.New("reembed: cache is required")

	// ErrEmbedderRequired is returned when no embedder is supplied.
	ErrEmbedderRequired = errors.New("reembed: embedder is required")

	// ErrCountMismatch is returned when the embedder returns a different
	// number of vectors than descriptions it was given.
	ErrCountMismatch = errors.New("embedding count mismatch")
)
