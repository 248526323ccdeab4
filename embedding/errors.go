package embedding

import (
	"errors"
	"fmt"

	"github.com/poiesic/imgmatch/core"
)

var (
	// ErrCacheRequired is returned when NewProvider is called without a cache.
	ErrCacheRequired = errors.New("embedding cache is required")

	// ErrAIProviderRequired is returned when NewProvider is called without an AI provider.
	ErrAIProviderRequired = errors.New("AI provider is required")

	// ErrLimiterRequired is returned when NewProvider is called without a limiter.
	ErrLimiterRequired = errors.New("concurrency limiter is required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrUnsupportedImage is returned for files whose extension is not a known image type.
	ErrUnsupportedImage = errors.New("unsupported image type")
)

// AnalysisError reports that the external services could not produce an
// embedding for one file. It matches core.ErrAnalysis with errors.Is.
type AnalysisError struct {
	Path  string
	Cause error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %s failed: %v", e.Path, e.Cause)
}

// Unwrap exposes both the analysis category and the underlying cause.
func (e *AnalysisError) Unwrap() []error {
	return []error{core.ErrAnalysis, e.Cause}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so RetryPolicy.Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
