package limiter

import "errors"

var (
	// ErrInvalidConcurrency is returned when maxConcurrent is less than one.
	ErrInvalidConcurrency = errors.New("maxConcurrent must be at least 1")

	// ErrInvalidDelay is returned for a negative scheduling delay.
	ErrInvalidDelay = errors.New("delay must not be negative")

	// ErrInvalidTimeout is returned for a negative task timeout.
	ErrInvalidTimeout = errors.New("task timeout must not be negative")

	// ErrLimiterClosed is returned for work submitted to, or still queued in, a closed limiter.
	ErrLimiterClosed = errors.New("limiter is closed")

	// ErrTaskTimeout is delivered to a waiting caller when a task outlives its timeout.
	// The task keeps its slot until it actually returns.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskPanicked is delivered when a task panics.
	ErrTaskPanicked = errors.New("task panicked")
)
