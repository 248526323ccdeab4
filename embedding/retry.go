// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxRetryDelay caps the backoff between two attempts.
const DefaultMaxRetryDelay = 30 * time.Second

// RetryPolicy describes how a call to an analysis service is repeated.
// The wait before attempt n+1 is BaseDelay<<(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay bounds a single wait. Zero means DefaultMaxRetryDelay.
	MaxDelay time.Duration
}

// Validate reports whether the policy can run.
func (r RetryPolicy) Validate() error {
	if r.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// delay returns the wait after the given failed attempt, counting from 1.
func (r RetryPolicy) delay(attempt int) time.Duration {
	limit := r.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxRetryDelay
	}
	if r.BaseDelay <= 0 {
		return 0
	}
	d := r.BaseDelay
	for i := 1; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// Do runs fn until it succeeds, returns a Permanent error, exhausts the
// attempts or ctx ends. op names the call in logs and in the final error.
// A Permanent error is returned unwrapped; an exhausted policy returns the
// last error annotated with the attempt count.
func (r RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Debug("call recovered", "op", op, "attempt", attempt)
			}
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		if attempt == r.MaxAttempts {
			break
		}

		wait := r.delay(attempt)
		logger.Debug("call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "err", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if r.MaxAttempts == 1 {
		return err
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.MaxAttempts, err)
}
