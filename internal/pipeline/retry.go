package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/models"
)

// RetryPolicy defines retry behavior for pipeline stages
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NewRetryPolicy creates the default stage retry policy: one retry with
// a fixed pause between attempts.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 2,
		Backoff:     5 * time.Second,
	}
}

// ExecuteWithRetry runs fn up to MaxAttempts times with a fixed backoff
// between attempts. It returns the number of attempts made alongside the
// final error. Cancellation is never retried.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, logger arbor.ILogger, stage models.StageKind, fn func() error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return attempt, nil
		}

		if !isRetryable(lastErr) {
			logger.Debug().
				Str("stage", stage.String()).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("Non-retryable error, failing immediately")
			return attempt, lastErr
		}

		if attempt < p.MaxAttempts {
			logger.Debug().
				Str("stage", stage.String()).
				Int("attempt", attempt).
				Err(lastErr).
				Dur("backoff", p.Backoff).
				Msg("Retrying after backoff")

			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(p.Backoff):
				// Continue to next attempt
			}
		}
	}

	logger.Warn().
		Str("stage", stage.String()).
		Int("max_attempts", p.MaxAttempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return p.MaxAttempts, lastErr
}

// isRetryable reports whether an error is worth a second attempt.
// Cancellation means the caller is shutting down; everything else,
// including stage timeouts, gets the one retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
