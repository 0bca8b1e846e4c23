// Package resilience provides the retry, cooldown, and provider failover
// primitives the conversation engine uses around its two network
// dependencies (transcription and extraction).
//
// Retries are explicit bounded loops with enumerated outcomes rather than
// exceptions-as-control-flow: every call reports how many retries it
// consumed so the state machine can record retry_count on the turn, and a
// non-retryable classification stops the loop immediately.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrBudgetExhausted wraps the final error once a retry budget is spent.
var ErrBudgetExhausted = errors.New("resilience: retry budget exhausted")

// RetryConfig tunes a bounded retry loop.
type RetryConfig struct {
	// Budget is the maximum number of retries after the first attempt.
	// Default: 3.
	Budget int

	// BaseDelay is the delay before the first retry; it doubles on every
	// subsequent retry. Default: 250ms.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 5s.
	MaxDelay time.Duration

	// Retryable classifies errors. When nil, every error is retryable.
	Retryable func(error) bool
}

// withDefaults fills zero-value fields.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.Budget <= 0 {
		c.Budget = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Retry runs fn until it succeeds, fails non-retryably, exhausts the budget,
// or ctx is cancelled. It returns fn's result, the number of retries
// consumed (0 when the first attempt succeeded), and the final error.
//
// A cancelled context halts the loop between attempts; an in-flight fn call
// is expected to observe ctx itself.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, int, error) {
	cfg = cfg.withDefaults()

	var zero T
	delay := cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, attempt, err
		}
		if attempt >= cfg.Budget {
			return zero, attempt, fmt.Errorf("%w after %d retries: %w", ErrBudgetExhausted, attempt, err)
		}

		slog.Debug("retrying after transient failure",
			"attempt", attempt+1,
			"budget", cfg.Budget,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
