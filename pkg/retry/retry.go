// Package retry provides bounded exponential backoff with jitter, shared by
// the marketplace transport and the reconciliation delete/create steps.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	apperrors "dmarket_sync/pkg/errors"
)

// Policy defines how to retry an operation
type Policy struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int
	// BaseDelay is the unit of backoff: attempt n sleeps 2^n * BaseDelay plus
	// up to one BaseDelay of jitter. One second reproduces the marketplace's
	// expected 2^n + U(0,1) seconds schedule.
	BaseDelay time.Duration
}

// DefaultPolicy matches the marketplace client's retry ceiling
var DefaultPolicy = Policy{
	MaxRetries: 5,
	BaseDelay:  time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Backoff returns the sleep duration for the given zero-based attempt:
// 2^attempt units of base delay plus uniform jitter in [0, base).
func Backoff(attempt int, base time.Duration) time.Duration {
	exp := time.Duration(1<<uint(attempt)) * base
	jitter := time.Duration(rand.Int63n(int64(base)))
	return exp + jitter
}

// Do executes fn, retrying transient failures according to the policy. Once
// the retry budget is spent it returns an error wrapping both
// apperrors.ErrRetriesExhausted and the last failure. Context cancellation
// interrupts the backoff sleep immediately.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt >= policy.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %w", apperrors.ErrRetriesExhausted, attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt, base)):
		}
	}
}
