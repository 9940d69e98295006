// Package retry provides the bounded retry-with-backoff loop shared by the
// payment reconciliation hook and the reporting synchronizer. Both compete
// for the same bundle rows under optimistic concurrency and recover the same
// way: reload fresh state and try again, with the delay doubling between
// attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Classifier decides whether an error is worth another attempt. Errors it
// rejects propagate to the caller immediately.
type Classifier func(error) bool

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy matches the contention profile of bundle reconciliation:
// five attempts starting at 50ms and doubling (50, 100, 200, 400ms waits).
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}
}

// ErrExhausted wraps the last error once every attempt has been spent.
var ErrExhausted = errors.New("retry attempts exhausted")

// Do runs op until it succeeds, the classifier rejects its error, the
// context is canceled, or MaxAttempts is reached. op must reload any state
// it mutates on each call; Do never reuses state across attempts for it.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, retryable Classifier) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
