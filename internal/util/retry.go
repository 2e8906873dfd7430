package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopbot-service/internal/models"
)

// RetryPolicy bounds retries of conditional writes
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is three attempts starting at 50ms
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

const maxRetryDelay = time.Second

// RetryOnConflict runs fn until it stops returning ErrConcurrencyConflict or
// the attempts are used up. The delay doubles after every conflict.
// resource labels the conflict metric.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, resource string, fn func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.Backoff

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, models.ErrConcurrencyConflict) {
			return err
		}
		ConcurrencyConflictsTotal.WithLabelValues(resource).Inc()

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", resource, attempts, err)
}
