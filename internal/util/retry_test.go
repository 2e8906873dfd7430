package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shopbot-service/internal/models"
)

func TestRetryOnConflict(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), policy, "test", func() error {
			calls++
			if calls < 3 {
				return models.ErrConcurrencyConflict
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up with conflict", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), policy, "test", func() error {
			calls++
			return models.ErrConcurrencyConflict
		})
		assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
		assert.Equal(t, 3, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := RetryOnConflict(context.Background(), policy, "test", func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryOnConflict(ctx, RetryPolicy{Attempts: 3, Backoff: time.Hour}, "test", func() error {
			return models.ErrConcurrencyConflict
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
