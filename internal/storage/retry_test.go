package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	assert.True(t, isRetriable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetriable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, isRetriable(&pgconn.PgError{Code: "57P03"}))
	assert.False(t, isRetriable(&pgconn.PgError{Code: "23505"}), "unique violation is permanent")
	assert.False(t, isRetriable(errors.New("boom")))
	assert.False(t, isRetriable(nil))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WithRetry(ctx, 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = WithRetry(ctx, 2, time.Millisecond, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "first attempt plus two retries")

	calls = 0
	err = WithRetry(ctx, 5, time.Millisecond, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 5, time.Hour, func() error {
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
