package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient SQLSTATEs: the statement or connection can succeed if tried again.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P03": true, // cannot_connect_now (server starting up)
	"53300": true, // too_many_connections
}

// isRetriable reports whether err is a transient Postgres failure. Failing to
// reach the server at all counts, so startup can wait for a database that is
// still coming up.
func isRetriable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return transientCodes[pgErr.Code]
}

// WithRetry runs fn until it succeeds, fails permanently, or has been retried
// maxRetries times. Waits double from baseDelay with up to baseDelay of jitter.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isRetriable(err) || attempt == maxRetries {
			return err
		}
		wait := baseDelay
		if baseDelay > 0 {
			wait += time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter only
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		baseDelay *= 2
	}
}
