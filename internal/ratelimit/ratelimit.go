// Package ratelimit throttles API callers per key.
package ratelimit

import "context"

// Limiter decides whether a request identified by key may proceed.
// Implementations must be safe for concurrent use. An error means the
// limiter itself failed; callers let the request through.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter permits every request.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }
