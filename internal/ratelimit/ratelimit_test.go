package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterBurstAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := newMemoryLimiter(2, 3, clock.now)
	ctx := context.Background()

	for i := range 3 {
		ok, err := m.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, _ := m.Allow(ctx, "k")
	assert.False(t, ok, "burst exhausted")

	ok, _ = m.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")

	clock.advance(500 * time.Millisecond)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "one token refilled")
	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok)

	clock.advance(time.Hour)
	for range 3 {
		ok, _ = m.Allow(ctx, "k")
		assert.True(t, ok, "refill is capped at burst")
	}
	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := newMemoryLimiter(1, 1, clock.now)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "old")
	clock.advance(staleAfter + time.Second)
	_, _ = m.Allow(ctx, "fresh")
	m.evictStale()
	assert.Equal(t, 1, m.size())
}

func TestMemoryLimiterCloseTwice(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingLimiter) Close() error { return nil }

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	reqID := func(*http.Request) string { return "req-9" }

	t.Run("rejects over limit", func(t *testing.T) {
		h := Middleware(newMemoryLimiter(0, 1, time.Now), IPKeyFunc, reqID, nil)(ok)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))

		var body model.APIError
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
		assert.Equal(t, "req-9", body.Meta.RequestID)
	})

	t.Run("empty key skips", func(t *testing.T) {
		h := Middleware(newMemoryLimiter(0, 1, time.Now), func(*http.Request) string { return "" }, nil, nil)(ok)
		for range 3 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		h := Middleware(failingLimiter{}, IPKeyFunc, nil, nil)(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "ip:::1", IPKeyFunc(req))
	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", IPKeyFunc(req))
}
