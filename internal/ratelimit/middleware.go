package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// KeyFunc picks the rate limit key for a request. An empty key skips the
// limit for that request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc reads the request id for the error envelope.
type RequestIDFunc func(r *http.Request) string

// Middleware rejects requests over the limit with 429 and a Retry-After of
// one second. A limiter error lets the request through.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqID RequestIDFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				if logger != nil {
					logger.Warn("ratelimit: limiter error, allowing request", "key", key, "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				var id string
				if reqID != nil {
					id = reqID(r)
				}
				w.Header().Set("Retry-After", "1")
				writeRateLimitError(w, id)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: model.ErrCodeRateLimited, Message: "too many requests"},
		Meta:  model.ResponseMeta{RequestID: requestID, Timestamp: time.Now().UTC()},
	})
}

// IPKeyFunc keys by the RemoteAddr host. X-Forwarded-For is ignored since
// any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return "ip:" + host
}
