// Package ctxutil holds the context keys shared by the HTTP server and the
// MCP tools. Both read the operator claims set by the auth middleware, so the
// accessors live here rather than in either package.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/madoguchi/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the token claims, or nil when the request was
// not authenticated.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// OperatorID returns the authenticated operator, or "" without claims.
func OperatorID(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.OperatorID
	}
	return ""
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the request id, or "" when none was set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}
