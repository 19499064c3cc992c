package ctxutil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/ctxutil"
	"github.com/ashita-ai/madoguchi/internal/model"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	assert.Empty(t, ctxutil.OperatorID(ctx))

	ctx = ctxutil.WithClaims(ctx, &auth.Claims{OperatorID: "desk-1", Role: model.RoleAgent})
	assert.Equal(t, "desk-1", ctxutil.OperatorID(ctx))
	assert.Equal(t, model.RoleAgent, ctxutil.ClaimsFromContext(ctx).Role)
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ctxutil.RequestID(ctx))
	assert.Equal(t, "req-1", ctxutil.RequestID(ctxutil.WithRequestID(ctx, "req-1")))
}
