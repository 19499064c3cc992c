package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/ctxutil"
	"github.com/ashita-ai/madoguchi/internal/model"
)

// testLogger returns a logger for tests that only prints errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxutil.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	h.ServeHTTP(rec, req)
	assert.Len(t, seen, 36, "oversized ids are replaced with a UUID")
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestAuthMiddleware(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour, nil)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken(model.Operator{ID: uuid.New(), OperatorID: "op-1", Role: model.RoleAgent})
	require.NoError(t, err)

	var claims *auth.Claims
	h := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ctxutil.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path", "/health", "", http.StatusOK},
		{"missing header", "/v1/stats", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/stats", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "/v1/stats", "Bearer nope", http.StatusUnauthorized},
		{"valid", "/v1/stats", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	require.NotNil(t, claims)
	assert.Equal(t, "op-1", claims.OperatorID)
}

func TestRequireRole(t *testing.T) {
	h := requireRole(model.RoleAgent)(okHandler)

	for role, want := range map[model.OperatorRole]int{
		model.RoleViewer: http.StatusForbidden,
		model.RoleAgent:  http.StatusOK,
		model.RoleAdmin:  http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(ctxutil.WithClaims(req.Context(), &auth.Claims{OperatorID: "x", Role: role}))
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %s", role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnonymousMiddlewareActsAsAdmin(t *testing.T) {
	h := anonymousMiddleware(requireRole(model.RoleAdmin)(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/support/operations", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, model.ErrCodeInternalError, apiErr.Error.Code)
}

func TestRecoveryMiddleware_AbortHandlerPropagates(t *testing.T) {
	h := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Text string `json:"text"`
	}
	decode := func(payload string, maxBytes int64) (*httptest.ResponseRecorder, error) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/", strings.NewReader(payload))
		var b body
		err := decodeJSON(rec, req, &b, maxBytes)
		if err != nil {
			handleDecodeError(rec, req, err)
		}
		return rec, err
	}

	_, err := decode(`{"text":"hi"}`, 1024)
	assert.NoError(t, err)

	rec, err := decode(`{"text":"hi","extra":1}`, 1024)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, err = decode(`{"text":"hi"}{"text":"again"}`, 1024)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, err = decode(`{"text":"`+strings.Repeat("a", 100)+`"}`, 16)
	assert.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec, err = decode(``, 1024)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteListHasMore(t *testing.T) {
	rec := httptest.NewRecorder()
	writeList(rec, httptest.NewRequest("GET", "/", nil), []int{1, 2}, 2, 2)
	var resp model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.HasMore)
	assert.Equal(t, 2, resp.Total)

	rec = httptest.NewRecorder()
	writeList(rec, httptest.NewRequest("GET", "/", nil), []int{1}, 1, 2)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.HasMore)
}

func TestOperatorKeyFunc(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, operatorKeyFunc(req))

	agent := req.WithContext(ctxutil.WithClaims(req.Context(), &auth.Claims{OperatorID: "op-7", Role: model.RoleAgent}))
	assert.Equal(t, "operator:op-7", operatorKeyFunc(agent))

	admin := req.WithContext(ctxutil.WithClaims(req.Context(), &auth.Claims{OperatorID: "root", Role: model.RoleAdmin}))
	assert.Empty(t, operatorKeyFunc(admin), "admins are not rate limited")
}
