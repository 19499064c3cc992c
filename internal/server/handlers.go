package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/classify"
	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBatchSize     = 500
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	orchestrator        *workflow.Orchestrator
	classifier          *classify.Classifier
	retriever           *knowledge.Retriever
	memory              *memory.Store
	log                 *workflowlog.Log
	support             *support.Service
	authn               *auth.Authenticator
	broker              *Broker
	ping                func(context.Context) error
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	batchWorkers        int
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds the dependencies for constructing Handlers.
// Optional (nil-safe): Support, Authenticator, Broker, Ping, OpenAPISpec.
type HandlersDeps struct {
	Orchestrator        *workflow.Orchestrator
	Classifier          *classify.Classifier
	Retriever           *knowledge.Retriever
	Memory              *memory.Store
	Log                 *workflowlog.Log
	Support             *support.Service
	Authenticator       *auth.Authenticator
	Broker              *Broker
	Ping                func(context.Context) error
	Logger              *slog.Logger
	Version             string
	BatchWorkers        int
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates Handlers.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.BatchWorkers <= 0 {
		d.BatchWorkers = 4
	}
	return &Handlers{
		orchestrator:        d.Orchestrator,
		classifier:          d.Classifier,
		retriever:           d.Retriever,
		memory:              d.Memory,
		log:                 d.Log,
		support:             d.Support,
		authn:               d.Authenticator,
		broker:              d.Broker,
		ping:                d.Ping,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		batchWorkers:        d.BatchWorkers,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	storage := "ok"
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.logger.Warn("health: storage ping failed", "error", err)
			status, code, storage = "unhealthy", http.StatusServiceUnavailable, "unreachable"
		}
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"storage":        storage,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"sessions":       h.memory.Stats(),
		"articles":       h.retriever.Size(),
		"log_pending":    h.log.Len(),
		"log_dropped":    h.log.Dropped(),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.authn == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.OperatorID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "operator_id and api_key are required")
		return
	}

	token, op, err := h.authn.Authenticate(r.Context(), req.OperatorID, req.APIKey)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("auth: token exchange failed", "operator_id", req.OperatorID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not issue token")
		return
	}
	claims, err := h.authn.JWT().ValidateToken(token)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not issue token")
		return
	}
	h.logger.Info("auth: token issued", "operator_id", op.OperatorID, "role", op.Role)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time})
}

// createOperatorRequest is the body of POST /v1/operators.
type createOperatorRequest struct {
	OperatorID string             `json:"operator_id"`
	Name       string             `json:"name"`
	Role       model.OperatorRole `json:"role"`
	APIKey     string             `json:"api_key"`
}

// HandleCreateOperator handles POST /v1/operators (admin only).
func (h *Handlers) HandleCreateOperator(w http.ResponseWriter, r *http.Request) {
	if h.authn == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}
	var req createOperatorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.APIKey) < 16 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key must be at least 16 characters")
		return
	}
	op, err := h.authn.CreateOperator(r.Context(), req.OperatorID, req.Name, req.Role, req.APIKey)
	if err != nil {
		h.logger.Warn("auth: create operator failed", "operator_id", req.OperatorID, "error", err)
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, op)
}

// queryLimit parses ?limit= clamped to [1, maxListLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	return min(n, maxListLimit)
}

// queryTime parses an RFC 3339 query parameter. Absent means nil.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
