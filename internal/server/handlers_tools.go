package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
)

// HandleClassify handles POST /v1/classify. Nothing is recorded.
func (h *Handlers) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var req model.ClassifyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.classifier.Classify(req.Text, req.Metadata))
}

// HandleKnowledgeSearch handles POST /v1/knowledge/search.
func (h *Handlers) HandleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	var req model.KnowledgeSearchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	writeJSON(w, r, http.StatusOK, h.retriever.Retrieve(req.Query, req.Metadata))
}

// HandleGetSession handles GET /v1/sessions/{id...}. Caller session ids may
// contain a slash. ?full=true returns the whole session context instead of
// the summary.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		data any
		err  error
	)
	if r.URL.Query().Get("full") == "true" {
		data, err = h.memory.Session(id)
	} else {
		data, err = h.memory.Summary(id)
	}
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found or expired")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load session")
		return
	}
	writeJSON(w, r, http.StatusOK, data)
}

// HandleListMemory handles GET /v1/users/{id}/memory.
func (h *Handlers) HandleListMemory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.memory.ListLongTerm(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("memory: list failed", "user_id", r.PathValue("id"), "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list memory")
		return
	}
	writeList(w, r, recs, len(recs), 0)
}

// HandleGetMemory handles GET /v1/users/{id}/memory/{key}.
func (h *Handlers) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.memory.GetLongTerm(r.Context(), r.PathValue("id"), r.PathValue("key"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "memory key not found")
		return
	}
	if err != nil {
		h.logger.Error("memory: get failed", "user_id", r.PathValue("id"), "key", r.PathValue("key"), "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load memory")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

type putMemoryRequest struct {
	Value json.RawMessage `json:"value"`
}

// HandlePutMemory handles PUT /v1/users/{id}/memory/{key}.
func (h *Handlers) HandlePutMemory(w http.ResponseWriter, r *http.Request) {
	var req putMemoryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Value) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "value is required")
		return
	}
	userID, key := r.PathValue("id"), r.PathValue("key")
	if err := h.memory.PutLongTerm(r.Context(), userID, key, req.Value); err != nil {
		h.logger.Error("memory: put failed", "user_id", userID, "key", key, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to store memory")
		return
	}
	rec, err := h.memory.GetLongTerm(r.Context(), userID, key)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load memory")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// operationStatus maps an operation outcome to an HTTP status. The result
// itself is always returned as data.
func operationStatus(res model.OperationResult) int {
	switch res.Status {
	case model.StatusSuccess:
		return http.StatusOK
	case model.StatusNotFound:
		return http.StatusNotFound
	case model.StatusValidationError:
		return http.StatusUnprocessableEntity
	case model.StatusPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func (h *Handlers) supportEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.support == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "support data access is not configured")
		return false
	}
	return true
}

// HandleLookupAccount handles POST /v1/support/accounts/lookup.
func (h *Handlers) HandleLookupAccount(w http.ResponseWriter, r *http.Request) {
	if !h.supportEnabled(w, r) {
		return
	}
	var req model.LookupAccountRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res := h.support.LookupAccount(r.Context(), req.Identifier, req.IdentifierType)
	writeJSON(w, r, operationStatus(res), res)
}

// HandleManageSubscription handles POST /v1/support/subscriptions.
func (h *Handlers) HandleManageSubscription(w http.ResponseWriter, r *http.Request) {
	if !h.supportEnabled(w, r) {
		return
	}
	var req model.ManageSubscriptionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res := h.support.ManageSubscription(r.Context(), req.UserID, req.Action, req.Params)
	writeJSON(w, r, operationStatus(res), res)
}

// HandleProcessRefund handles POST /v1/support/refunds.
func (h *Handlers) HandleProcessRefund(w http.ResponseWriter, r *http.Request) {
	if !h.supportEnabled(w, r) {
		return
	}
	var req model.ProcessRefundRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res := h.support.ProcessRefund(r.Context(), req.UserID, req.ReservationID, req.Reason, req.Amount)
	writeJSON(w, r, operationStatus(res), res)
}

// HandleListOperations handles GET /v1/support/operations, the audit log of
// data-access operations.
func (h *Handlers) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	if !h.supportEnabled(w, r) {
		return
	}
	limit := queryLimit(r, defaultListLimit)
	ops, err := h.support.Operations(r.Context(), limit)
	if err != nil {
		h.logger.Error("support: list operations failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list operations")
		return
	}
	writeList(w, r, ops, len(ops), limit)
}
