package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashita-ai/madoguchi/internal/model"
)

func ticketFromRequest(req model.SubmitTicketRequest) model.Ticket {
	return model.NewTicket(req.TicketID, req.Text, req.Metadata)
}

// HandleSubmitTicket handles POST /v1/tickets. The ticket is processed
// synchronously and the outcome returned.
func (h *Handlers) HandleSubmitTicket(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitTicketRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	out, err := h.orchestrator.Process(r.Context(), ticketFromRequest(req))
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, verr.Error())
			return
		}
		h.logger.Error("tickets: process failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "ticket processing failed")
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleBatchSubmit handles POST /v1/tickets/batch.
func (h *Handlers) HandleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.BatchSubmitRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Tickets) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "tickets must not be empty")
		return
	}
	if len(req.Tickets) > maxBatchSize {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("at most %d tickets per batch", maxBatchSize))
		return
	}

	tickets := make([]model.Ticket, len(req.Tickets))
	for i, t := range req.Tickets {
		tickets[i] = ticketFromRequest(t)
	}
	results, err := h.orchestrator.ProcessBatch(r.Context(), tickets, h.batchWorkers)
	if err != nil {
		h.logger.Warn("tickets: batch interrupted", "error", err, "tickets", len(tickets))
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "batch interrupted: "+err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// HandleGetTicket handles GET /v1/tickets/{id}.
func (h *Handlers) HandleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := h.orchestrator.Outcome(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "ticket not found")
		return
	}
	if err != nil {
		h.logger.Error("tickets: get outcome", "ticket_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load ticket")
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleTicketLogs handles GET /v1/tickets/{id}/logs.
func (h *Handlers) HandleTicketLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, maxListLimit)
	entries, err := h.log.Query(r.Context(), model.LogFilter{TicketID: r.PathValue("id"), Limit: limit})
	if err != nil {
		h.logger.Error("logs: query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to query logs")
		return
	}
	writeList(w, r, entries, len(entries), limit)
}

// HandleTicketSummary handles GET /v1/tickets/{id}/summary.
func (h *Handlers) HandleTicketSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := h.log.TicketSummary(r.Context(), id)
	if err != nil {
		h.logger.Error("logs: summary failed", "ticket_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to summarize ticket")
		return
	}
	if summary.TotalEntries == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no log entries for ticket")
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// logFilter builds a LogFilter from query parameters.
func logFilter(r *http.Request) (model.LogFilter, error) {
	q := r.URL.Query()
	f := model.LogFilter{
		TicketID:  q.Get("ticket_id"),
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
		Stage:     model.Stage(q.Get("stage")),
		Type:      model.EntryType(q.Get("type")),
		Severity:  model.Severity(q.Get("severity")),
		Limit:     queryLimit(r, defaultListLimit),
	}
	var err error
	if f.Since, err = queryTime(r, "since"); err != nil {
		return f, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = queryTime(r, "until"); err != nil {
		return f, fmt.Errorf("until: %w", err)
	}
	return f, nil
}

// HandleQueryLogs handles GET /v1/logs.
func (h *Handlers) HandleQueryLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid time filter: "+err.Error())
		return
	}
	entries, err := h.log.Query(r.Context(), f)
	if err != nil {
		h.logger.Error("logs: query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to query logs")
		return
	}
	writeList(w, r, entries, len(entries), f.Limit)
}

// HandleStreamLogs handles GET /v1/logs/stream, a Server-Sent Events feed of
// new workflow log entries matching the same filters as GET /v1/logs.
func (h *Handlers) HandleStreamLogs(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "log streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}
	f, err := logFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid time filter: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.broker.Subscribe(f)
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleStats handles GET /v1/stats over the most recent outcomes.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orchestrator.Statistics(r.Context(), queryLimit(r, maxListLimit))
	if err != nil {
		h.logger.Error("stats: failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to compute statistics")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
