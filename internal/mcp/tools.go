package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/madoguchi/internal/ctxutil"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("submit_ticket",
			mcplib.WithDescription(`Run a customer-support ticket through the full pipeline: classification,
knowledge retrieval, escalation policy, routing and a resolution attempt.

WHAT YOU GET BACK: the final stage (completion or escalation), the response
text for the customer, the category/priority, the handlers consulted and the
top knowledge articles. Escalated tickets carry the escalation reason.

Submitting the same ticket_id again within ten minutes returns the first
outcome instead of processing it twice.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("text", mcplib.Description("The customer's message"), mcplib.Required()),
			mcplib.WithString("user_id", mcplib.Description("Customer identifier"), mcplib.Required()),
			mcplib.WithString("ticket_id", mcplib.Description("Ticket identifier. Generated when omitted.")),
			mcplib.WithString("session_id", mcplib.Description("Conversation the ticket belongs to")),
			mcplib.WithString("user_type", mcplib.Description("Account tier, e.g. premium or standard")),
			mcplib.WithNumber("previous_tickets", mcplib.Description("Number of earlier tickets from this customer"), mcplib.Min(0)),
		),
		s.handleSubmitTicket,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("classify_ticket",
			mcplib.WithDescription("Classify ticket text into category, priority and complexity with an urgency score. Nothing is recorded."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("text", mcplib.Description("Ticket text"), mcplib.Required()),
			mcplib.WithString("user_type", mcplib.Description("Account tier")),
		),
		s.handleClassify,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("search_knowledge",
			mcplib.WithDescription("Search the help-center knowledge base. Returns ranked articles, a confidence level and a draft answer. Nothing is recorded."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query", mcplib.Description("Natural language question"), mcplib.Required()),
		),
		s.handleSearchKnowledge,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("ticket_logs",
			mcplib.WithDescription("Read the workflow log of one ticket: stage transitions, decisions, routing, tool usage and errors, oldest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("ticket_id", mcplib.Description("Ticket identifier"), mcplib.Required()),
			mcplib.WithString("entry_type", mcplib.Description("Only entries of this type"),
				mcplib.Enum("transition", "decision", "routing", "tool_usage", "error")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum entries"), mcplib.Min(1), mcplib.Max(1000), mcplib.DefaultNumber(100)),
		),
		s.handleTicketLogs,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("remember",
			mcplib.WithDescription("Store a value in a customer's long-term memory, e.g. preferences. The value must be JSON."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("user_id", mcplib.Description("Customer identifier"), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Memory key"), mcplib.Required()),
			mcplib.WithString("value", mcplib.Description("JSON value to store"), mcplib.Required()),
		),
		s.handleRemember,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("recall",
			mcplib.WithDescription("Read a customer's long-term memory. With key, returns that value; without, lists every key."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("user_id", mcplib.Description("Customer identifier"), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Memory key")),
		),
		s.handleRecall,
	)
}

func (s *Server) handleSubmitTicket(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	userID := request.GetString("user_id", "")
	if strings.TrimSpace(text) == "" || userID == "" {
		return errorResult("text and user_id are required"), nil
	}

	md := model.TicketMetadata{
		UserID:          userID,
		SessionID:       request.GetString("session_id", ""),
		AccountTier:     request.GetString("user_type", ""),
		PreviousTickets: request.GetInt("previous_tickets", 0),
	}
	t := model.NewTicket(request.GetString("ticket_id", ""), text, md)

	operator := ctxutil.OperatorID(ctx)
	if s.recent.Seen(operator, t.ID) {
		if prev, err := s.Orchestrator.Outcome(ctx, t.ID); err == nil {
			out := compactOutcome(prev)
			out["resubmitted"] = true
			return jsonResult(out), nil
		}
	}

	outcome, err := s.Orchestrator.Process(ctx, t)
	if err != nil {
		return errorResult(fmt.Sprintf("ticket rejected: %v", err)), nil
	}
	s.recent.Record(operator, t.ID)
	s.logger.Info("mcp: ticket submitted", "ticket_id", t.ID, "operator_id", operator, "final_stage", outcome.FinalStage)
	return jsonResult(compactOutcome(outcome)), nil
}

func (s *Server) handleClassify(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return errorResult("text is required"), nil
	}
	res := s.Classifier.Classify(text, model.TicketMetadata{AccountTier: request.GetString("user_type", "")})
	res.Scores = nil
	return jsonResult(res), nil
}

func (s *Server) handleSearchKnowledge(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return errorResult("query is required"), nil
	}
	return jsonResult(compactRetrieval(s.Retriever.Retrieve(query, nil))), nil
}

func (s *Server) handleTicketLogs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ticketID := request.GetString("ticket_id", "")
	if ticketID == "" {
		return errorResult("ticket_id is required"), nil
	}
	entries, err := s.Log.Query(ctx, model.LogFilter{
		TicketID: ticketID,
		Type:     model.EntryType(request.GetString("entry_type", "")),
		Limit:    request.GetInt("limit", 100),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	if len(entries) == 0 {
		return errorResult("no log entries for ticket " + ticketID), nil
	}

	lines := make([]map[string]any, len(entries))
	for i, e := range entries {
		lines[i] = map[string]any{
			"stage":      e.Stage,
			"entry_type": e.Type,
			"severity":   e.Severity,
			"message":    e.Message,
			"created_at": e.CreatedAt,
		}
		if len(e.Payload) > 0 {
			lines[i]["payload"] = e.Payload
		}
	}
	return jsonResult(map[string]any{"ticket_id": ticketID, "entries": lines}), nil
}

func (s *Server) handleRemember(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	key := request.GetString("key", "")
	raw := request.GetString("value", "")
	if userID == "" || key == "" || raw == "" {
		return errorResult("user_id, key and value are required"), nil
	}
	if !json.Valid([]byte(raw)) {
		return errorResult("value must be valid JSON"), nil
	}
	if err := s.Memory.PutLongTerm(ctx, userID, key, json.RawMessage(raw)); err != nil {
		return errorResult(fmt.Sprintf("store failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"user_id": userID, "key": key, "stored": true}), nil
}

func (s *Server) handleRecall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	if userID == "" {
		return errorResult("user_id is required"), nil
	}
	key := request.GetString("key", "")
	if key == "" {
		recs, err := s.Memory.ListLongTerm(ctx, userID)
		if err != nil {
			return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
		}
		return jsonResult(recs), nil
	}
	rec, err := s.Memory.GetLongTerm(ctx, userID, key)
	if errors.Is(err, memory.ErrNotFound) {
		return errorResult(fmt.Sprintf("nothing remembered for %s/%s", userID, key)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
	}
	return jsonResult(rec), nil
}
