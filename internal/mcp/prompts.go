package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// triage-ticket: walks the assistant through classifying and answering one message.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("triage-ticket",
			mcplib.WithPromptDescription("Triage a customer message: classify, check the knowledge base, then submit"),
			mcplib.WithArgument("text",
				mcplib.ArgumentDescription("The customer's message"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("user_id",
				mcplib.ArgumentDescription("Customer identifier, if known"),
			),
		),
		s.handleTriagePrompt,
	)

	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("support-agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the madoguchi tools and when to use each"),
		),
		s.handleSetupPrompt,
	)
}

func (s *Server) handleTriagePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	text := request.Params.Arguments["text"]
	if text == "" {
		return nil, fmt.Errorf("text argument is required")
	}
	userID := request.Params.Arguments["user_id"]
	if userID == "" {
		userID = "anonymous"
	}

	return &mcplib.GetPromptResult{
		Description: "Triage one customer message",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`A customer (user_id=%q) wrote:

%s

1. CALL classify_ticket with this text. Note the category and priority.
2. CALL recall with user_id=%q to see what we already know about them.
3. CALL search_knowledge with the text. If confidence_level is high, the
   draft response is usually enough.
4. CALL submit_ticket with text and user_id to run the full pipeline and
   record the outcome. If the outcome is escalated, tell the customer a
   specialist will follow up and quote the escalation reason internally.
5. If the customer stated a lasting preference, CALL remember to store it.`, userID, text, userID),
				},
			},
		},
	}, nil
}

func (s *Server) handleSetupPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "madoguchi support workflow for assistants",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to madoguchi, a support-ticket pipeline. Every ticket it
processes is classified, matched against the knowledge base, checked against
the escalation policy, routed to one or more handlers and answered or
escalated. Every step is written to an append-only workflow log.

## Tools

- submit_ticket: process a ticket end to end and record the outcome
- classify_ticket: category, priority, complexity and urgency only
- search_knowledge: ranked help-center articles and a draft answer
- ticket_logs: the workflow log of a processed ticket
- remember / recall: per-customer long-term memory

## Resources

- madoguchi://stats
- madoguchi://tickets/{id}
- madoguchi://sessions/{id}

## Escalation

Tickets are escalated when the customer is blocked, the message mentions
legal action or fraud, the priority is critical, or the knowledge base has
no confident answer. Never promise a refund or account change yourself;
escalated tickets go to a human specialist.`,
				},
			},
		},
	}, nil
}
