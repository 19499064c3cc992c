package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/classify"
	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/ctxutil"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/generate"
	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/routing"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	table, err := classify.DefaultTable()
	require.NoError(t, err)
	articles, err := knowledge.LoadCorpus("../knowledge/testdata/articles.jsonl")
	require.NoError(t, err)
	policy := escalation.New(config.DefaultThresholds())
	classifier := classify.New(table)
	retriever := knowledge.NewRetriever(articles, knowledge.DefaultLevels(), policy)
	mem := memory.New(memory.NewMapBackend(), memory.Options{CacheTTL: -1}, logger)
	wlog := workflowlog.New(workflowlog.NewMemorySink(), logger, 10_000, time.Hour)

	orch := workflow.New(workflow.Deps{
		Classifier:   classifier,
		Retriever:    retriever,
		Policy:       policy,
		Router:       routing.New(),
		Memory:       mem,
		Log:          wlog,
		Generator:    generate.NewTemplateGenerator(nil),
		Logger:       logger,
		StageTimeout: 2 * time.Second,
	})

	return New(Deps{
		Orchestrator: orch,
		Classifier:   classifier,
		Retriever:    retriever,
		Memory:       mem,
		Log:          wlog,
	}, logger, "test")
}

func operatorCtx(id string) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{OperatorID: id, Role: model.RoleAgent})
}

func callTool(t *testing.T, ctx context.Context, handler func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error), args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	result, err := handler(ctx, mcplib.CallToolRequest{Params: mcplib.CallToolParams{Arguments: args}})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	return result
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func decodeResult(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &m))
	return m
}

func TestSubmitTicket(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx("agent-1")

	out := decodeResult(t, callTool(t, ctx, s.handleSubmitTicket, map[string]any{
		"ticket_id": "T-100",
		"user_id":   "user_001",
		"text":      "How do I reserve an event?",
	}))
	assert.Equal(t, "T-100", out["ticket_id"])
	assert.Equal(t, string(model.StageCompletion), out["final_stage"])
	assert.Equal(t, false, out["escalated"])
	assert.Contains(t, out["response"], "Tap Reserve and confirm")
	arts, ok := out["articles"].([]any)
	require.True(t, ok)
	assert.LessOrEqual(t, len(arts), maxCompactArticles)
	assert.NotContains(t, out, "resubmitted")
}

func TestSubmitTicket_ResubmissionReturnsStoredOutcome(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx("agent-1")
	args := map[string]any{"ticket_id": "T-101", "user_id": "user_001", "text": "I need a human agent now"}

	first := decodeResult(t, callTool(t, ctx, s.handleSubmitTicket, args))
	second := decodeResult(t, callTool(t, ctx, s.handleSubmitTicket, args))

	assert.Equal(t, first["final_stage"], second["final_stage"])
	assert.Equal(t, true, second["resubmitted"])

	entries, err := s.Log.Query(context.Background(), model.LogFilter{TicketID: "T-101", Type: model.EntryTransition, Stage: model.StageSubmission})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the ticket ran once")

	// Another operator is not deduplicated against the first.
	third := decodeResult(t, callTool(t, operatorCtx("agent-2"), s.handleSubmitTicket, args))
	assert.NotContains(t, third, "resubmitted")
}

func TestSubmitTicket_MissingArguments(t *testing.T) {
	s := newTestServer(t)
	result := callTool(t, operatorCtx("agent-1"), s.handleSubmitTicket, map[string]any{"text": "hello"})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "required")
}

func TestClassifyTicket(t *testing.T) {
	s := newTestServer(t)
	out := decodeResult(t, callTool(t, context.Background(), s.handleClassify, map[string]any{
		"text": "I can't log into my account, password wrong",
	}))
	assert.Equal(t, string(model.CategoryTechnical), out["category"])
	assert.NotContains(t, out, "scores")

	result := callTool(t, context.Background(), s.handleClassify, map[string]any{"text": "   "})
	assert.True(t, result.IsError)
}

func TestSearchKnowledge(t *testing.T) {
	s := newTestServer(t)
	out := decodeResult(t, callTool(t, context.Background(), s.handleSearchKnowledge, map[string]any{
		"query": "How do I reserve an event?",
	}))
	assert.Equal(t, string(model.ConfidenceHigh), out["confidence_level"])
	assert.Equal(t, false, out["should_escalate"])
	arts := out["articles"].([]any)
	require.NotEmpty(t, arts)
	top := arts[0].(map[string]any)
	assert.Equal(t, "article-001", top["id"])
	assert.NotContains(t, top, "body")
}

func TestTicketLogs(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx("agent-1")
	decodeResult(t, callTool(t, ctx, s.handleSubmitTicket, map[string]any{
		"ticket_id": "T-102", "user_id": "user_001", "text": "I can't log into my account, password wrong",
	}))

	out := decodeResult(t, callTool(t, ctx, s.handleTicketLogs, map[string]any{
		"ticket_id": "T-102", "entry_type": "transition",
	}))
	entries := out["entries"].([]any)
	require.Len(t, entries, 6)
	assert.Equal(t, string(model.StageSubmission), entries[0].(map[string]any)["stage"])

	missing := callTool(t, ctx, s.handleTicketLogs, map[string]any{"ticket_id": "nope"})
	assert.True(t, missing.IsError)
}

func TestRememberAndRecall(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx("agent-1")

	bad := callTool(t, ctx, s.handleRemember, map[string]any{"user_id": "u1", "key": "preferences", "value": "{not json"})
	assert.True(t, bad.IsError)

	decodeResult(t, callTool(t, ctx, s.handleRemember, map[string]any{
		"user_id": "u1", "key": "preferences", "value": `{"language":"ja"}`,
	}))

	rec := decodeResult(t, callTool(t, ctx, s.handleRecall, map[string]any{"user_id": "u1", "key": "preferences"}))
	assert.Equal(t, map[string]any{"language": "ja"}, rec["value"])

	list := callTool(t, ctx, s.handleRecall, map[string]any{"user_id": "u1"})
	require.False(t, list.IsError)
	var recs []model.LongTermRecord
	require.NoError(t, json.Unmarshal([]byte(resultText(t, list)), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "preferences", recs[0].Key)

	miss := callTool(t, ctx, s.handleRecall, map[string]any{"user_id": "u1", "key": "nothing"})
	assert.True(t, miss.IsError)
	assert.Contains(t, resultText(t, miss), "nothing remembered")
}

func TestResources(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx("agent-1")
	decodeResult(t, callTool(t, ctx, s.handleSubmitTicket, map[string]any{
		"ticket_id": "T-103", "user_id": "user_001", "session_id": "chat-9", "text": "How do I reserve an event?",
	}))

	contents, err := s.handleTicket(ctx, mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: "madoguchi://tickets/T-103"}})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents).Text
	var outcome model.TicketOutcome
	require.NoError(t, json.Unmarshal([]byte(text), &outcome))
	assert.Equal(t, "T-103", outcome.TicketID)
	assert.Equal(t, "chat-9", outcome.SessionID)

	contents, err = s.handleSession(ctx, mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: "madoguchi://sessions/chat-9"}})
	require.NoError(t, err)
	var sum model.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(contents[0].(mcplib.TextResourceContents).Text), &sum))
	assert.Equal(t, "chat-9", sum.SessionID)

	contents, err = s.handleStats(ctx, mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: statsURI}})
	require.NoError(t, err)
	assert.Contains(t, contents[0].(mcplib.TextResourceContents).Text, "total_tickets")

	_, err = s.handleTicket(ctx, mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: "madoguchi://tickets/missing"}})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.handleSession(ctx, mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: "madoguchi://sessions/"}})
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleTriagePrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{Name: "triage-ticket", Arguments: map[string]string{"text": "My refund never arrived", "user_id": "user_007"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(mcplib.TextContent).Text
	assert.Contains(t, text, "My refund never arrived")
	assert.Contains(t, text, `user_id="user_007"`)

	_, err = s.handleTriagePrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{Name: "triage-ticket", Arguments: map[string]string{}},
	})
	assert.Error(t, err)

	setup, err := s.handleSetupPrompt(context.Background(), mcplib.GetPromptRequest{})
	require.NoError(t, err)
	assert.Contains(t, setup.Messages[0].Content.(mcplib.TextContent).Text, "submit_ticket")
}

func TestSubmissionTracker(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := newSubmissionTracker(time.Minute)
	tr.now = func() time.Time { return now }

	assert.False(t, tr.Seen("op", "T-1"))
	tr.Record("op", "T-1")
	assert.True(t, tr.Seen("op", "T-1"))
	assert.False(t, tr.Seen("other", "T-1"))

	now = now.Add(2 * time.Minute)
	assert.False(t, tr.Seen("op", "T-1"))
	assert.Empty(t, tr.seen)
}
