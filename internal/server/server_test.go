package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/api"
	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/classify"
	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/generate"
	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/mcp"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/ratelimit"
	"github.com/ashita-ai/madoguchi/internal/routing"
	"github.com/ashita-ai/madoguchi/internal/server"
	"github.com/ashita-ai/madoguchi/internal/storage/sqlite"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

var (
	testSrv     *httptest.Server
	adminToken  string
	agentToken  string
	viewerToken string
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())

	dir, err := os.MkdirTemp("", "madoguchi-server-test")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := sqlite.New(ctx, filepath.Join(dir, "madoguchi.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	seed, err := support.LoadSeed("../support/testdata/customers.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load seed: %v\n", err)
		os.Exit(1)
	}
	if err := store.SeedCustomers(ctx, seed); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed customers: %v\n", err)
		os.Exit(1)
	}

	table, err := classify.DefaultTable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load keyword table: %v\n", err)
		os.Exit(1)
	}
	articles, err := knowledge.LoadCorpus("../knowledge/testdata/articles.jsonl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load corpus: %v\n", err)
		os.Exit(1)
	}

	broker := server.NewBroker(logger)
	wlog := workflowlog.New(broker.Sink(store), logger, 10_000, 50*time.Millisecond)
	wlog.Start(ctx)
	mem := memory.New(store, memory.Options{}, logger)
	policy := escalation.New(config.DefaultThresholds())
	classifier := classify.New(table)
	retriever := knowledge.NewRetriever(articles, knowledge.DefaultLevels(), policy)
	supportSvc := support.NewService(store, logger)

	orch := workflow.New(workflow.Deps{
		Classifier:   classifier,
		Retriever:    retriever,
		Policy:       policy,
		Router:       routing.New(),
		Memory:       mem,
		Log:          wlog,
		Generator:    generate.NewTemplateGenerator(nil),
		Support:      supportSvc,
		Outcomes:     store,
		Logger:       logger,
		StageTimeout: 5 * time.Second,
	})

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create jwt manager: %v\n", err)
		os.Exit(1)
	}
	authn := auth.NewAuthenticator(store, jwtMgr, logger)
	if err := authn.BootstrapAdmin(ctx, "test-admin-key-0123"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap admin: %v\n", err)
		os.Exit(1)
	}

	mcpSrv := mcp.New(mcp.Deps{
		Orchestrator: orch,
		Classifier:   classifier,
		Retriever:    retriever,
		Memory:       mem,
		Log:          wlog,
	}, logger, "test")

	srv := server.New(server.ServerConfig{
		Handlers: server.HandlersDeps{
			Orchestrator:        orch,
			Classifier:          classifier,
			Retriever:           retriever,
			Memory:              mem,
			Log:                 wlog,
			Support:             supportSvc,
			Broker:              broker,
			Ping:                store.Ping,
			Version:             "test",
			MaxRequestBodyBytes: 1 << 20,
			OpenAPISpec:         api.OpenAPISpec,
		},
		Authenticator: authn,
		Limiter:       ratelimit.NoopLimiter{},
		MCPServer:     mcpSrv.MCPServer(),
		Logger:        logger,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	})

	testSrv = httptest.NewServer(srv.Handler())

	adminToken = getToken(testSrv.URL, "admin", "test-admin-key-0123")
	createOperator(testSrv.URL, adminToken, "test-agent", model.RoleAgent, "test-agent-key-0123")
	createOperator(testSrv.URL, adminToken, "test-viewer", model.RoleViewer, "test-viewer-key-0123")
	agentToken = getToken(testSrv.URL, "test-agent", "test-agent-key-0123")
	viewerToken = getToken(testSrv.URL, "test-viewer", "test-viewer-key-0123")

	code := m.Run()

	testSrv.Close()
	cancel()
	wlog.Drain(context.Background())
	_ = store.Close()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func getToken(baseURL, operatorID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{OperatorID: operatorID, APIKey: apiKey})
	resp, err := http.Post(baseURL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("getToken: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("getToken: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("getToken: unmarshal failed: %v, body: %s", err, string(data)))
	}
	if result.Data.Token == "" {
		panic(fmt.Sprintf("getToken: empty token, body: %s", string(data)))
	}
	return result.Data.Token
}

func createOperator(baseURL, token, operatorID string, role model.OperatorRole, apiKey string) {
	resp, err := authedRequest("POST", baseURL+"/v1/operators", token, map[string]any{
		"operator_id": operatorID, "name": operatorID, "role": role, "api_key": apiKey,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		panic(fmt.Sprintf("createOperator: status %d, body: %s", resp.StatusCode, string(data)))
	}
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// decodeData reads the response envelope into target.
func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(data, &envelope), string(data))
	require.NoError(t, json.Unmarshal(envelope.Data, target), string(data))
}

func submitTicket(t *testing.T, req model.SubmitTicketRequest) model.TicketOutcome {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/tickets", agentToken, req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out model.TicketOutcome
	decodeData(t, resp, &out)
	return out
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var result map[string]any
	decodeData(t, resp, &result)
	assert.Equal(t, "healthy", result["status"])
	assert.Equal(t, "ok", result["storage"])
	assert.Equal(t, "test", result["version"])
}

func TestOpenAPISpec(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/v1/tickets:")
}

func TestAuthFlow(t *testing.T) {
	token := getToken(testSrv.URL, "admin", "test-admin-key-0123")
	assert.NotEmpty(t, token)

	body, _ := json.Marshal(model.AuthTokenRequest{OperatorID: "admin", APIKey: "wrong"})
	resp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, _ = json.Marshal(model.AuthTokenRequest{OperatorID: "nobody", APIKey: "whatever-key"})
	resp2, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := authedRequest("GET", testSrv.URL+"/v1/stats", "not-a-token", nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestRoleEnforcement(t *testing.T) {
	// Viewers read but cannot submit.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/tickets", viewerToken,
		model.SubmitTicketRequest{Text: "hello", Metadata: model.TicketMetadata{UserID: "user_001"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/stats", viewerToken, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Only admins create operators or read the operation audit log.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/operators", agentToken, map[string]any{
		"operator_id": "sneaky", "name": "sneaky", "role": "admin", "api_key": "sneaky-key-0123456",
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/support/operations", agentToken, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubmitTicketAndReadBack(t *testing.T) {
	out := submitTicket(t, model.SubmitTicketRequest{
		TicketID: "HTTP-1",
		Text:     "I can't log into my account, password wrong",
		Metadata: model.TicketMetadata{UserID: "user_001", SessionID: "chat-1"},
	})
	assert.Equal(t, "HTTP-1", out.TicketID)
	assert.Equal(t, "chat-1/HTTP-1", out.SessionID)
	assert.Equal(t, model.StageCompletion, out.FinalStage)
	require.NotNil(t, out.Classification)
	assert.Equal(t, model.CategoryTechnical, out.Classification.Category)

	resp, err := authedRequest("GET", testSrv.URL+"/v1/tickets/HTTP-1", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stored model.TicketOutcome
	decodeData(t, resp, &stored)
	assert.Equal(t, out.FinalStage, stored.FinalStage)
	assert.Equal(t, out.Response, stored.Response)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/tickets/HTTP-1/logs", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []model.WorkflowLogEntry
	decodeData(t, resp, &entries)
	require.NotEmpty(t, entries)
	assert.Equal(t, model.StageSubmission, entries[0].Stage)
	assert.Equal(t, model.EntryTransition, entries[0].Type)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/tickets/HTTP-1/summary", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary model.TicketLogSummary
	decodeData(t, resp, &summary)
	assert.Equal(t, len(entries), summary.TotalEntries)
	assert.Zero(t, summary.Tampered)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/sessions/chat-1", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess model.SessionSummary
	decodeData(t, resp, &sess)
	assert.Equal(t, "chat-1", sess.SessionID)
	assert.Equal(t, model.StageCompletion, sess.Stage)
}

func TestSubmitTicketValidation(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/tickets", agentToken,
		model.SubmitTicketRequest{Text: "no user id"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var apiErr model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, model.ErrCodeInvalidInput, apiErr.Error.Code)
	assert.Contains(t, apiErr.Error.Message, "user_id")
}

func TestSubmitTicketRejectsUnknownFields(t *testing.T) {
	req, _ := http.NewRequest("POST", testSrv.URL+"/v1/tickets", strings.NewReader(`{"text":"hi","bogus":1}`))
	req.Header.Set("Authorization", "Bearer "+agentToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTicketNotFound(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/tickets/never-submitted", viewerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchSubmit(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/tickets/batch", agentToken, model.BatchSubmitRequest{
		Tickets: []model.SubmitTicketRequest{
			{TicketID: "B-1", Text: "How do I reserve an event?", Metadata: model.TicketMetadata{UserID: "user_002"}},
			{TicketID: "B-2", Text: "no user"},
			{TicketID: "B-3", Text: "I need a human agent now", Metadata: model.TicketMetadata{UserID: "user_002"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []workflow.BatchResult
	decodeData(t, resp, &results)
	require.Len(t, results, 3)
	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, "B-1", results[0].Outcome.TicketID)
	assert.Nil(t, results[1].Outcome)
	assert.NotEmpty(t, results[1].Error)
	require.NotNil(t, results[2].Outcome)
	assert.Equal(t, model.StageEscalation, results[2].Outcome.FinalStage)

	empty, err := authedRequest("POST", testSrv.URL+"/v1/tickets/batch", agentToken, model.BatchSubmitRequest{})
	require.NoError(t, err)
	_ = empty.Body.Close()
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	submitTicket(t, model.SubmitTicketRequest{
		TicketID: "STATS-1", Text: "How do I reserve an event?", Metadata: model.TicketMetadata{UserID: "user_002"},
	})
	resp, err := authedRequest("GET", testSrv.URL+"/v1/stats", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats model.StatsResponse
	decodeData(t, resp, &stats)
	assert.GreaterOrEqual(t, stats.Routing.TotalTickets, 1)
}

func TestQueryLogs(t *testing.T) {
	submitTicket(t, model.SubmitTicketRequest{
		TicketID: "LOGS-1", Text: "URGENT I need a human agent now", Metadata: model.TicketMetadata{UserID: "user_002"},
	})

	resp, err := authedRequest("GET", testSrv.URL+"/v1/logs?ticket_id=LOGS-1&type=routing", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []model.WorkflowLogEntry
	decodeData(t, resp, &entries)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "LOGS-1", e.TicketID)
		assert.Equal(t, model.EntryRouting, e.Type)
	}

	bad, err := authedRequest("GET", testSrv.URL+"/v1/logs?since=yesterday", viewerToken, nil)
	require.NoError(t, err)
	_ = bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestClassifyAndSearchEndpoints(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/classify", viewerToken,
		model.ClassifyRequest{Text: "I want a refund for my last reservation"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cls model.ClassificationResult
	decodeData(t, resp, &cls)
	assert.Equal(t, model.CategoryBilling, cls.Category)

	resp, err = authedRequest("POST", testSrv.URL+"/v1/knowledge/search", viewerToken,
		model.KnowledgeSearchRequest{Query: "How do I reserve an event?"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.RetrievalResult
	decodeData(t, resp, &res)
	require.NotEmpty(t, res.Articles)
	assert.Equal(t, model.ConfidenceHigh, res.Level)

	resp, err = authedRequest("POST", testSrv.URL+"/v1/knowledge/search", viewerToken, model.KnowledgeSearchRequest{})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLongTermMemoryEndpoints(t *testing.T) {
	resp, err := authedRequest("PUT", testSrv.URL+"/v1/users/user_009/memory/preferences", agentToken,
		map[string]any{"value": map[string]any{"channel": "email"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec model.LongTermRecord
	decodeData(t, resp, &rec)
	assert.JSONEq(t, `{"channel":"email"}`, string(rec.Value))

	resp, err = authedRequest("GET", testSrv.URL+"/v1/users/user_009/memory/preferences", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &rec)
	assert.Equal(t, "preferences", rec.Key)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/users/user_009/memory", viewerToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []model.LongTermRecord
	decodeData(t, resp, &recs)
	assert.Len(t, recs, 1)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/users/user_009/memory/missing", viewerToken, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = authedRequest("PUT", testSrv.URL+"/v1/users/user_009/memory/preferences", viewerToken,
		map[string]any{"value": 1})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSupportEndpoints(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/support/accounts/lookup", agentToken,
		model.LookupAccountRequest{Identifier: "alice@example.com"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.OperationResult
	decodeData(t, resp, &res)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.OperationID)

	resp, err = authedRequest("POST", testSrv.URL+"/v1/support/accounts/lookup", agentToken,
		model.LookupAccountRequest{Identifier: "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	decodeData(t, resp, &res)
	assert.Equal(t, model.StatusNotFound, res.Status)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/support/operations", adminToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ops []model.OperationResult
	decodeData(t, resp, &ops)
	assert.GreaterOrEqual(t, len(ops), 2)
}

func TestStreamLogs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", testSrv.URL+"/v1/logs/stream?ticket_id=SSE-1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Subscribe happens after the headers are flushed; give it a moment.
	time.Sleep(50 * time.Millisecond)
	submitTicket(t, model.SubmitTicketRequest{
		TicketID: "SSE-1", Text: "How do I reserve an event?", Metadata: model.TicketMetadata{UserID: "user_002"},
	})

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	chunk := string(buf[:n])
	assert.Contains(t, chunk, "event: transition")
	assert.Contains(t, chunk, `"ticket_id":"SSE-1"`)
}

func newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	return c
}

func initMCP(t *testing.T, c *mcpclient.Client) *mcplib.InitializeResult {
	t.Helper()
	res, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	return res
}

func TestMCPInitializeAndList(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	initResult := initMCP(t, c)
	assert.Equal(t, "madoguchi", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)

	toolsResult, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"submit_ticket", "classify_ticket", "search_knowledge", "ticket_logs", "remember", "recall"} {
		assert.True(t, names[want], "expected %s tool", want)
	}

	resources, err := c.ListResources(ctx, mcplib.ListResourcesRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, resources.Resources)

	prompts, err := c.ListPrompts(ctx, mcplib.ListPromptsRequest{})
	require.NoError(t, err)
	assert.Len(t, prompts.Prompts, 2)
}

func TestMCPSubmitTicket(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()
	initMCP(t, c)
	ctx := context.Background()

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "submit_ticket",
			Arguments: map[string]any{
				"ticket_id": "MCP-1",
				"user_id":   "user_002",
				"text":      "How do I reserve an event?",
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "submit_ticket returned error: %v", result.Content)

	read, err := c.ReadResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "madoguchi://tickets/MCP-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, read.Contents)
	text, ok := read.Contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"ticket_id": "MCP-1"`)
}

func TestMCPRequiresAgent(t *testing.T) {
	resp, err := http.Post(testSrv.URL+"/mcp", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = authedRequest("POST", testSrv.URL+"/mcp", viewerToken, map[string]any{})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
