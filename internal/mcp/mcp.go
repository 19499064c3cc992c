// Package mcp exposes the ticket pipeline as Model Context Protocol tools,
// resources and prompts, so an assistant can submit tickets and consult the
// classifier, knowledge base and customer memory directly.
package mcp

import (
	"encoding/json"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/madoguchi/internal/classify"
	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

// resubmitWindow is how long submit_ticket answers a repeated ticket id
// from the stored outcome instead of processing it again.
const resubmitWindow = 10 * time.Minute

// Deps are the pipeline components the tools call.
type Deps struct {
	Orchestrator *workflow.Orchestrator
	Classifier   *classify.Classifier
	Retriever    *knowledge.Retriever
	Memory       *memory.Store
	Log          *workflowlog.Log
}

// Server wraps the mcp-go server.
type Server struct {
	Deps
	mcpServer *mcpserver.MCPServer
	recent    *submissionTracker
	logger    *slog.Logger
}

// New creates an MCP server with every tool, resource and prompt registered.
func New(d Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		Deps:   d,
		recent: newSubmissionTracker(resubmitWindow),
		logger: logger,
	}
	s.mcpServer = mcpserver.NewMCPServer(
		"madoguchi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `madoguchi routes customer-support tickets. Use submit_ticket to run a ticket
through classification, knowledge retrieval, escalation and resolution. Use
classify_ticket and search_knowledge to inspect one step without recording
anything. recall and remember read and write per-customer long-term memory.`

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
