package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	statsURI         = "madoguchi://stats"
	ticketURIPrefix  = "madoguchi://tickets/"
	sessionURIPrefix = "madoguchi://sessions/"
)

func (s *Server) registerResources() {
	// madoguchi://stats: outcome statistics over recent tickets.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			statsURI,
			"Ticket Statistics",
			mcplib.WithResourceDescription("Escalation rate, handler load and category mix over the most recent tickets"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStats,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			ticketURIPrefix+"{id}",
			"Ticket Outcome",
			mcplib.WithTemplateDescription("Stored outcome of one processed ticket"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTicket,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			sessionURIPrefix+"{id}",
			"Session Summary",
			mcplib.WithTemplateDescription("Summary of a live ticket session: stage, messages and tools used"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleSession,
	)
}

func (s *Server) handleStats(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	stats, err := s.Orchestrator.Statistics(ctx, 500)
	if err != nil {
		return nil, fmt.Errorf("mcp: stats: %w", err)
	}
	return jsonContents(statsURI, stats)
}

func (s *Server) handleTicket(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, ticketURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("mcp: invalid ticket URI: %s", uri)
	}
	out, err := s.Orchestrator.Outcome(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: ticket %s: %w", id, err)
	}
	return jsonContents(uri, out)
}

// Session ids may contain a slash, so everything after the prefix is the id.
func (s *Server) handleSession(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, sessionURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("mcp: invalid session URI: %s", uri)
	}
	sum, err := s.Memory.Summary(id)
	if err != nil {
		return nil, fmt.Errorf("mcp: session %s: %w", id, err)
	}
	return jsonContents(uri, sum)
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
