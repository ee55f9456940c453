package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// ace://health — circuit-breaker states and degradation levels.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"ace://health",
			"System Health",
			mcplib.WithResourceDescription("Circuit-breaker states and degradation levels for ACE's outbound collaborators"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleHealthResource,
	)

	// ace://verdicts/{verdict_id} — a published provenance record.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"ace://verdicts/{verdict_id}",
			"Provenance Record",
			mcplib.WithTemplateDescription("The signed, append-only provenance record for a published verdict"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleVerdictResource,
	)
}

func (s *Server) handleHealthResource(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.controller.Health(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal health: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "ace://health",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleVerdictResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	verdictID := strings.TrimPrefix(request.Params.URI, "ace://verdicts/")
	if verdictID == "" || verdictID == request.Params.URI {
		return nil, fmt.Errorf("mcp: invalid verdict resource URI %q", request.Params.URI)
	}

	rec, err := s.store.Get(ctx, verdictID)
	if err != nil {
		return nil, fmt.Errorf("mcp: fetch verdict %s: %w", verdictID, err)
	}
	data, err := json.MarshalIndent(rec.Record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal verdict record: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
