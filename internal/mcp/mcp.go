// Package mcp implements the Model Context Protocol server for ACE.
//
// The MCP server exposes the adjudication entry points through MCP tools and
// the provenance ledger through MCP resources, so MCP-compatible orchestrator
// agents can drive ACE without speaking the HTTP API.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ace-labs/ace/internal/arbitration"
	"github.com/ace-labs/ace/internal/provenance"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake, so connected orchestrator agents know the adjudication workflow
// without per-project configuration.
const serverInstructions = `You have access to ACE, an adjudication and consensus engine for code changes.

WORKFLOW — for every candidate change:

1. OPTIONAL, before running workers: call ace_preview_waivers with the working
   spec and expected diff stats. This reports which CAWS gates (change budget,
   scope, tests, determinism, risk tier) the change would trip, so you can
   request waivers up front instead of failing adjudication later.

2. REQUIRED, after workers produce outputs: call ace_adjudicate with the
   working spec and all worker outputs. ACE examines the diffs against policy,
   verifies extracted claims, runs the judge council, and returns a signed
   verdict: Approved, Rejected, WaiverRequired, or NeedsClarification.

3. ON COMMIT: embed the returned provenance_id as the commit trailer
   "CAWS-Verdict-Id: <provenance_id>". Anyone can later call ace_verify to
   check the verdict's signature against the published key.

TOOLS:
- ace_adjudicate: run the full adjudication cycle (the stable entry point)
- ace_preview_waivers: read-only policy examination of a planned diff
- ace_verify: re-validate a published verdict's signature

Do not retry a Rejected verdict with the same outputs; refine the outputs or
escalate. A WaiverRequired verdict enumerates the failed gates.`

// Server wraps the MCP server with ACE's adjudication layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	controller *arbitration.Controller
	store      provenance.Store
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(controller *arbitration.Controller, store provenance.Store, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controller: controller,
		store:      store,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ace",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
