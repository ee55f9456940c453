package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/arbitration"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
	"github.com/ace-labs/ace/internal/storage"
)

func (s *Server) registerTools() {
	// ace_adjudicate — run the full adjudication cycle.
	s.mcpServer.AddTool(
		mcplib.NewTool("ace_adjudicate",
			mcplib.WithDescription(`Run the full adjudication cycle over one or more worker outputs.

WHEN TO USE: after workers produce candidate changes for a working spec.
This is the stable entry point: ACE examines the diffs against CAWS policy,
extracts and verifies factual claims, runs the judge council, and returns a
signed verdict.

WHAT YOU GET BACK: the arbiter verdict — status (Approved, Rejected,
WaiverRequired, NeedsClarification), confidence, the evidence manifest, and
the provenance_id to embed as the "CAWS-Verdict-Id" commit trailer.

With two or more outputs the debate protocol selects the winner before the
verdict is built.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("working_spec",
				mcplib.Description("The working spec as a JSON object: id (UUID), title, description, risk_tier (1-3), change_budget {max_files, max_loc}, scope {included_globs, excluded_globs}, acceptance_criteria [{given, when, then}]."),
				mcplib.Required(),
			),
			mcplib.WithString("worker_outputs",
				mcplib.Description("JSON array of worker outputs: [{worker_id, task_id, content, rationale, diff_stats {files_changed, lines_changed, touched_paths}}]. All outputs must share one task_id."),
				mcplib.Required(),
			),
			mcplib.WithString("waivers",
				mcplib.Description("Optional JSON array of active waivers covering CAWS gates."),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Optional session identifier carried into the judge review context."),
			),
		),
		s.handleAdjudicate,
	)

	// ace_preview_waivers — read-only policy examination.
	s.mcpServer.AddTool(
		mcplib.NewTool("ace_preview_waivers",
			mcplib.WithDescription(`Preview which CAWS gates a planned diff would trip, without adjudicating.

WHEN TO USE: BEFORE dispatching workers, when you already know the expected
diff shape. Lets you request waivers for budget/scope/test gates up front
instead of discovering violations after the work is done.

WHAT YOU GET BACK: the violation list (kind, message) the Examination phase
would raise. An empty list means the diff is policy-clean.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("working_spec",
				mcplib.Description("The working spec as a JSON object (same shape as ace_adjudicate)."),
				mcplib.Required(),
			),
			mcplib.WithString("diff_stats",
				mcplib.Description("Expected diff statistics as JSON: {files_changed, lines_changed, touched_paths}."),
				mcplib.Required(),
			),
		),
		s.handlePreviewWaivers,
	)

	// ace_verify — re-validate a published verdict's signature.
	s.mcpServer.AddTool(
		mcplib.NewTool("ace_verify",
			mcplib.WithDescription(`Verify a published verdict's Ed25519 signature against its published key.

WHEN TO USE: when auditing a commit that carries a "CAWS-Verdict-Id" trailer.
Fetches the append-only provenance record and re-checks the signature over
the canonical verdict bytes.

WHAT YOU GET BACK: verified (bool) and status ("Verified" or "Tampered"),
plus the git trailer the record was minted for.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("verdict_id",
				mcplib.Description(`The provenance ID, e.g. "CAWS-VERDICT-<uuid>".`),
				mcplib.Required(),
			),
		),
		s.handleVerify,
	)
}

func (s *Server) handleAdjudicate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var spec model.WorkingSpec
	if err := json.Unmarshal([]byte(request.GetString("working_spec", "{}")), &spec); err != nil {
		return errorResult("working_spec is not valid JSON: " + err.Error()), nil
	}
	if err := spec.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}
	var outputs []model.WorkerOutput
	if err := json.Unmarshal([]byte(request.GetString("worker_outputs", "[]")), &outputs); err != nil {
		return errorResult("worker_outputs is not valid JSON: " + err.Error()), nil
	}
	var waivers []model.Waiver
	if raw := request.GetString("waivers", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &waivers); err != nil {
			return errorResult("waivers is not valid JSON: " + err.Error()), nil
		}
	}

	verdict, err := s.controller.Adjudicate(ctx, spec, outputs,
		arbitration.WithWaivers(waivers),
		arbitration.WithSessionID(request.GetString("session_id", "")),
	)
	if err != nil {
		var qf *acerr.QuorumFailure
		switch {
		case errors.Is(err, acerr.ErrInvalidWorkerOutput):
			return errorResult(err.Error()), nil
		case errors.As(err, &qf):
			return errorResult(qf.Error()), nil
		default:
			s.logger.Error("mcp: adjudication failed", "error", err)
			return errorResult("adjudication failed: " + err.Error()), nil
		}
	}
	return jsonResult(verdict)
}

func (s *Server) handlePreviewWaivers(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var spec model.WorkingSpec
	if err := json.Unmarshal([]byte(request.GetString("working_spec", "{}")), &spec); err != nil {
		return errorResult("working_spec is not valid JSON: " + err.Error()), nil
	}
	if err := spec.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}
	var diff model.DiffStats
	if err := json.Unmarshal([]byte(request.GetString("diff_stats", "{}")), &diff); err != nil {
		return errorResult("diff_stats is not valid JSON: " + err.Error()), nil
	}

	violations := s.controller.PreviewWaiverRequirements(spec, diff)
	type violationOut struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		WaiverRef string `json:"waiver_ref,omitempty"`
	}
	out := make([]violationOut, 0, len(violations))
	for _, v := range violations {
		out = append(out, violationOut{Kind: v.Kind, Message: v.Message, WaiverRef: v.WaiverRef})
	}
	return jsonResult(map[string]any{"violations": out, "compliant": len(out) == 0})
}

func (s *Server) handleVerify(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	verdictID := request.GetString("verdict_id", "")
	if verdictID == "" {
		return errorResult("verdict_id is required"), nil
	}
	result, err := provenance.Verify(ctx, s.store, verdictID)
	if err != nil {
		var tampered *provenance.TamperedError
		if errors.As(err, &tampered) {
			return jsonResult(map[string]any{"verdict_id": verdictID, "verified": false, "status": "Tampered"})
		}
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("no provenance record for " + verdictID), nil
		}
		return errorResult("verification failed: " + err.Error()), nil
	}
	return jsonResult(map[string]any{
		"verdict_id":  verdictID,
		"verified":    result.Verified,
		"status":      "Verified",
		"git_trailer": result.Record.GitTrailer,
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
