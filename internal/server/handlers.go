package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/arbitration"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
	"github.com/ace-labs/ace/internal/storage"
)

// Handlers owns the HTTP handler set and its dependencies.
type Handlers struct {
	controller *arbitration.Controller
	store      provenance.Store
	logger     *slog.Logger
	version    string
	maxBody    int64
}

// HandlersDeps holds all dependencies for creating Handlers.
type HandlersDeps struct {
	Controller          *arbitration.Controller
	Store               provenance.Store
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers builds the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := deps.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		controller: deps.Controller,
		store:      deps.Store,
		logger:     logger,
		version:    deps.Version,
		maxBody:    maxBody,
	}
}

type adjudicateRequest struct {
	WorkingSpec   model.WorkingSpec    `json:"working_spec"`
	WorkerOutputs []model.WorkerOutput `json:"worker_outputs"`
	Waivers       []model.Waiver       `json:"waivers,omitempty"`
	SessionID     string               `json:"session_id,omitempty"`
}

// HandleAdjudicate is POST /v1/adjudicate — the sole stable entry point.
func (h *Handlers) HandleAdjudicate(w http.ResponseWriter, r *http.Request) {
	var req adjudicateRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if err := req.WorkingSpec.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_working_spec", err.Error())
		return
	}

	verdict, err := h.controller.Adjudicate(r.Context(), req.WorkingSpec, req.WorkerOutputs,
		arbitration.WithWaivers(req.Waivers),
		arbitration.WithSessionID(req.SessionID),
	)
	if err != nil {
		var qf *acerr.QuorumFailure
		switch {
		case errors.Is(err, acerr.ErrInvalidWorkerOutput):
			writeError(w, r, http.StatusUnprocessableEntity, "invalid_worker_output", err.Error())
		case errors.As(err, &qf):
			writeError(w, r, http.StatusServiceUnavailable, "quorum_failure", qf.Error())
		default:
			h.writeInternalError(w, r, "adjudication failed", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, verdict)
}

type debateRequest struct {
	WorkingSpec   model.WorkingSpec    `json:"working_spec"`
	WorkerOutputs []model.WorkerOutput `json:"worker_outputs"`
}

type debateResponse struct {
	WinningOutputIndex   int     `json:"winning_output_index"`
	FactualAccuracyScore float64 `json:"factual_accuracy_score"`
	DebateRounds         int     `json:"debate_rounds"`
}

// HandleDebate is POST /v1/debate — the advanced multi-output entry point.
func (h *Handlers) HandleDebate(w http.ResponseWriter, r *http.Request) {
	var req debateRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if err := req.WorkingSpec.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_working_spec", err.Error())
		return
	}
	result, err := h.controller.OrchestrateDebate(r.Context(), req.WorkingSpec, req.WorkerOutputs)
	if err != nil {
		if errors.Is(err, acerr.ErrInvalidWorkerOutput) {
			writeError(w, r, http.StatusUnprocessableEntity, "invalid_worker_output", err.Error())
			return
		}
		h.writeInternalError(w, r, "debate failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, debateResponse{
		WinningOutputIndex:   result.WinningOutputIndex,
		FactualAccuracyScore: result.FactualAccuracyScore,
		DebateRounds:         result.DebateRounds,
	})
}

type previewRequest struct {
	WorkingSpec model.WorkingSpec `json:"working_spec"`
	DiffStats   model.DiffStats   `json:"diff_stats"`
}

type violationDTO struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	WaiverRef string `json:"waiver_ref,omitempty"`
}

// HandleWaiverPreview is POST /v1/waivers/preview — read-only examination.
func (h *Handlers) HandleWaiverPreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if err := req.WorkingSpec.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_working_spec", err.Error())
		return
	}
	violations := h.controller.PreviewWaiverRequirements(req.WorkingSpec, req.DiffStats)
	out := make([]violationDTO, 0, len(violations))
	for _, v := range violations {
		out = append(out, violationDTO{Kind: v.Kind, Message: v.Message, WaiverRef: v.WaiverRef})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"violations": out})
}

// HandleGetVerdict is GET /v1/verdicts/{verdict_id} — fetches the persisted
// provenance record for a published verdict.
func (h *Handlers) HandleGetVerdict(w http.ResponseWriter, r *http.Request) {
	verdictID := r.PathValue("verdict_id")
	rec, err := h.store.Get(r.Context(), verdictID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no provenance record for "+verdictID)
			return
		}
		h.writeInternalError(w, r, "fetch provenance record failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec.Record)
}

// HandleVerifyVerdict is GET /v1/verify/{verdict_id} — re-validates a
// published record's signature against its own published key.
func (h *Handlers) HandleVerifyVerdict(w http.ResponseWriter, r *http.Request) {
	verdictID := r.PathValue("verdict_id")
	result, err := provenance.Verify(r.Context(), h.store, verdictID)
	if err != nil {
		var tampered *provenance.TamperedError
		if errors.As(err, &tampered) {
			writeJSON(w, r, http.StatusOK, map[string]any{
				"verdict_id": verdictID,
				"verified":   false,
				"status":     "Tampered",
			})
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no provenance record for "+verdictID)
			return
		}
		h.writeInternalError(w, r, "verify provenance record failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"verdict_id":  verdictID,
		"verified":    result.Verified,
		"status":      "Verified",
		"git_trailer": result.Record.GitTrailer,
	})
}

// HandleHealth is GET /health — liveness plus the §7 system-health snapshot
// (circuit-breaker states and degradation levels).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"health":  h.controller.Health(),
	})
}
