// Package ace is the public API for embedding the Adjudication & Consensus
// Engine.
//
// Orchestrators import this package to construct and run the engine without
// forking it:
//
//	app, err := ace.New(
//	    ace.WithVersion(version),
//	    ace.WithLogger(logger),
//	    ace.WithJudgeRunner(myLLMJudges{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: ace (root) imports
// internal/*, but internal/* never imports ace (root). Public types
// (ReviewRequest, JudgeVerdict, VerdictSummary) are standalone structs with
// no internal imports; conversion helpers live here because this is the only
// file that sees both sides of the boundary.
package ace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ace-labs/ace/internal/arbitration"
	"github.com/ace-labs/ace/internal/claims"
	"github.com/ace-labs/ace/internal/claimsource"
	"github.com/ace-labs/ace/internal/config"
	"github.com/ace-labs/ace/internal/council"
	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/mcp"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
	"github.com/ace-labs/ace/internal/resilience"
	"github.com/ace-labs/ace/internal/server"
	"github.com/ace-labs/ace/internal/storage"
	"github.com/ace-labs/ace/internal/telemetry"
	"github.com/ace-labs/ace/migrations"
)

// App is the engine lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg        config.Config
	db         *storage.DB
	srv        *server.Server
	controller *arbitration.Controller
	logger     *slog.Logger
	version    string
	otelStop   telemetry.Shutdown
}

// New loads configuration, connects collaborators, and wires the six engine
// components. It does not start serving — call Run.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}

	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()
	otelStop, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, err
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}

	signer, err := provenance.LoadSignerFromFiles(cfg.SigningPrivateKeyPath, cfg.SigningPublicKeyPath, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	publisher := provenance.NewPublisher(db, signer, logger)

	degradation := resilience.NewDegradationManager(resilience.DefaultDegradationWindow(), logger)

	runner := o.judgeRunner
	if runner == nil {
		logger.Warn("ace: no JudgeRunner configured, using the no-op approver (not for production)")
		runner = NoopJudgeRunner{}
	}
	roster := o.roster
	if len(roster) == 0 {
		roster = DefaultJudgeRoster()
	}
	pool := judges.New(publicRoster(roster), &runnerAdapter{runner: runner},
		judges.WithDeadlines(cfg.JudgeTimeout, cfg.CriticalJudgeTimeout),
		judges.WithDegradationManager(degradation),
		judges.WithBreakerConfig(resilience.BreakerConfig{
			FailureThreshold: uint32(cfg.BreakerFailureThreshold), //nolint:gosec // validated ≥1 at load
			SuccessThreshold: uint32(cfg.BreakerSuccessThreshold), //nolint:gosec // validated ≥1 at load
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
			RequestTimeout:   cfg.BreakerRequestTimeout,
		}),
		judges.WithLogger(logger),
	)

	var embedder claimsource.Embedder
	if o.embedder != nil {
		embedder = o.embedder
	} else {
		embedder = claimsource.HashEmbedder{Dims: cfg.EmbeddingDimensions}
	}
	var source claims.ClaimSource
	if cfg.QdrantURL != "" {
		qs, err := claimsource.NewQdrantSource(claimsource.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(embedder.Dimensions()), //nolint:gosec // dimensions are a small positive int
		}, embedder, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := qs.EnsureCollection(ctx); err != nil {
			db.Close()
			return nil, err
		}
		source = qs
	} else {
		source = claimsource.NewPGSource(db.Pool(), embedder, logger)
	}
	corpus := claimsource.NewCorpus(publicDocuments(o.documents))
	verifier := claims.NewVerifier(source, corpus, claims.NewCorefCache(cfg.CorefCacheSize))
	pipeline := claims.NewPipeline(verifier, 0, nil)

	acfg := arbitration.Config{
		Council: council.Config{
			ConsensusThreshold:     cfg.ConsensusThreshold,
			MinJudgesRequired:      cfg.MinJudgesRequired,
			WeightBySpecialization: cfg.WeightBySpecialization,
			DissentHandling: council.DissentPolicy{
				Kind:      council.DissentPolicyKind(cfg.DissentHandling),
				Threshold: cfg.DissentThreshold,
			},
			RiskAggregation: council.RiskAggregationMode(cfg.RiskAggregation),
		},
		EnableClaimExtraction: cfg.EnableClaimExtraction,
		EnableDebateProtocol:  cfg.EnableDebateProtocol,
		MaxDebateRounds:       cfg.MaxDebateRounds,
		MinVerdictConfidence:  cfg.MinVerdictConfidence,
		MaxAdjudicationTime:   cfg.MaxAdjudicationTime,
		DebateRoundTimeout:    cfg.DebateRoundTimeout,
	}

	ctrlOpts := []arbitration.Option{
		arbitration.WithDegradationManager(degradation),
		arbitration.WithLogger(logger),
	}
	if o.critique != nil {
		ctrlOpts = append(ctrlOpts, arbitration.WithCritiqueGenerator(critiqueAdapter{o.critique}))
	}
	controller := arbitration.New(pool, pipeline, publisher, acfg, ctrlOpts...)

	mcpSrv := mcp.New(controller, db, logger, version)

	// Adjudication can legitimately run up to MaxAdjudicationTime; the HTTP
	// write timeout must not cut a verdict off mid-flight.
	writeTimeout := cfg.WriteTimeout
	if writeTimeout < cfg.MaxAdjudicationTime+10*time.Second {
		writeTimeout = cfg.MaxAdjudicationTime + 10*time.Second
	}
	srv := server.New(server.ServerConfig{
		Controller:          controller,
		Store:               db,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        writeTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	return &App{
		cfg:        cfg,
		db:         db,
		srv:        srv,
		controller: controller,
		logger:     logger,
		version:    version,
		otelStop:   otelStop,
	}, nil
}

// Run starts the HTTP (and embedded MCP) server and blocks until ctx is
// cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info("ace started", "version", a.version, "port", a.cfg.Port)

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := a.srv.Shutdown(shutdownCtx)
	a.close()
	return err
}

func (a *App) close() {
	a.db.Close()
	if a.otelStop != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelStop(shutdownCtx); err != nil {
			a.logger.Warn("ace: telemetry shutdown", "error", err)
		}
	}
}

// Adjudicate drives one in-process adjudication cycle for embedders that do
// not want the HTTP/MCP surface.
func (a *App) Adjudicate(ctx context.Context, spec WorkingSpec, outputs []WorkerOutput) (VerdictSummary, error) {
	verdict, err := a.controller.Adjudicate(ctx, toModelSpec(spec), toModelOutputs(outputs))
	if err != nil {
		return VerdictSummary{}, err
	}
	return VerdictSummary{
		TaskID:         verdict.TaskID,
		WorkingSpecID:  verdict.WorkingSpecID,
		Status:         string(verdict.Status),
		Confidence:     verdict.Confidence,
		WaiverRequired: verdict.WaiverRequired,
		WaiverReason:   verdict.WaiverReason,
		DebateRounds:   verdict.DebateRounds,
		ProvenanceID:   verdict.ProvenanceID,
		GitTrailer:     fmt.Sprintf("CAWS-Verdict-Id: %s", verdict.ProvenanceID),
		Reason:         verdict.Reason,
		Timestamp:      verdict.Timestamp,
	}, nil
}

// NoopJudgeRunner approves every review at fixed confidence. Development and
// test fallback only: it exists so the engine boots before a real LLM-backed
// runner is wired, never so it ships without one.
type NoopJudgeRunner struct{}

func (NoopJudgeRunner) Run(_ context.Context, _ JudgeType, _ ReviewRequest) (JudgeVerdict, error) {
	return JudgeVerdict{
		Kind:         "Approve",
		Confidence:   0.8,
		Reasoning:    "no-op judge runner: approval is unconditional and carries no review signal",
		QualityScore: 0.8,
		RiskLevel:    "low",
	}, nil
}

// runnerAdapter bridges the public JudgeRunner to the internal judges.Runner.
type runnerAdapter struct {
	runner JudgeRunner
}

func (r *runnerAdapter) Run(ctx context.Context, judgeType model.JudgeType, review judges.ReviewContext) (model.JudgeVerdict, error) {
	public, err := r.runner.Run(ctx, JudgeType(judgeType), toPublicReview(review, judgeType))
	if err != nil {
		return model.JudgeVerdict{}, err
	}
	return toModelVerdict(public)
}

func toPublicReview(review judges.ReviewContext, judgeType model.JudgeType) ReviewRequest {
	req := ReviewRequest{
		SpecID:          review.WorkingSpec.ID,
		Title:           review.WorkingSpec.Title,
		Description:     review.WorkingSpec.Description,
		RiskTier:        int(review.RiskTier),
		Invariants:      review.WorkingSpec.Invariants,
		SessionID:       review.SessionID,
		PreviousReviews: review.PreviousReviews,
		Instructions:    review.Instructions[judgeType],
	}
	for _, ac := range review.WorkingSpec.AcceptanceCriteria {
		req.AcceptanceCriteria = append(req.AcceptanceCriteria, AcceptanceCriterion{Given: ac.Given, When: ac.When, Then: ac.Then})
	}
	return req
}

func toModelVerdict(v JudgeVerdict) (model.JudgeVerdict, error) {
	out := model.JudgeVerdict{
		Kind:         model.VerdictKind(v.Kind),
		Confidence:   v.Confidence,
		Reasoning:    v.Reasoning,
		QualityScore: v.QualityScore,
		RiskAssessment: model.RiskAssessment{
			Level:   riskLevelFromString(v.RiskLevel),
			Factors: v.RiskFactors,
		},
		EstimatedEffort:       model.EffortEstimate{PersonHours: v.EstimatedHours},
		AlternativeApproaches: v.Alternatives,
	}
	for _, ch := range v.RequiredChanges {
		out.RequiredChanges = append(out.RequiredChanges, model.RequiredChange{
			Category:    ch.Category,
			Description: ch.Description,
			Impact:      model.ChangeImpact(ch.Impact),
		})
	}
	for _, issue := range v.CriticalIssues {
		out.CriticalIssues = append(out.CriticalIssues, model.CriticalIssue{
			Category:    issue.Category,
			Severity:    issue.Severity,
			Description: issue.Description,
		})
	}
	if err := out.Validate(); err != nil {
		return model.JudgeVerdict{}, err
	}
	return out, nil
}

func riskLevelFromString(s string) model.RiskLevel {
	switch s {
	case "critical":
		return model.RiskCritical
	case "high":
		return model.RiskHigh
	case "medium":
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func toModelSpec(spec WorkingSpec) model.WorkingSpec {
	out := model.WorkingSpec{
		ID:          spec.ID,
		Title:       spec.Title,
		Description: spec.Description,
		RiskTier:    model.RiskTier(spec.RiskTier),
		ChangeBudget: model.ChangeBudget{
			MaxFiles: spec.MaxFiles,
			MaxLOC:   spec.MaxLOC,
		},
		Scope: model.Scope{
			IncludedGlobs: spec.IncludedGlobs,
			ExcludedGlobs: spec.ExcludedGlobs,
		},
		Invariants: spec.Invariants,
	}
	for _, ac := range spec.AcceptanceCriteria {
		out.AcceptanceCriteria = append(out.AcceptanceCriteria, model.AcceptanceCriterion{Given: ac.Given, When: ac.When, Then: ac.Then})
	}
	return out
}

func toModelOutputs(outputs []WorkerOutput) []model.WorkerOutput {
	out := make([]model.WorkerOutput, len(outputs))
	for i, o := range outputs {
		out[i] = model.WorkerOutput{
			WorkerID:  o.WorkerID,
			TaskID:    o.TaskID,
			Content:   o.Content,
			Rationale: o.Rationale,
			DiffStats: model.DiffStats{
				FilesChanged: o.FilesChanged,
				LinesChanged: o.LinesChanged,
				TouchedPaths: o.TouchedPaths,
			},
			Metadata: o.Metadata,
		}
	}
	return out
}

func publicRoster(roster []JudgeType) []model.JudgeType {
	out := make([]model.JudgeType, len(roster))
	for i, jt := range roster {
		out[i] = model.JudgeType(jt)
	}
	return out
}

func publicDocuments(docs []Document) []claimsource.Document {
	out := make([]claimsource.Document, len(docs))
	for i, d := range docs {
		out[i] = claimsource.Document{Title: d.Title, Content: d.Content, URL: d.URL}
	}
	return out
}

type critiqueAdapter struct {
	g CritiqueGenerator
}

func (a critiqueAdapter) Critique(ctx context.Context, losing model.WorkerOutput, winner model.EvidenceManifest) (string, error) {
	return a.g.Critique(ctx, losing.Content, winner.FactualAccuracyScore)
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
