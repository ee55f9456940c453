package arbitration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/claims"
	"github.com/ace-labs/ace/internal/council"
	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/policy"
	"github.com/ace-labs/ace/internal/provenance"
	"github.com/ace-labs/ace/internal/resilience"
)

var (
	meter              = otel.GetMeterProvider().Meter("ace/arbitration")
	adjudicationCount  otelmetric.Int64Counter
	adjudicationMillis otelmetric.Float64Histogram
)

func init() {
	var err error
	adjudicationCount, err = meter.Int64Counter("ace.adjudication.count")
	if err != nil {
		adjudicationCount, _ = meter.Int64Counter("ace.adjudication.count.fallback")
	}
	adjudicationMillis, err = meter.Float64Histogram("ace.adjudication.duration",
		otelmetric.WithUnit("ms"))
	if err != nil {
		adjudicationMillis, _ = meter.Float64Histogram("ace.adjudication.duration.fallback",
			otelmetric.WithUnit("ms"))
	}
}

// Controller is the flat, stateless-handle driver of the adjudication cycle.
// It owns no verdict state of its own: every phase reads the immutable
// WorkingSpec snapshot and the borrowed WorkerOutputs, and all mutable state
// (breaker stats, degradation levels) lives behind the resilience handles.
type Controller struct {
	judges      *judges.Pool
	pipeline    *claims.Pipeline
	publisher   *provenance.Publisher
	critique    CritiqueGenerator
	gate        HumanGate
	degradation *resilience.DegradationManager
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
	maxParallel int
}

// Option configures a Controller.
type Option func(*Controller)

// WithCritiqueGenerator injects the debate counter-argument collaborator.
// Absent, the deterministic built-in critique is used.
func WithCritiqueGenerator(g CritiqueGenerator) Option {
	return func(c *Controller) { c.critique = g }
}

// WithHumanGate injects the §6 HumanGate collaborator consulted on
// quorum failures and NeedsClarification outcomes.
func WithHumanGate(g HumanGate) Option {
	return func(c *Controller) { c.gate = g }
}

// WithDegradationManager shares a degradation manager with the judge pool so
// health snapshots report one view.
func WithDegradationManager(dm *resilience.DegradationManager) Option {
	return func(c *Controller) { c.degradation = dm }
}

// WithClock injects a fixed clock for deterministic verdict timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.log = logger }
}

// WithMaxParallel bounds per-phase fan-out across worker outputs.
func WithMaxParallel(n int) Option {
	return func(c *Controller) { c.maxParallel = n }
}

// New builds a Controller over the judge pool, claim pipeline, and publisher.
// pipeline may be nil when claim extraction is disabled.
func New(pool *judges.Pool, pipeline *claims.Pipeline, publisher *provenance.Publisher, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		judges:      pool,
		pipeline:    pipeline,
		publisher:   publisher,
		critique:    staticCritique{},
		cfg:         cfg,
		log:         slog.Default(),
		now:         time.Now,
		maxParallel: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AdjudicateOption supplies per-call inputs the sole stable entry point does
// not carry in its signature: active waivers, the task descriptor, and the
// upstream test analysis.
type AdjudicateOption func(*adjudicateInputs)

type adjudicateInputs struct {
	waivers         []model.Waiver
	task            *policy.TaskDescriptor
	test            *policy.TestAnalysis
	previousReviews []string
	sessionID       string
}

// WithWaivers supplies the active waivers consulted during Examination.
func WithWaivers(ws []model.Waiver) AdjudicateOption {
	return func(in *adjudicateInputs) { in.waivers = ws }
}

// WithTask overrides the task descriptor derived from the worker outputs.
func WithTask(t policy.TaskDescriptor) AdjudicateOption {
	return func(in *adjudicateInputs) { in.task = &t }
}

// WithTestAnalysis supplies the upstream test-analysis result.
func WithTestAnalysis(t policy.TestAnalysis) AdjudicateOption {
	return func(in *adjudicateInputs) { in.test = &t }
}

// WithPreviousReviews carries earlier review summaries into the judge context.
func WithPreviousReviews(rs []string) AdjudicateOption {
	return func(in *adjudicateInputs) { in.previousReviews = rs }
}

// WithSessionID tags the review context with the caller's session.
func WithSessionID(id string) AdjudicateOption {
	return func(in *adjudicateInputs) { in.sessionID = id }
}

// Adjudicate runs the full cycle for one WorkingSpec and its candidate
// outputs and returns the published ArbiterVerdict. This is the sole stable
// inbound entry point (§6). Total wall-clock is bounded by
// MaxAdjudicationTime; an operator abort emits a Rejected verdict rather than
// leaking a partial decision.
func (c *Controller) Adjudicate(ctx context.Context, spec model.WorkingSpec, outputs []model.WorkerOutput, opts ...AdjudicateOption) (model.ArbiterVerdict, error) {
	start := c.now()
	var in adjudicateInputs
	for _, opt := range opts {
		opt(&in)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxAdjudicationTime)
	defer cancel()

	// Pleading.
	if err := pleading(spec, outputs); err != nil {
		return model.ArbiterVerdict{}, err
	}
	taskID := outputs[0].TaskID

	// Debate selects the surviving output when candidates compete.
	active := outputs
	debateRounds := 0
	if c.cfg.EnableDebateProtocol && len(outputs) >= 2 {
		res, err := c.OrchestrateDebate(ctx, spec, outputs)
		if err != nil {
			if v, handled := c.interrupted(ctx, spec, taskID, err); handled {
				return v, nil
			}
			return model.ArbiterVerdict{}, err
		}
		active = []model.WorkerOutput{outputs[res.WinningOutputIndex]}
		debateRounds = res.DebateRounds
	}

	// Examination: C4 per output, in parallel.
	exam := c.examine(ctx, spec, active, in)
	if v, handled := c.interrupted(ctx, spec, taskID, ctx.Err()); handled {
		return v, nil
	}

	// Deliberation: C3 per output, in parallel, merged into one manifest.
	var manifest *model.EvidenceManifest
	if c.cfg.EnableClaimExtraction && c.pipeline != nil {
		m := c.deliberate(ctx, spec, active)
		manifest = &m
	}
	if v, handled := c.interrupted(ctx, spec, taskID, ctx.Err()); handled {
		return v, nil
	}

	// Judging: C1 fan-out, C2 aggregation.
	agg, totalJudges, err := c.judge(ctx, spec, in)
	if err != nil {
		if v, handled := c.interrupted(ctx, spec, taskID, err); handled {
			return v, nil
		}
		if override, ok := c.consultGate(ctx, spec, taskID, err); ok {
			return c.publish(ctx, override, spec, exam, manifest)
		}
		return model.ArbiterVerdict{}, err
	}

	// Verdict.
	verdict := c.buildVerdict(spec, taskID, agg, exam, manifest, debateRounds)
	verdict.Reason = c.decorateReason(verdict, agg, totalJudges)

	// NeedsClarification may be overridden by a human decision (§6 HumanGate).
	if verdict.Status == model.StatusNeedsClarification && c.gate != nil {
		if override, ok := c.consultGateDecision(ctx, spec, taskID, verdict); ok {
			verdict = override
		}
	}

	// Publication.
	published, err := c.publish(ctx, verdict, spec, exam, manifest)
	elapsed := c.now().Sub(start)
	attrs := otelmetric.WithAttributes(
		attribute.String("status", string(published.Status)),
		attribute.Int("risk_tier", int(spec.RiskTier)),
	)
	adjudicationCount.Add(ctx, 1, attrs)
	adjudicationMillis.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	return published, err
}

// pleading validates inputs per §4.5: outputs non-empty, consistent task_id,
// no empty content. Fail-fast with InvalidWorkerOutput.
func pleading(spec model.WorkingSpec, outputs []model.WorkerOutput) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", acerr.ErrInvalidWorkerOutput, err)
	}
	if len(outputs) == 0 {
		return fmt.Errorf("%w: no worker outputs", acerr.ErrInvalidWorkerOutput)
	}
	taskID := outputs[0].TaskID
	for i, o := range outputs {
		if o.TaskID != taskID {
			return fmt.Errorf("%w: output %d has task_id %q, expected %q", acerr.ErrInvalidWorkerOutput, i, o.TaskID, taskID)
		}
		if strings.TrimSpace(o.Content) == "" {
			return fmt.Errorf("%w: output %d has empty content", acerr.ErrInvalidWorkerOutput, i)
		}
	}
	return nil
}

// examination is the merged C4 result across all examined outputs.
type examination struct {
	result     policy.Result
	violations []acerr.Violation
	unwaived   int
}

func (c *Controller) examine(ctx context.Context, spec model.WorkingSpec, outputs []model.WorkerOutput, in adjudicateInputs) examination {
	task := c.deriveTask(spec, outputs, in)
	test := c.deriveTestAnalysis(outputs, in)
	compliancePresent := c.judges.HasJudge(model.JudgeCompliance) &&
		(c.degradation == nil || c.degradation.Level(string(model.JudgeCompliance)) != resilience.LevelBypass)

	results := make([]policy.Result, len(outputs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)
	for i, o := range outputs {
		i, o := i, o
		g.Go(func() error {
			results[i] = policy.Examine(spec, task, o.DiffStats, compliancePresent, test, in.waivers)
			return nil
		})
	}
	_ = g.Wait()

	merged := examination{result: policy.Result{OverallCompliant: true, ExaminedOutputs: len(outputs)}}
	for _, r := range results {
		if !r.OverallCompliant {
			merged.result.OverallCompliant = false
		}
		merged.violations = append(merged.violations, r.Violations...)
	}
	merged.result.Violations = merged.violations
	for _, v := range merged.violations {
		if v.WaiverRef == "" {
			merged.unwaived++
		}
	}
	// Violations fully covered by active waivers do not gate the verdict.
	if merged.unwaived == 0 {
		merged.result.OverallCompliant = true
	}
	return merged
}

func (c *Controller) deriveTask(spec model.WorkingSpec, outputs []model.WorkerOutput, in adjudicateInputs) policy.TaskDescriptor {
	if in.task != nil {
		return *in.task
	}
	task := policy.TaskDescriptor{
		ID:       outputs[0].TaskID,
		Type:     policy.TaskCodeGeneration,
		ScopeIn:  spec.Scope.IncludedGlobs,
		RiskTier: spec.RiskTier,
		Metadata: outputs[0].Metadata,
	}
	if task.Metadata == nil {
		task.Metadata = map[string]string{}
	}
	return task
}

func (c *Controller) deriveTestAnalysis(outputs []model.WorkerOutput, in adjudicateInputs) policy.TestAnalysis {
	if in.test != nil {
		return *in.test
	}
	return policy.TestAnalysis{Deterministic: true}
}

// deliberate fans C3 out across outputs and merges the per-output manifests
// by weighted mean (§4.5 Deliberation).
func (c *Controller) deliberate(ctx context.Context, spec model.WorkingSpec, outputs []model.WorkerOutput) model.EvidenceManifest {
	manifests := make([]model.EvidenceManifest, len(outputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)
	var mu sync.Mutex
	for i, o := range outputs {
		i, o := i, o
		g.Go(func() error {
			m := c.pipeline.Run(gctx, o, spec)
			mu.Lock()
			manifests[i] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return claims.MergeManifests(manifests)
}

func (c *Controller) judge(ctx context.Context, spec model.WorkingSpec, in adjudicateInputs) (model.AggregationResult, int, error) {
	review := judges.ReviewContext{
		WorkingSpec:     spec,
		PreviousReviews: in.previousReviews,
		RiskTier:        spec.RiskTier,
		SessionID:       in.sessionID,
	}
	outcomes, err := c.judges.Review(ctx, review)
	if err != nil {
		return model.AggregationResult{}, 0, err
	}
	contributions := judges.Contributions(outcomes)
	agg, err := council.Aggregate(contributions, spec.Description, spec.RiskTier, c.cfg.Council)
	if err != nil {
		return model.AggregationResult{}, len(outcomes), err
	}
	agg.AggregationMetadata["total_judges"] = fmt.Sprintf("%d", len(outcomes))
	return agg, len(outcomes), nil
}

// buildVerdict applies the fixed §4.5 rubric to the phase results.
func (c *Controller) buildVerdict(spec model.WorkingSpec, taskID string, agg model.AggregationResult, exam examination, manifest *model.EvidenceManifest, debateRounds int) model.ArbiterVerdict {
	confidence := 0.5
	waiverRequired := false
	waiverReason := ""

	if exam.result.OverallCompliant {
		confidence += 0.3
	} else {
		waiverRequired = true
		waiverReason = fmt.Sprintf("CAWS violations: %d", exam.unwaived)
	}
	if manifest != nil {
		confidence += 0.2*manifest.FactualAccuracyScore + 0.2*manifest.CAWSComplianceScore
	}
	confidence -= riskPenalty(spec.RiskTier)
	confidence = clamp01(confidence)
	confidence = round3(confidence)

	verdict := model.ArbiterVerdict{
		TaskID:           taskID,
		WorkingSpecID:    spec.ID,
		Confidence:       confidence,
		EvidenceManifest: manifest,
		WaiverRequired:   waiverRequired,
		WaiverReason:     waiverReason,
		DebateRounds:     debateRounds,
		Timestamp:        c.now().UTC(),
	}

	decision := agg.CouncilDecision
	switch {
	case decision.Kind == model.CouncilInconclusive:
		verdict.Status = model.StatusNeedsClarification
		verdict.Reason = decision.Reason
		verdict.ConflictingFactors = decision.ConflictingFactors
	case waiverRequired:
		verdict.Status = model.StatusWaiverRequired
		verdict.Reason = waiverReason
	case decision.Kind == model.CouncilReject:
		verdict.Status = model.StatusRejected
		verdict.Reason = rejectReason(decision)
	case decision.Kind == model.CouncilRefine:
		// The status enum carries no Refine variant; a refine council reads
		// as Rejected with the required changes enumerated so the upstream
		// refinement loop can act on them (see DESIGN.md).
		verdict.Status = model.StatusRejected
		verdict.Reason = refineReason(decision)
	case confidence >= c.cfg.MinVerdictConfidence:
		verdict.Status = model.StatusApproved
		verdict.Reason = fmt.Sprintf("council approved with consensus %.2f", agg.ConsensusStrength)
	default:
		verdict.Status = model.StatusRejected
		verdict.Reason = fmt.Sprintf("confidence %.3f below min_verdict_confidence %.2f", confidence, c.cfg.MinVerdictConfidence)
	}
	return verdict
}

func rejectReason(d model.CouncilDecision) string {
	parts := make([]string, 0, len(d.CriticalIssues))
	for _, issue := range d.CriticalIssues {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", issue.Category, issue.Severity, issue.Description))
	}
	if len(parts) == 0 {
		return "council rejected the change"
	}
	return "council rejected: " + strings.Join(parts, "; ")
}

func refineReason(d model.CouncilDecision) string {
	parts := make([]string, 0, len(d.RequiredChanges))
	for _, ch := range d.RequiredChanges {
		parts = append(parts, fmt.Sprintf("[%s] %s", ch.PriorityBucket, ch.Description))
	}
	if len(parts) == 0 {
		return "council requires refinement"
	}
	return "council requires refinement: " + strings.Join(parts, "; ")
}

func (c *Controller) decorateReason(v model.ArbiterVerdict, agg model.AggregationResult, totalJudges int) string {
	participating := agg.AggregationMetadata["participating_judges"]
	return fmt.Sprintf("%s (judges %s/%d, agreement %s)", v.Reason, participating, totalJudges, agg.AgreementLevel)
}

// publish runs the Publication phase. On an operator abort the verdict is
// still persisted on a detached context so the provenance chain never holds a
// dangling decision.
func (c *Controller) publish(ctx context.Context, verdict model.ArbiterVerdict, spec model.WorkingSpec, exam examination, manifest *model.EvidenceManifest) (model.ArbiterVerdict, error) {
	checkpoints := policy.BuildCheckpointMap(spec, exam.result, manifest != nil)
	pubCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	id, err := c.publisher.Publish(pubCtx, verdict, checkpoints)
	if err != nil {
		return model.ArbiterVerdict{}, err
	}
	verdict.ProvenanceID = id
	return verdict, nil
}

// interrupted maps a cancellation or overall-deadline expiry to its terminal
// verdict: operator abort emits Rejected ("aborted by operator"), a timeout
// surfaces as NeedsClarification with reduced confidence (§4.5, §7). Returns
// handled=false when err is not an interruption.
func (c *Controller) interrupted(ctx context.Context, spec model.WorkingSpec, taskID string, err error) (model.ArbiterVerdict, bool) {
	if err == nil {
		return model.ArbiterVerdict{}, false
	}
	var verdict model.ArbiterVerdict
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, acerr.ErrAborted):
		verdict = model.ArbiterVerdict{
			TaskID:        taskID,
			WorkingSpecID: spec.ID,
			Status:        model.StatusRejected,
			Confidence:    0,
			Reason:        "aborted by operator",
			Timestamp:     c.now().UTC(),
		}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, acerr.ErrTimeout):
		verdict = model.ArbiterVerdict{
			TaskID:        taskID,
			WorkingSpecID: spec.ID,
			Status:        model.StatusNeedsClarification,
			Confidence:    0,
			Reason:        "adjudication timed out before a decision was reached",
			ConflictingFactors: []string{
				fmt.Sprintf("max_adjudication_time %s exceeded", c.cfg.MaxAdjudicationTime),
			},
			Timestamp: c.now().UTC(),
		}
	default:
		return model.ArbiterVerdict{}, false
	}

	c.log.Warn("arbitration: cycle interrupted", "task_id", taskID, "status", verdict.Status, "error", err)
	published, pubErr := c.publish(ctx, verdict, spec, examination{result: policy.Result{OverallCompliant: true}}, nil)
	if pubErr != nil {
		verdict.ProvenanceID = ""
		return verdict, true
	}
	return published, true
}

// consultGate escalates a quorum failure to the HumanGate, per the recovery
// order of §7 (HumanIntervention before Abort). Without a gate the error
// bubbles.
func (c *Controller) consultGate(ctx context.Context, spec model.WorkingSpec, taskID string, err error) (model.ArbiterVerdict, bool) {
	var qf *acerr.QuorumFailure
	if !errors.As(err, &qf) || c.gate == nil {
		return model.ArbiterVerdict{}, false
	}
	decision, gateErr := c.gate.Decide(ctx, HumanDecisionRequest{
		TaskID:        taskID,
		WorkingSpecID: spec.ID,
		Reason:        qf.Error(),
	})
	if gateErr != nil {
		c.log.Warn("arbitration: human gate unavailable for quorum failure", "task_id", taskID, "error", gateErr)
		return model.ArbiterVerdict{}, false
	}
	return model.ArbiterVerdict{
		TaskID:        taskID,
		WorkingSpecID: spec.ID,
		Status:        decision.Status,
		Confidence:    round3(decision.Confidence),
		Reason:        "human override: " + decision.Rationale,
		Timestamp:     c.now().UTC(),
	}, true
}

func (c *Controller) consultGateDecision(ctx context.Context, spec model.WorkingSpec, taskID string, verdict model.ArbiterVerdict) (model.ArbiterVerdict, bool) {
	decision, err := c.gate.Decide(ctx, HumanDecisionRequest{
		TaskID:             taskID,
		WorkingSpecID:      spec.ID,
		Reason:             verdict.Reason,
		ConflictingFactors: verdict.ConflictingFactors,
	})
	if err != nil {
		c.log.Info("arbitration: human gate declined to override", "task_id", taskID, "error", err)
		return model.ArbiterVerdict{}, false
	}
	verdict.Status = decision.Status
	verdict.Confidence = round3(decision.Confidence)
	verdict.Reason = "human override: " + decision.Rationale
	return verdict, true
}

// PreviewWaiverRequirements is the read-only examination entry point (§6): it
// reports the violations a diff would raise without running the full cycle.
func (c *Controller) PreviewWaiverRequirements(spec model.WorkingSpec, diff model.DiffStats) []acerr.Violation {
	task := policy.TaskDescriptor{
		ID:       "preview",
		Type:     policy.TaskCodeGeneration,
		ScopeIn:  spec.Scope.IncludedGlobs,
		RiskTier: spec.RiskTier,
		Metadata: map[string]string{},
	}
	compliancePresent := c.judges.HasJudge(model.JudgeCompliance)
	result := policy.Examine(spec, task, diff, compliancePresent, policy.TestAnalysis{Deterministic: true}, nil)
	return result.Violations
}

func riskPenalty(tier model.RiskTier) float64 {
	switch tier {
	case model.RiskTierCritical:
		return 0.1
	case model.RiskTierHigh:
		return 0.05
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
