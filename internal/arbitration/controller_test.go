package arbitration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/policy"
	"github.com/ace-labs/ace/internal/provenance"
)

// memStore is an in-memory append-only provenance store.
type memStore struct {
	mu   sync.Mutex
	recs map[string]provenance.StoredRecord
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]provenance.StoredRecord{}}
}

func (s *memStore) Append(_ context.Context, rec provenance.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Record.VerdictID]; ok {
		return fmt.Errorf("duplicate verdict_id %s", rec.Record.VerdictID)
	}
	s.recs[rec.Record.VerdictID] = rec
	return nil
}

func (s *memStore) Get(_ context.Context, verdictID string) (provenance.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[verdictID]
	if !ok {
		return provenance.StoredRecord{}, fmt.Errorf("no record for %s", verdictID)
	}
	return rec, nil
}

// scriptedRunner returns a fixed verdict (or error) per judge type.
type scriptedRunner struct {
	verdicts map[model.JudgeType]model.JudgeVerdict
	failures map[model.JudgeType]error
}

func (r *scriptedRunner) Run(_ context.Context, jt model.JudgeType, _ judges.ReviewContext) (model.JudgeVerdict, error) {
	if err, ok := r.failures[jt]; ok {
		return model.JudgeVerdict{}, err
	}
	v, ok := r.verdicts[jt]
	if !ok {
		return model.JudgeVerdict{}, errors.New("no scripted verdict")
	}
	return v, nil
}

func approveVerdict(confidence, quality float64) model.JudgeVerdict {
	return model.JudgeVerdict{
		Kind:         model.VerdictApprove,
		Confidence:   confidence,
		Reasoning:    "the change is well scoped and the touched paths carry test coverage",
		QualityScore: quality,
	}
}

func rejectVerdict(confidence float64) model.JudgeVerdict {
	return model.JudgeVerdict{
		Kind:       model.VerdictReject,
		Confidence: confidence,
		Reasoning:  "introduces an unauthenticated path to a sensitive resource",
		CriticalIssues: []model.CriticalIssue{
			{Category: "security", Severity: "high", Description: "missing auth check"},
		},
	}
}

func refineVerdict(confidence float64) model.JudgeVerdict {
	return model.JudgeVerdict{
		Kind:       model.VerdictRefine,
		Confidence: confidence,
		Reasoning:  "needs additional edge-case coverage before this can land",
		RequiredChanges: []model.RequiredChange{
			{Category: "tests", Description: "add edge case coverage", Impact: model.ImpactMinor},
		},
	}
}

func standardSpec(t *testing.T) model.WorkingSpec {
	t.Helper()
	return model.WorkingSpec{
		ID:           uuid.New(),
		Title:        "cache invalidation",
		Description:  "general change to the caching layer",
		RiskTier:     model.RiskTierStandard,
		ChangeBudget: model.ChangeBudget{MaxFiles: 50, MaxLOC: 2000},
		Scope:        model.Scope{IncludedGlobs: []string{"src/**", "tests/**", "README.md"}},
		AcceptanceCriteria: []model.AcceptanceCriterion{
			{Given: "a cached entry", When: "its TTL expires", Then: "the entry is evicted"},
		},
	}
}

func standardOutput() model.WorkerOutput {
	return model.WorkerOutput{
		WorkerID: "worker-1",
		TaskID:   "task-42",
		Content:  "The cache layer now evicts entries when their TTL expires.",
		DiffStats: model.DiffStats{
			FilesChanged: 3,
			LinesChanged: 120,
			TouchedPaths: []string{"src/a.rs", "tests/a_test.rs", "README.md"},
		},
	}
}

func newTestController(t *testing.T, runner judges.Runner, roster []model.JudgeType, mutate func(*Config)) (*Controller, *memStore) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableClaimExtraction = false
	cfg.EnableDebateProtocol = false
	if mutate != nil {
		mutate(&cfg)
	}
	pool := judges.New(roster, runner, judges.WithDeadlines(time.Second, 2*time.Second))
	signer, err := provenance.NewEphemeralSigner()
	require.NoError(t, err)
	store := newMemStore()
	publisher := provenance.NewPublisher(store, signer, nil)

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctrl := New(pool, nil, publisher, cfg, WithClock(func() time.Time { return fixed }))
	return ctrl, store
}

// Scenario 1 (§8): four approving judges, a policy-clean diff, and no risk
// penalty yield an Approved verdict at the rubric's boundary (0.5 + 0.3).
func TestAdjudicate_CleanApproval(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgePerformance, model.JudgeTesting}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{
		model.JudgeQualityAssurance: approveVerdict(0.92, 0.9),
		model.JudgeSecurity:         approveVerdict(0.88, 0.85),
		model.JudgePerformance:      approveVerdict(0.90, 0.9),
		model.JudgeTesting:          approveVerdict(0.86, 0.8),
	}}
	ctrl, store := newTestController(t, runner, roster, nil)

	verdict, err := ctrl.Adjudicate(context.Background(), standardSpec(t), []model.WorkerOutput{standardOutput()})
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, verdict.Status)
	assert.Equal(t, 0.8, verdict.Confidence) // confidence exactly at min_verdict_confidence → Approved (≥)
	assert.False(t, verdict.WaiverRequired)
	assert.Equal(t, 0, verdict.DebateRounds)
	assert.True(t, strings.HasPrefix(verdict.ProvenanceID, "CAWS-VERDICT-"))

	rec, err := store.Get(context.Background(), verdict.ProvenanceID)
	require.NoError(t, err)
	assert.Equal(t, "CAWS-Verdict-Id: "+verdict.ProvenanceID, rec.Record.GitTrailer)
}

// Scenario 2 (§8): a T1 change budget breach on both axes yields
// WaiverRequired with "CAWS violations: 2".
func TestAdjudicate_ChangeBudgetBreach(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeCompliance}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{
		model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
		model.JudgeSecurity:         approveVerdict(0.9, 0.9),
		model.JudgeCompliance:       approveVerdict(0.9, 0.9),
	}}
	ctrl, _ := newTestController(t, runner, roster, nil)

	spec := standardSpec(t)
	spec.RiskTier = model.RiskTierCritical
	spec.ChangeBudget = model.ChangeBudget{MaxFiles: 10, MaxLOC: 500}

	output := standardOutput()
	output.DiffStats = model.DiffStats{
		FilesChanged: 12,
		LinesChanged: 640,
		TouchedPaths: []string{"src/a.rs"},
	}
	output.Metadata = map[string]string{"approver": "release-lead"}

	verdict, err := ctrl.Adjudicate(context.Background(), spec, []model.WorkerOutput{output},
		WithTestAnalysis(policy.TestAnalysis{TestsAdded: true, Deterministic: true}))
	require.NoError(t, err)

	assert.Equal(t, model.StatusWaiverRequired, verdict.Status)
	assert.True(t, verdict.WaiverRequired)
	assert.Contains(t, verdict.WaiverReason, "CAWS violations: 2")
}

// Scenario 3 (§8): a split council (2 Approve / 2 Reject / 1 Refine) falls
// below the consensus threshold and surfaces as NeedsClarification.
func TestAdjudicate_SplitCouncil(t *testing.T) {
	roster := []model.JudgeType{
		model.JudgeQualityAssurance, model.JudgeArchitecture,
		model.JudgeSecurity, model.JudgePerformance, model.JudgeTesting,
	}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{
		model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
		model.JudgeArchitecture:     approveVerdict(0.9, 0.9),
		model.JudgeSecurity:         rejectVerdict(0.85),
		model.JudgePerformance:      rejectVerdict(0.85),
		model.JudgeTesting:          refineVerdict(0.8),
	}}
	ctrl, _ := newTestController(t, runner, roster, func(cfg *Config) {
		cfg.Council.WeightBySpecialization = false
	})

	verdict, err := ctrl.Adjudicate(context.Background(), standardSpec(t), []model.WorkerOutput{standardOutput()})
	require.NoError(t, err)

	assert.Equal(t, model.StatusNeedsClarification, verdict.Status)
	assert.NotEmpty(t, verdict.ConflictingFactors)
	assert.Contains(t, verdict.Reason, "below threshold")
}

// Scenario 6 (§8): one judge fails out of four; quorum holds at three and the
// verdict records 3/4 participation.
func TestAdjudicate_JudgeTimeout(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgePerformance, model.JudgeTesting}
	runner := &scriptedRunner{
		verdicts: map[model.JudgeType]model.JudgeVerdict{
			model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
			model.JudgeSecurity:         approveVerdict(0.9, 0.9),
			model.JudgePerformance:      approveVerdict(0.9, 0.9),
		},
		failures: map[model.JudgeType]error{
			model.JudgeTesting: context.DeadlineExceeded,
		},
	}
	ctrl, _ := newTestController(t, runner, roster, nil)

	verdict, err := ctrl.Adjudicate(context.Background(), standardSpec(t), []model.WorkerOutput{standardOutput()})
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, verdict.Status)
	assert.Contains(t, verdict.Reason, "judges 3/4")
}

// One judge short of quorum bubbles a QuorumFailure (§8 boundary behavior).
func TestAdjudicate_QuorumFailure(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeTesting}
	runner := &scriptedRunner{
		verdicts: map[model.JudgeType]model.JudgeVerdict{
			model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
			model.JudgeSecurity:         approveVerdict(0.9, 0.9),
		},
		failures: map[model.JudgeType]error{
			model.JudgeTesting: errors.New("judge backend unavailable"),
		},
	}
	ctrl, _ := newTestController(t, runner, roster, nil)

	_, err := ctrl.Adjudicate(context.Background(), standardSpec(t), []model.WorkerOutput{standardOutput()})
	var qf *acerr.QuorumFailure
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, 2, qf.Available)
	assert.Equal(t, 3, qf.Required)
}

// A quorum failure with a HumanGate configured resolves to the operator's
// override verdict instead of an error.
func TestAdjudicate_QuorumFailureHumanOverride(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeTesting}
	runner := &scriptedRunner{
		verdicts: map[model.JudgeType]model.JudgeVerdict{
			model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
		},
		failures: map[model.JudgeType]error{
			model.JudgeSecurity: errors.New("down"),
			model.JudgeTesting:  errors.New("down"),
		},
	}
	cfg := DefaultConfig()
	cfg.EnableClaimExtraction = false
	cfg.EnableDebateProtocol = false
	pool := judges.New(roster, runner, judges.WithDeadlines(time.Second, 2*time.Second))
	signer, err := provenance.NewEphemeralSigner()
	require.NoError(t, err)
	publisher := provenance.NewPublisher(newMemStore(), signer, nil)
	gate := gateFunc(func(_ context.Context, req HumanDecisionRequest) (HumanDecision, error) {
		assert.Contains(t, req.Reason, "quorum failure")
		return HumanDecision{Status: model.StatusRejected, Confidence: 0.2, Rationale: "insufficient review coverage"}, nil
	})
	ctrl := New(pool, nil, publisher, cfg, WithHumanGate(gate))

	verdict, err := ctrl.Adjudicate(context.Background(), standardSpec(t), []model.WorkerOutput{standardOutput()})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "human override")
}

type gateFunc func(ctx context.Context, req HumanDecisionRequest) (HumanDecision, error)

func (f gateFunc) Decide(ctx context.Context, req HumanDecisionRequest) (HumanDecision, error) {
	return f(ctx, req)
}

// Two adjudications over identical inputs yield identical status, confidence,
// and reason (§8 determinism invariant; provenance_id is freshly minted).
func TestAdjudicate_Deterministic(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgePerformance}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{
		model.JudgeQualityAssurance: approveVerdict(0.92, 0.9),
		model.JudgeSecurity:         approveVerdict(0.88, 0.85),
		model.JudgePerformance:      approveVerdict(0.90, 0.9),
	}}
	ctrl, _ := newTestController(t, runner, roster, nil)

	spec := standardSpec(t)
	outputs := []model.WorkerOutput{standardOutput()}

	first, err := ctrl.Adjudicate(context.Background(), spec, outputs)
	require.NoError(t, err)
	second, err := ctrl.Adjudicate(context.Background(), spec, outputs)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Reason, second.Reason)
	assert.NotEqual(t, first.ProvenanceID, second.ProvenanceID)
}

func TestAdjudicate_InvalidWorkerOutput(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeTesting}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{}}
	ctrl, _ := newTestController(t, runner, roster, nil)
	spec := standardSpec(t)

	t.Run("no outputs", func(t *testing.T) {
		_, err := ctrl.Adjudicate(context.Background(), spec, nil)
		require.ErrorIs(t, err, acerr.ErrInvalidWorkerOutput)
	})

	t.Run("inconsistent task_id", func(t *testing.T) {
		a := standardOutput()
		b := standardOutput()
		b.TaskID = "task-other"
		_, err := ctrl.Adjudicate(context.Background(), spec, []model.WorkerOutput{a, b})
		require.ErrorIs(t, err, acerr.ErrInvalidWorkerOutput)
	})

	t.Run("empty content", func(t *testing.T) {
		o := standardOutput()
		o.Content = "   "
		_, err := ctrl.Adjudicate(context.Background(), spec, []model.WorkerOutput{o})
		require.ErrorIs(t, err, acerr.ErrInvalidWorkerOutput)
	})
}

// An operator abort emits a published Rejected verdict instead of an error.
func TestAdjudicate_Abort(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeTesting}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{
		model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
		model.JudgeSecurity:         approveVerdict(0.9, 0.9),
		model.JudgeTesting:          approveVerdict(0.9, 0.9),
	}}
	ctrl, store := newTestController(t, runner, roster, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	verdict, err := ctrl.Adjudicate(ctx, standardSpec(t), []model.WorkerOutput{standardOutput()})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, verdict.Status)
	assert.Equal(t, "aborted by operator", verdict.Reason)

	_, err = store.Get(context.Background(), verdict.ProvenanceID)
	require.NoError(t, err)
}

func TestPreviewWaiverRequirements(t *testing.T) {
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeCompliance}
	ctrl, _ := newTestController(t, &scriptedRunner{}, roster, nil)

	spec := standardSpec(t)
	violations := ctrl.PreviewWaiverRequirements(spec, model.DiffStats{
		FilesChanged: 60,
		LinesChanged: 100,
		TouchedPaths: []string{"src/a.rs"},
	})
	kinds := make([]string, 0, len(violations))
	for _, v := range violations {
		kinds = append(kinds, v.Kind)
	}
	assert.Contains(t, kinds, "change_budget_files")
	assert.Contains(t, kinds, "tests_required") // 60 files tripped the generation-task test gate too
}

func TestPlanRecovery(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		first RecoveryStrategy
	}{
		{"quorum failure goes to human", &acerr.QuorumFailure{Available: 2, Required: 3}, StrategyHumanIntervention},
		{"invalid input aborts", fmt.Errorf("%w: empty", acerr.ErrInvalidWorkerOutput), StrategyAbort},
		{"timeout never retries", acerr.ErrTimeout, StrategyFallback},
		{"external service retries", acerr.NewExternalServiceError("claim-source", errors.New("503")), StrategyRetry},
		{"resource exhaustion degrades", acerr.ErrResourceExhaustion, StrategyGracefulDegradation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanRecovery(tt.err)
			require.NotEmpty(t, plan)
			assert.Equal(t, tt.first, plan[0])
			assert.Equal(t, StrategyAbort, plan[len(plan)-1])
		})
	}
}
