package arbitration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ace-labs/ace/internal/claims"
	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/provenance"
)

// cacheCorpus gives full coverage to claims about the cache layer and none to
// anything else, so one debate output verifies cleanly and the other doesn't.
type cacheCorpus struct{}

func (cacheCorpus) SpecCoverage(_ context.Context, text string) (float64, error) {
	if strings.Contains(strings.ToLower(text), "cache") {
		return 1, nil
	}
	return 0, nil
}

func (c cacheCorpus) DocKeywordRelevance(ctx context.Context, text string) (float64, error) {
	return c.SpecCoverage(ctx, text)
}

func (cacheCorpus) AuthorityForURL(_ context.Context, _ string) (float64, error) {
	return 0.5, nil
}

type cacheSource struct{}

func (cacheSource) Find(_ context.Context, _ []string) ([]claims.HistoricalClaim, error) {
	return []claims.HistoricalClaim{{ID: "h1", Text: "the cache layer is invalidated on expiry"}}, nil
}

func (cacheSource) Similarity(_ context.Context, a, b string) (float64, error) {
	if strings.Contains(strings.ToLower(a), "cache") && strings.Contains(strings.ToLower(b), "cache") {
		return 1, nil
	}
	return 0, nil
}

func debateSpec(t *testing.T) model.WorkingSpec {
	spec := standardSpec(t)
	spec.Invariants = []string{"The cache layer evicts expired entries"}
	return spec
}

func debateController(t *testing.T, mutate func(*Config)) (*Controller, *memStore) {
	t.Helper()
	roster := []model.JudgeType{model.JudgeQualityAssurance, model.JudgeSecurity, model.JudgeTesting}
	runner := &scriptedRunner{verdicts: map[model.JudgeType]model.JudgeVerdict{
		model.JudgeQualityAssurance: approveVerdict(0.9, 0.9),
		model.JudgeSecurity:         approveVerdict(0.9, 0.9),
		model.JudgeTesting:          approveVerdict(0.9, 0.9),
	}}
	pool := judges.New(roster, runner, judges.WithDeadlines(time.Second, 2*time.Second))
	signer, err := provenance.NewEphemeralSigner()
	require.NoError(t, err)
	store := newMemStore()
	publisher := provenance.NewPublisher(store, signer, nil)

	verifier := claims.NewVerifier(cacheSource{}, cacheCorpus{}, nil)
	pipeline := claims.NewPipeline(verifier, 0, nil)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(pool, pipeline, publisher, cfg), store
}

func strongOutput() model.WorkerOutput {
	o := standardOutput()
	o.WorkerID = "worker-a"
	o.Content = "The `cache` layer evicts entries after TTL expiry."
	return o
}

func weakOutput() model.WorkerOutput {
	o := standardOutput()
	o.WorkerID = "worker-b"
	o.Content = "Zebra wins outright always."
	return o
}

// Scenario 4 (§8): one output's manifest clears min_verdict_confidence in
// round 1, so the debate stops immediately with that winner.
func TestOrchestrateDebate_ClearWinner(t *testing.T) {
	ctrl, _ := debateController(t, nil)

	result, err := ctrl.OrchestrateDebate(context.Background(), debateSpec(t), []model.WorkerOutput{
		strongOutput(), weakOutput(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.WinningOutputIndex)
	assert.Equal(t, 1, result.DebateRounds)
	assert.GreaterOrEqual(t, result.FactualAccuracyScore, 0.8)
}

// Exhausting max_debate_rounds still returns the argmax (§8 boundary
// behavior) rather than failing.
func TestOrchestrateDebate_MaxRoundsReturnsArgmax(t *testing.T) {
	ctrl, _ := debateController(t, func(cfg *Config) { cfg.MaxDebateRounds = 2 })

	weakA := weakOutput()
	weakB := weakOutput()
	weakB.WorkerID = "worker-c"
	weakB.Content = "Giraffe strolls past quietly today."

	result, err := ctrl.OrchestrateDebate(context.Background(), debateSpec(t), []model.WorkerOutput{weakA, weakB})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DebateRounds)
	assert.Less(t, result.FactualAccuracyScore, 0.8)
}

func TestOrchestrateDebate_RequiresTwoOutputs(t *testing.T) {
	ctrl, _ := debateController(t, nil)
	_, err := ctrl.OrchestrateDebate(context.Background(), debateSpec(t), []model.WorkerOutput{strongOutput()})
	require.Error(t, err)
}

// A full adjudication over competing outputs runs the debate, adjudicates the
// winner, and clamps the rubric confidence at 1.0 (scenario 1's clamp).
func TestAdjudicate_WithDebate(t *testing.T) {
	ctrl, store := debateController(t, nil)

	verdict, err := ctrl.Adjudicate(context.Background(), debateSpec(t), []model.WorkerOutput{
		strongOutput(), weakOutput(),
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, verdict.Status)
	assert.Equal(t, 1.0, verdict.Confidence)
	assert.Equal(t, 1, verdict.DebateRounds)
	require.NotNil(t, verdict.EvidenceManifest)
	assert.GreaterOrEqual(t, verdict.EvidenceManifest.FactualAccuracyScore, 0.8)

	// The persisted record links every evidence item back to its claim (§6).
	rec, err := store.Get(context.Background(), verdict.ProvenanceID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Record.EvidenceLinks)
	assert.Equal(t, model.StatusVerified, rec.Record.EvidenceLinks[0].VerificationStatus)
}

func TestSelectWinner_Tiebreaks(t *testing.T) {
	mk := func(factual, caws float64, latency time.Duration) debateCandidate {
		return debateCandidate{
			manifest: model.EvidenceManifest{FactualAccuracyScore: factual, CAWSComplianceScore: caws},
			latency:  latency,
		}
	}

	t.Run("argmax on factual accuracy", func(t *testing.T) {
		assert.Equal(t, 1, selectWinner([]debateCandidate{mk(0.6, 0.9, 0), mk(0.8, 0.1, 0)}))
	})
	t.Run("compliance breaks factual ties", func(t *testing.T) {
		assert.Equal(t, 1, selectWinner([]debateCandidate{mk(0.8, 0.5, 0), mk(0.8, 0.9, 0)}))
	})
	t.Run("latency breaks remaining ties", func(t *testing.T) {
		assert.Equal(t, 1, selectWinner([]debateCandidate{
			mk(0.8, 0.9, 200*time.Millisecond),
			mk(0.8, 0.9, 100*time.Millisecond),
		}))
	})
	t.Run("lower index wins a full tie", func(t *testing.T) {
		assert.Equal(t, 0, selectWinner([]debateCandidate{
			mk(0.8, 0.9, 100*time.Millisecond),
			mk(0.8, 0.9, 100*time.Millisecond),
		}))
	})
}
