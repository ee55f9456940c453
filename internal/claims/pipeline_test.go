package claims

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ace-labs/ace/internal/model"
)

// coverageCorpus verifies claims mentioning the cache and nothing else.
type coverageCorpus struct{}

func (coverageCorpus) SpecCoverage(_ context.Context, text string) (float64, error) {
	if strings.Contains(strings.ToLower(text), "cache") {
		return 1, nil
	}
	return 0, nil
}

func (c coverageCorpus) DocKeywordRelevance(ctx context.Context, text string) (float64, error) {
	return c.SpecCoverage(ctx, text)
}

func (coverageCorpus) AuthorityForURL(_ context.Context, _ string) (float64, error) {
	return 0.5, nil
}

type matchingSource struct{}

func (matchingSource) Find(_ context.Context, _ []string) ([]HistoricalClaim, error) {
	return []HistoricalClaim{{ID: "h1", Text: "the cache layer is invalidated on expiry"}}, nil
}

func (matchingSource) Similarity(_ context.Context, a, b string) (float64, error) {
	if strings.Contains(strings.ToLower(a), "cache") && strings.Contains(strings.ToLower(b), "cache") {
		return 1, nil
	}
	return 0, nil
}

func pipelineSpec() model.WorkingSpec {
	return model.WorkingSpec{
		ID:          uuid.New(),
		Title:       "cache eviction",
		RiskTier:    model.RiskTierStandard,
		Scope:       model.Scope{IncludedGlobs: []string{"src/**"}},
		Invariants:  []string{"The cache layer evicts expired entries"},
		AcceptanceCriteria: []model.AcceptanceCriterion{
			{Given: "a cached entry", When: "its TTL expires", Then: "the entry is evicted"},
		},
	}
}

func TestPipeline_VerifiesGroundedClaims(t *testing.T) {
	pipeline := NewPipeline(NewVerifier(matchingSource{}, coverageCorpus{}, nil), 0, nil)
	output := model.WorkerOutput{
		WorkerID: "worker-a",
		TaskID:   "task-1",
		Content:  "The `cache` layer evicts entries after TTL expiry.",
	}

	manifest := pipeline.Run(context.Background(), output, pipelineSpec())
	require.NotEmpty(t, manifest.Claims)
	require.Len(t, manifest.VerificationResults, len(manifest.Claims))
	assert.Equal(t, model.StatusVerified, manifest.VerificationResults[0].Status)
	assert.GreaterOrEqual(t, manifest.FactualAccuracyScore, 0.8)

	// The per-claim evidence the scorer saw rides on the result, so the
	// provenance publisher can link it.
	require.NotEmpty(t, manifest.VerificationResults[0].Evidence)
	for _, e := range manifest.VerificationResults[0].Evidence {
		assert.Equal(t, manifest.VerificationResults[0].ClaimID, e.ClaimID)
	}
}

func TestPipeline_UngroundedClaimsStayUnverified(t *testing.T) {
	pipeline := NewPipeline(NewVerifier(matchingSource{}, coverageCorpus{}, nil), 0, nil)
	output := model.WorkerOutput{
		WorkerID: "worker-b",
		TaskID:   "task-1",
		Content:  "Zebra wins outright always.",
	}

	manifest := pipeline.Run(context.Background(), output, pipelineSpec())
	require.NotEmpty(t, manifest.VerificationResults)
	assert.Equal(t, model.StatusUnverified, manifest.VerificationResults[0].Status)
	assert.Equal(t, 0.0, manifest.FactualAccuracyScore)
	assert.GreaterOrEqual(t, manifest.CAWSComplianceScore, 0.7) // base score survives unverified claims
}

// Noop collaborators keep the pipeline total: nothing verifies, nothing fails.
func TestPipeline_NoopCollaborators(t *testing.T) {
	pipeline := NewPipeline(NewVerifier(nil, nil, nil), 0, nil)
	output := model.WorkerOutput{
		WorkerID: "worker-c",
		TaskID:   "task-1",
		Content:  "1. Added input validation\n2. Added a regression test",
	}

	manifest := pipeline.Run(context.Background(), output, pipelineSpec())
	assert.Len(t, manifest.Claims, 2)
	for _, r := range manifest.VerificationResults {
		assert.NotEqual(t, model.StatusVerified, r.Status)
	}
}

// The context lens's scope-boundary check: a claim referencing a path
// outside the spec's scope loses the scope bonus.
func TestVerifyClaim_ScopeBoundary(t *testing.T) {
	v := NewVerifier(nil, nil, nil)
	spec := pipelineSpec() // scope is src/**

	inside := model.AtomicClaim{
		ID:        "c-in",
		ClaimText: "Zebra touches src/cache/evict.go only",
		Subject:   "Zebra",
	}
	outside := model.AtomicClaim{
		ID:        "c-out",
		ClaimText: "Zebra touches docs/readme.md only",
		Subject:   "Zebra",
	}

	rin := v.VerifyClaim(context.Background(), inside, spec)
	rout := v.VerifyClaim(context.Background(), outside, spec)
	assert.InDelta(t, 0.1, rin.Lenses.ContextDependency, 1e-9)
	assert.InDelta(t, 0.0, rout.Lenses.ContextDependency, 1e-9)
}

func TestMergeManifests_WeightsByClaimCount(t *testing.T) {
	a := model.EvidenceManifest{
		Claims:               make([]model.AtomicClaim, 3),
		FactualAccuracyScore: 0.9,
		CAWSComplianceScore:  0.9,
	}
	b := model.EvidenceManifest{
		Claims:               make([]model.AtomicClaim, 1),
		FactualAccuracyScore: 0.1,
		CAWSComplianceScore:  0.5,
	}

	merged := MergeManifests([]model.EvidenceManifest{a, b})
	assert.Len(t, merged.Claims, 4)
	assert.InDelta(t, 0.7, merged.FactualAccuracyScore, 1e-9) // (0.9·3 + 0.1·1) / 4
	assert.InDelta(t, 0.8, merged.CAWSComplianceScore, 1e-9)
}

func TestMergeManifests_Empty(t *testing.T) {
	merged := MergeManifests(nil)
	assert.Zero(t, merged.FactualAccuracyScore)
	assert.Empty(t, merged.Claims)
}

func TestCorefCache_LRUEviction(t *testing.T) {
	cache := NewCorefCache(2)
	cache.Put("a", "1")
	cache.Put("b", "2")

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Put("c", "3")
	assert.Equal(t, 2, cache.Len())

	_, ok = cache.Get("b")
	assert.False(t, ok, "least-recently-used entry must be evicted")
	v, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestAggregate_Boosts(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	results := []model.ClaimVerificationResult{
		{ClaimID: "c1", Status: model.StatusVerified},
		{ClaimID: "c2", Status: model.StatusUnverified},
	}
	evidence := map[string][]model.Evidence{
		"c1": {
			{ClaimID: "c1", Confidence: 0.95, Source: model.EvidenceSource{Kind: model.SourceDocs}, Timestamp: now.Add(-10 * time.Minute)},
			{ClaimID: "c1", Confidence: 0.6, Source: model.EvidenceSource{Kind: model.SourceCode}, Timestamp: now.Add(-2 * time.Hour)},
		},
	}

	factual, caws := Aggregate(results, evidence, now)
	// 1 of 2 verified + 0.05 boost for the >0.9-confidence evidence.
	assert.InDelta(t, 0.55, factual, 1e-9)
	// base 0.7 + 0.1 (two distinct sources) + 0.05 (fresh) + 0.05 (conf > 0.8).
	assert.InDelta(t, 0.9, caws, 1e-9)
}
