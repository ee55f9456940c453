package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
)

func approveContribution(id string, confidence, quality float64) model.JudgeContribution {
	return model.JudgeContribution{
		JudgeID:   id,
		JudgeType: model.JudgeQualityAssurance,
		Verdict: model.JudgeVerdict{
			Kind:         model.VerdictApprove,
			Confidence:   confidence,
			Reasoning:    "looks correct and well tested across the relevant call sites",
			QualityScore: quality,
		},
	}
}

func rejectContribution(id string, confidence float64) model.JudgeContribution {
	return model.JudgeContribution{
		JudgeID:   id,
		JudgeType: model.JudgeSecurity,
		Verdict: model.JudgeVerdict{
			Kind:           model.VerdictReject,
			Confidence:     confidence,
			Reasoning:      "introduces an unauthenticated path to a sensitive resource",
			CriticalIssues: []model.CriticalIssue{{Category: "security", Severity: "high", Description: "missing auth check"}},
		},
	}
}

func refineContribution(id string, confidence float64) model.JudgeContribution {
	return model.JudgeContribution{
		JudgeID:   id,
		JudgeType: model.JudgeTesting,
		Verdict: model.JudgeVerdict{
			Kind:            model.VerdictRefine,
			Confidence:      confidence,
			Reasoning:       "needs additional edge-case coverage before this can land",
			RequiredChanges: []model.RequiredChange{{Category: "tests", Description: "add edge case coverage", Impact: model.ImpactMinor}},
		},
	}
}

// Scenario 1 (§8): 4 judges all Approve with varying confidence → Approve,
// unanimous consensus.
func TestAggregate_CleanApproval(t *testing.T) {
	contributions := []model.JudgeContribution{
		approveContribution("j1", 0.92, 0.9),
		approveContribution("j2", 0.88, 0.85),
		approveContribution("j3", 0.90, 0.9),
		approveContribution("j4", 0.86, 0.8),
	}
	cfg := DefaultConfig()
	cfg.WeightBySpecialization = false // isolate the consensus/decision-rule logic from weighting

	result, err := Aggregate(contributions, "general change", model.RiskTierStandard, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.CouncilApprove, result.CouncilDecision.Kind)
	assert.Equal(t, 1.0, result.ConsensusStrength)
	assert.Equal(t, model.AgreementUnanimous, result.AgreementLevel)
	assert.Empty(t, result.DissentingOpinions)
}

// Scenario 3 (§8): 5 judges split 2 Approve / 2 Reject / 1 Refine, equal
// weights → consensus_strength 0.40 < 0.7 → Inconclusive.
func TestAggregate_SplitCouncil(t *testing.T) {
	contributions := []model.JudgeContribution{
		approveContribution("j1", 0.9, 0.9),
		approveContribution("j2", 0.9, 0.9),
		rejectContribution("j3", 0.85),
		rejectContribution("j4", 0.85),
		refineContribution("j5", 0.8),
	}
	cfg := DefaultConfig()
	cfg.WeightBySpecialization = false

	result, err := Aggregate(contributions, "general change", model.RiskTierStandard, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.CouncilInconclusive, result.CouncilDecision.Kind)
	assert.InDelta(t, 0.40, result.ConsensusStrength, 0.01)
	assert.NotEmpty(t, result.CouncilDecision.ConflictingFactors)
}

// Scenario 5 (§8): dissent_handling=Weighted(0.2), 10 judges 7 Approve / 3
// Reject → dissent_weight 0.30 > 0.20 → Inconclusive mentioning the ratio.
func TestAggregate_DissentAboveThreshold(t *testing.T) {
	var contributions []model.JudgeContribution
	for i := 0; i < 7; i++ {
		contributions = append(contributions, approveContribution(idx("approve", i), 0.9, 0.9))
	}
	for i := 0; i < 3; i++ {
		contributions = append(contributions, rejectContribution(idx("reject", i), 0.85))
	}
	cfg := DefaultConfig()
	cfg.WeightBySpecialization = false
	cfg.DissentHandling = DissentPolicy{Kind: DissentWeighted, Threshold: 0.2}

	result, err := Aggregate(contributions, "general change", model.RiskTierStandard, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.CouncilInconclusive, result.CouncilDecision.Kind)
	assert.Contains(t, result.CouncilDecision.Reason, "0.30")
	assert.Contains(t, result.CouncilDecision.Reason, "0.20")
}

func TestAggregate_QuorumFailure(t *testing.T) {
	contributions := []model.JudgeContribution{
		approveContribution("j1", 0.9, 0.9),
		approveContribution("j2", 0.9, 0.9),
	}
	_, err := Aggregate(contributions, "general change", model.RiskTierStandard, DefaultConfig())
	require.Error(t, err)
	var qf *acerr.QuorumFailure
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, 2, qf.Available)
	assert.Equal(t, 3, qf.Required)
}

func idx(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}
