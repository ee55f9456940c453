package council

import (
	"time"

	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/model"
)

// confidenceThreshold is the per-variant bar a verdict's confidence must
// clear for the "high confidence" contribution_quality bonus, per §4.2. The
// spec names the check but not the per-variant thresholds; these mirror the
// variant's own typical confidence floor (Approve verdicts run hotter than
// Refine/Reject in practice) and are documented as an Open Question
// resolution in DESIGN.md.
func confidenceThreshold(kind model.VerdictKind) float64 {
	switch kind {
	case model.VerdictApprove:
		return 0.7
	default:
		return 0.6
	}
}

// contributionQuality computes contribution_quality ∈ [0,1] per §4.2.
func contributionQuality(c model.JudgeContribution) float64 {
	quality := 0.8

	hasEvidence := true
	switch c.Verdict.Kind {
	case model.VerdictRefine:
		hasEvidence = len(c.Verdict.RequiredChanges) > 0
	case model.VerdictReject:
		hasEvidence = len(c.Verdict.CriticalIssues) > 0
	}

	if c.Verdict.Confidence > confidenceThreshold(c.Verdict.Kind) && len(c.Verdict.Reasoning) >= 50 && hasEvidence {
		quality += 0.1
	}

	switch {
	case c.ProcessingTime > 5*time.Second:
		quality += 0.05
	case c.ProcessingTime < 1*time.Second:
		quality -= 0.05
	}

	return clamp01(quality)
}

// weight computes weight = 0.7·specialization + 0.3·quality, or 1.0 when
// weighting is disabled, per §4.2.
func weight(c model.JudgeContribution, taskDescription string, riskTier model.RiskTier, cfg Config) model.WeightedContribution {
	spec := judges.SpecializationScore(c.JudgeType, taskDescription, riskTier)
	qual := contributionQuality(c)

	w := 1.0
	if cfg.WeightBySpecialization {
		w = 0.7*spec + 0.3*qual
	}

	return model.WeightedContribution{
		JudgeContribution:   c,
		Weight:              w,
		SpecializationScore: spec,
		ContributionQuality: qual,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
