package claims

import (
	"time"

	"github.com/ace-labs/ace/internal/model"
)

// Aggregate computes factual_accuracy_score and caws_compliance_score over a
// set of verification results and their evidence, per §4.3 stage 6.
func Aggregate(results []model.ClaimVerificationResult, evidenceByClaim map[string][]model.Evidence, now time.Time) (factualAccuracy, cawsCompliance float64) {
	if len(results) == 0 {
		return 0, 0.7
	}

	verified := 0
	var accuracyBoost float64
	cawsCompliance = 0.7

	for _, r := range results {
		if r.Status == model.StatusVerified {
			verified++
		}

		evidence := evidenceByClaim[r.ClaimID]
		maxConfidence := 0.0
		distinctSources := map[model.EvidenceSourceKind]struct{}{}
		hasFreshEvidence := false
		for _, e := range evidence {
			if e.Confidence > maxConfidence {
				maxConfidence = e.Confidence
			}
			distinctSources[e.Source.Kind] = struct{}{}
			if now.Sub(e.Timestamp) < time.Hour {
				hasFreshEvidence = true
			}
		}

		if maxConfidence > 0.9 {
			accuracyBoost += 0.05
		}
		if len(distinctSources) >= 2 {
			cawsCompliance += 0.1
		}
		if hasFreshEvidence {
			cawsCompliance += 0.05
		}
		if maxConfidence > 0.8 {
			cawsCompliance += 0.05
		}
	}

	factualAccuracy = float64(verified)/float64(len(results)) + accuracyBoost
	return clamp01(factualAccuracy), clamp01(cawsCompliance)
}

// EvidenceForResult synthesizes the Evidence items backing a verification
// result from its per-lens scores, so the caws_compliance_score bonuses in
// Aggregate have concrete evidence to inspect. Each of the cross-reference,
// code-behavior, authority and context-dependency lenses with a positive
// score becomes one Evidence item; the semantic lens contributes none.
func EvidenceForResult(r model.ClaimVerificationResult, now time.Time) []model.Evidence {
	type lens struct {
		kind  model.EvidenceSourceKind
		score float64
		label string
	}
	lenses := []lens{
		{model.SourceDocs, r.Lenses.CrossReference, "cross_reference"},
		{model.SourceCode, r.Lenses.CodeBehavior, "code_behavior"},
		{model.SourceURL, r.Lenses.Authority, "authority"},
		{model.SourceHistory, r.Lenses.ContextDependency, "context_dependency"},
	}
	var out []model.Evidence
	for _, l := range lenses {
		if l.score <= 0 {
			continue
		}
		out = append(out, model.Evidence{
			ID:         r.ClaimID + "-" + l.label,
			ClaimID:    r.ClaimID,
			Type:       l.label,
			Confidence: l.score,
			Relevance:  l.score,
			Source:     model.EvidenceSource{Kind: l.kind, Authority: l.score},
			Timestamp:  now,
		})
	}
	return out
}
