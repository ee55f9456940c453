package council

import (
	"fmt"
	"sort"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
)

// Aggregate collapses contributions into an AggregationResult, per §4.2.
// taskDescription feeds specialization scoring; contributions must all share
// the judge set collected by C1 for one ReviewContext.
func Aggregate(contributions []model.JudgeContribution, taskDescription string, riskTier model.RiskTier, cfg Config) (model.AggregationResult, error) {
	if len(contributions) < cfg.MinJudgesRequired {
		return model.AggregationResult{}, &acerr.QuorumFailure{Available: len(contributions), Required: cfg.MinJudgesRequired}
	}

	weighted := make([]model.WeightedContribution, 0, len(contributions))
	for _, c := range contributions {
		weighted = append(weighted, weight(c, taskDescription, riskTier, cfg))
	}
	// Fixed lexicographic tiebreak on judge_id (§5) for deterministic
	// aggregation independent of judge execution order.
	sort.Slice(weighted, func(i, j int) bool { return weighted[i].JudgeID < weighted[j].JudgeID })

	buckets := map[model.VerdictKind][]model.WeightedContribution{}
	var totalWeight float64
	for _, w := range weighted {
		buckets[w.Verdict.Kind] = append(buckets[w.Verdict.Kind], w)
		totalWeight += w.Weight
	}

	dominantKind, dominantWeight := dominantBucket(buckets)
	consensusStrength := 0.0
	if totalWeight > 0 {
		consensusStrength = dominantWeight / totalWeight
	}
	agreement := agreementLevel(consensusStrength)
	dissent := dissentSummaries(weighted, dominantKind)

	result := model.AggregationResult{
		ConsensusStrength:  consensusStrength,
		AgreementLevel:     agreement,
		JudgeContributions: weighted,
		DissentingOpinions: dissent,
		AggregationMetadata: map[string]string{
			"participating_judges": fmt.Sprintf("%d", len(contributions)),
		},
	}

	if consensusStrength < cfg.ConsensusThreshold {
		result.CouncilDecision = inconclusive(fmt.Sprintf("below threshold: consensus strength %.2f < %.2f", consensusStrength, cfg.ConsensusThreshold), dissent)
		return result, nil
	}

	if reason, inconclusive := applyDissentPolicy(cfg.DissentHandling, weighted, dominantKind, totalWeight); inconclusive {
		result.CouncilDecision = inconclusiveDecision(reason, dissent)
		return result, nil
	}

	result.CouncilDecision = buildDecision(dominantKind, buckets, weighted, cfg)
	return result, nil
}

func dominantBucket(buckets map[model.VerdictKind][]model.WeightedContribution) (model.VerdictKind, float64) {
	// Ties broken Approve > Refine > Reject, per §4.2.
	order := []model.VerdictKind{model.VerdictApprove, model.VerdictRefine, model.VerdictReject}
	var best model.VerdictKind
	bestWeight := -1.0
	for _, kind := range order {
		w := sumWeight(buckets[kind])
		if w > bestWeight {
			best, bestWeight = kind, w
		}
	}
	return best, bestWeight
}

func sumWeight(cs []model.WeightedContribution) float64 {
	var sum float64
	for _, c := range cs {
		sum += c.Weight
	}
	return sum
}

func agreementLevel(strength float64) model.AgreementLevel {
	switch {
	case strength >= 0.9:
		return model.AgreementUnanimous
	case strength >= 0.8:
		return model.AgreementStrongMajority
	case strength >= 0.7:
		return model.AgreementMajority
	case strength >= 0.6:
		return model.AgreementPlurality
	case strength >= 0.4:
		return model.AgreementSplit
	default:
		return model.AgreementNoConsensus
	}
}

func dissentSummaries(weighted []model.WeightedContribution, dominant model.VerdictKind) []model.DissentSummary {
	var out []model.DissentSummary
	for _, w := range weighted {
		if w.Verdict.Kind != dominant {
			out = append(out, model.DissentSummary{JudgeID: w.JudgeID, Bucket: w.Verdict.Kind, Confidence: w.Verdict.Confidence})
		}
	}
	return out
}

// applyDissentPolicy reports whether the dissent policy forces Inconclusive,
// and a human-readable reason when it does (§4.2, scenario 5 in §8).
func applyDissentPolicy(policy DissentPolicy, weighted []model.WeightedContribution, dominant model.VerdictKind, totalWeight float64) (string, bool) {
	dissentCount := 0
	var dissentWeight float64
	for _, w := range weighted {
		if w.Verdict.Kind != dominant {
			dissentCount++
			dissentWeight += w.Weight
		}
	}

	switch policy.Kind {
	case DissentStrict:
		if dissentCount > 0 {
			return "dissent present under strict policy", true
		}
	case DissentWeighted:
		var ratio float64
		if len(weighted) > 0 {
			ratio = float64(dissentCount) / float64(len(weighted))
		}
		if ratio > policy.Threshold {
			var weightRatio float64
			if totalWeight > 0 {
				weightRatio = dissentWeight / totalWeight
			}
			return fmt.Sprintf("dissent weight %.2f exceeds threshold %.2f", weightRatio, policy.Threshold), true
		}
	case DissentMajority:
		var consensus float64
		if totalWeight > 0 {
			consensus = (totalWeight - dissentWeight) / totalWeight
		}
		if consensus < policy.Threshold {
			return fmt.Sprintf("consensus strength %.2f below majority threshold %.2f", consensus, policy.Threshold), true
		}
	}
	return "", false
}

func buildDecision(dominant model.VerdictKind, buckets map[model.VerdictKind][]model.WeightedContribution, weighted []model.WeightedContribution, cfg Config) model.CouncilDecision {
	switch dominant {
	case model.VerdictApprove:
		approves := buckets[model.VerdictApprove]
		return model.CouncilDecision{
			Kind:           model.CouncilApprove,
			Confidence:     weightedMeanConfidence(approves),
			QualityScore:   weightedMeanQuality(approves),
			RiskAssessment: aggregateRisk(approves, cfg.RiskAggregation),
		}
	case model.VerdictRefine:
		refines := buckets[model.VerdictRefine]
		changes, effort := aggregateRefine(refines)
		return model.CouncilDecision{
			Kind:            model.CouncilRefine,
			Confidence:      weightedMeanConfidence(refines),
			RequiredChanges: changes,
			EstimatedEffort: effort,
		}
	default:
		rejects := buckets[model.VerdictReject]
		var alternatives []string
		seen := make(map[string]struct{})
		for _, c := range rejects {
			for _, a := range c.Verdict.AlternativeApproaches {
				if _, ok := seen[a]; !ok {
					seen[a] = struct{}{}
					alternatives = append(alternatives, a)
				}
			}
		}
		return model.CouncilDecision{
			Kind:           model.CouncilReject,
			Confidence:     weightedMeanConfidence(rejects),
			CriticalIssues: aggregateReject(rejects),
			Alternatives:   alternatives,
		}
	}
}

func weightedMeanConfidence(cs []model.WeightedContribution) float64 {
	var num, den float64
	for _, c := range cs {
		num += c.Verdict.Confidence * c.Weight
		den += c.Weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func weightedMeanQuality(cs []model.WeightedContribution) float64 {
	var num, den float64
	for _, c := range cs {
		num += c.Verdict.QualityScore * c.Weight
		den += c.Weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func inconclusive(reason string, dissent []model.DissentSummary) model.CouncilDecision {
	return inconclusiveDecision(reason, dissent)
}

func inconclusiveDecision(reason string, dissent []model.DissentSummary) model.CouncilDecision {
	factors := make([]string, 0, len(dissent)+1)
	factors = append(factors, reason)
	for _, d := range dissent {
		factors = append(factors, fmt.Sprintf("%s dissented with %s at %.2f confidence", d.JudgeID, d.Bucket, d.Confidence))
	}
	return model.CouncilDecision{
		Kind:               model.CouncilInconclusive,
		Reason:             reason,
		ConflictingFactors: factors,
	}
}
