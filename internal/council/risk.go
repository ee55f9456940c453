package council

import "github.com/ace-labs/ace/internal/model"

// riskLevelWeight maps a RiskLevel to a number for WeightedAverage.
func riskLevelWeight(l model.RiskLevel) float64 {
	return float64(l)
}

func riskLevelFromScore(score float64) model.RiskLevel {
	switch {
	case score >= float64(model.RiskCritical)-0.5:
		return model.RiskCritical
	case score >= float64(model.RiskHigh)-0.5:
		return model.RiskHigh
	case score >= float64(model.RiskMedium)-0.5:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// aggregateRisk combines the RiskAssessments of the Approve-bucket
// contributions per the configured RiskAggregationMode (§4.2). Resolves the
// Open Question flagged in §9: WeightedAverage here is a genuine weighted
// mean over risk levels, not an alias for max.
func aggregateRisk(approves []model.WeightedContribution, mode RiskAggregationMode) model.RiskAssessment {
	if len(approves) == 0 {
		return model.RiskAssessment{Level: model.RiskLow}
	}

	var factors []string
	for _, c := range approves {
		factors = append(factors, c.Verdict.RiskAssessment.Factors...)
	}

	switch mode {
	case RiskWeightedAverage:
		var weightedSum, totalWeight float64
		for _, c := range approves {
			weightedSum += riskLevelWeight(c.Verdict.RiskAssessment.Level) * c.Weight
			totalWeight += c.Weight
		}
		var mean float64
		if totalWeight > 0 {
			mean = weightedSum / totalWeight
		}
		return model.RiskAssessment{Level: riskLevelFromScore(mean), Factors: factors}

	case RiskFactorFrequency:
		n := len(factors)
		var level model.RiskLevel
		switch {
		case n > 5:
			level = model.RiskCritical
		case n > 2:
			level = model.RiskHigh
		case n > 0:
			level = model.RiskMedium
		default:
			level = model.RiskLow
		}
		return model.RiskAssessment{Level: level, Factors: factors}

	default: // RiskMostConservative
		max := model.RiskLow
		for _, c := range approves {
			if c.Verdict.RiskAssessment.Level > max {
				max = c.Verdict.RiskAssessment.Level
			}
		}
		return model.RiskAssessment{Level: max, Factors: factors}
	}
}
