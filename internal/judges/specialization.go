package judges

import (
	"strings"

	"github.com/ace-labs/ace/internal/model"
)

// keywordBuckets maps a judge type to the task-description keywords that
// raise its specialization score, per §4.2.
var keywordBuckets = map[model.JudgeType][]string{
	model.JudgeSecurity:     {"auth", "password", "encrypt", "token", "credential", "secret"},
	model.JudgePerformance:  {"speed", "optimize", "latency", "throughput", "cache"},
	model.JudgeArchitecture: {"design", "interface", "module", "dependency", "coupling"},
	model.JudgeTesting:      {"test", "coverage", "assert", "fixture"},
	model.JudgeDomainExpert: {},
	// Ethics has no generic keyword bonus here: its entire bonus is the
	// dedicated +0.4 (T1 or privacy/fairness keywords) handled below, per
	// §4.2 — folding it into the generic +0.3 loop too would double-count.
}

// SpecializationScore computes the [0.5, 1.0] specialization_score for
// judgeType against a task description and risk tier, per §4.2's weighting
// formula. C1 declares this function; C2 is its only caller.
func SpecializationScore(judgeType model.JudgeType, taskDescription string, riskTier model.RiskTier) float64 {
	score := 0.5
	lower := strings.ToLower(taskDescription)

	for _, kw := range keywordBuckets[judgeType] {
		if strings.Contains(lower, kw) {
			score += 0.3
			break
		}
	}

	switch judgeType {
	case model.JudgeCompliance:
		if riskTier == model.RiskTierCritical {
			score += 0.4
		}
	case model.JudgeEthics:
		if riskTier == model.RiskTierCritical {
			score += 0.4
		} else {
			for _, kw := range []string{"privacy", "fairness", "bias", "consent"} {
				if strings.Contains(lower, kw) {
					score += 0.4
					break
				}
			}
		}
	case model.JudgeDomainExpert:
		if riskTier < model.RiskTierStandard {
			score += 0.2
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
