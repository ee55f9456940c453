// Package council implements C2, the Verdict Aggregator: it collapses N
// JudgeContributions into one CouncilDecision with a quantified consensus
// strength, following the weighting, consensus, and decision-rule formulas
// of spec §4.2. The additive threshold-bucket style of the scoring functions
// here is grounded on internal/service/quality's Score function in the
// teacher repo.
package council

// DissentPolicyKind selects how C2 reacts to minority opinions.
type DissentPolicyKind string

const (
	DissentStrict   DissentPolicyKind = "Strict"
	DissentWeighted DissentPolicyKind = "Weighted"
	DissentMajority DissentPolicyKind = "Majority"
)

// DissentPolicy is the closed union over §4.2's three dissent-handling modes.
type DissentPolicy struct {
	Kind      DissentPolicyKind
	Threshold float64 // meaningful for Weighted and Majority
}

// RiskAggregationMode selects how Approve-path risk assessments are combined.
type RiskAggregationMode string

const (
	RiskMostConservative   RiskAggregationMode = "MostConservative"
	RiskWeightedAverage    RiskAggregationMode = "WeightedAverage"
	RiskFactorFrequency    RiskAggregationMode = "RiskFactorFrequency"
)

// Config is C2's slice of the startup config surface (spec §6).
type Config struct {
	ConsensusThreshold     float64
	MinJudgesRequired      int
	WeightBySpecialization bool
	DissentHandling        DissentPolicy
	RiskAggregation        RiskAggregationMode
}

// DefaultConfig matches the defaults enumerated in §6.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold:     0.7,
		MinJudgesRequired:      3,
		WeightBySpecialization: true,
		DissentHandling:        DissentPolicy{Kind: DissentWeighted, Threshold: 0.2},
		RiskAggregation:        RiskMostConservative,
	}
}
