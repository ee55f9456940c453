package ace

import (
	"time"

	"github.com/google/uuid"
)

// JudgeType names one specialization in the judge pool.
type JudgeType string

const (
	JudgeQualityAssurance JudgeType = "QualityAssurance"
	JudgeSecurity         JudgeType = "Security"
	JudgePerformance      JudgeType = "Performance"
	JudgeArchitecture     JudgeType = "Architecture"
	JudgeTesting          JudgeType = "Testing"
	JudgeCompliance       JudgeType = "Compliance"
	JudgeDomainExpert     JudgeType = "DomainExpert"
	JudgeEthics           JudgeType = "Ethics"
)

// DefaultJudgeRoster is the full eight-type roster used when no roster is
// configured.
func DefaultJudgeRoster() []JudgeType {
	return []JudgeType{
		JudgeQualityAssurance, JudgeSecurity, JudgePerformance, JudgeArchitecture,
		JudgeTesting, JudgeCompliance, JudgeDomainExpert, JudgeEthics,
	}
}

// ReviewRequest is the public view of a judge's review context. It is a
// curated copy of the internal ReviewContext for use in the JudgeRunner
// extension interface. No internal package imports — safe to implement from
// outside the module.
type ReviewRequest struct {
	SpecID          uuid.UUID
	Title           string
	Description     string
	RiskTier        int
	AcceptanceCriteria []AcceptanceCriterion
	Invariants      []string
	SessionID       string
	PreviousReviews []string
	Instructions    string // per-judge instructions, empty when none configured
}

// AcceptanceCriterion is one given/when/then clause of a working spec.
type AcceptanceCriterion struct {
	Given string
	When  string
	Then  string
}

// RequiredChange is one concrete change a Refine verdict asks for.
// Impact is one of "Breaking", "Major", "Moderate", "Minor".
type RequiredChange struct {
	Category    string
	Description string
	Impact      string
}

// CriticalIssue is one reason a Reject verdict gives.
type CriticalIssue struct {
	Category    string
	Severity    string
	Description string
}

// JudgeVerdict is the public tagged union a JudgeRunner returns. Kind is one
// of "Approve", "Refine", "Reject"; the variant's fields must be populated
// accordingly (Refine needs at least one RequiredChange, Reject at least one
// CriticalIssue).
type JudgeVerdict struct {
	Kind       string
	Confidence float64
	Reasoning  string

	// Approve fields.
	QualityScore float64
	RiskLevel    string // "low", "medium", "high", "critical"
	RiskFactors  []string

	// Refine fields.
	RequiredChanges []RequiredChange
	EstimatedHours  float64

	// Reject fields.
	CriticalIssues []CriticalIssue
	Alternatives   []string
}

// Document is one entry loaded into the evidence corpus at startup.
type Document struct {
	Title   string
	Content string
	URL     string
}

// WorkingSpec is the public view of the immutable change contract, for
// embedders driving ACE in-process. A curated copy of the internal model —
// no internal package imports.
type WorkingSpec struct {
	ID                 uuid.UUID
	Title              string
	Description        string
	RiskTier           int // 1=critical, 2=high, 3=standard
	MaxFiles           int
	MaxLOC             int
	IncludedGlobs      []string
	ExcludedGlobs      []string
	AcceptanceCriteria []AcceptanceCriterion
	Invariants         []string
}

// WorkerOutput is the public view of one candidate solution.
type WorkerOutput struct {
	WorkerID     string
	TaskID       string
	Content      string
	Rationale    string
	FilesChanged int
	LinesChanged int
	TouchedPaths []string
	Metadata     map[string]string
}

// VerdictSummary is the public view of a published verdict, returned by
// App.Adjudicate for embedders that drive ACE in-process instead of over
// HTTP/MCP.
type VerdictSummary struct {
	TaskID         string
	WorkingSpecID  uuid.UUID
	Status         string // "Approved", "Rejected", "WaiverRequired", "NeedsClarification"
	Confidence     float64
	WaiverRequired bool
	WaiverReason   string
	DebateRounds   int
	ProvenanceID   string
	GitTrailer     string
	Reason         string
	Timestamp      time.Time
}
