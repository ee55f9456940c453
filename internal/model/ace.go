// Package model holds the data types shared across ACE's components: the
// working spec and worker outputs ACE consumes, the judge verdicts and
// council decisions it produces internally, and the arbiter verdict and
// provenance record it publishes.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RiskTier classifies how conservatively a change must be adjudicated.
type RiskTier int

const (
	RiskTierCritical RiskTier = 1 // auth, billing, security
	RiskTierHigh      RiskTier = 2 // API / database
	RiskTierStandard  RiskTier = 3
)

func (t RiskTier) Valid() bool {
	return t == RiskTierCritical || t == RiskTierHigh || t == RiskTierStandard
}

// ChangeBudget caps on files and lines touched, tiered by risk.
type ChangeBudget struct {
	MaxFiles int `json:"max_files"`
	MaxLOC   int `json:"max_loc"`
}

// DefaultChangeBudget returns the ceiling budget for a risk tier; callers may
// supply a tighter WorkingSpec.ChangeBudget but never a looser one.
func DefaultChangeBudget(tier RiskTier) ChangeBudget {
	switch tier {
	case RiskTierCritical:
		return ChangeBudget{MaxFiles: 10, MaxLOC: 500}
	case RiskTierHigh:
		return ChangeBudget{MaxFiles: 25, MaxLOC: 1000}
	default:
		return ChangeBudget{MaxFiles: 50, MaxLOC: 2000}
	}
}

// Scope bounds the set of paths a change may touch.
type Scope struct {
	IncludedGlobs []string `json:"included_globs"`
	ExcludedGlobs []string `json:"excluded_globs,omitempty"`
}

// AcceptanceCriterion is one given/when/then clause of a WorkingSpec.
type AcceptanceCriterion struct {
	Given string `json:"given"`
	When  string `json:"when"`
	Then  string `json:"then"`
}

// WorkingSpec is the immutable contract for a change. ACE never mutates it.
type WorkingSpec struct {
	ID                        uuid.UUID             `json:"id"`
	Title                     string                `json:"title"`
	Description               string                `json:"description"`
	RiskTier                  RiskTier              `json:"risk_tier"`
	ChangeBudget              ChangeBudget          `json:"change_budget"`
	Scope                     Scope                 `json:"scope"`
	AcceptanceCriteria        []AcceptanceCriterion `json:"acceptance_criteria"`
	Invariants                []string              `json:"invariants,omitempty"`
	NonFunctionalRequirements []string              `json:"non_functional_requirements,omitempty"`
}

// Validate checks the structural invariants §3 places on a WorkingSpec.
func (s WorkingSpec) Validate() error {
	if !s.RiskTier.Valid() {
		return WrapInvalid("working_spec: risk_tier must be 1, 2, or 3")
	}
	ceiling := DefaultChangeBudget(s.RiskTier)
	if s.ChangeBudget.MaxFiles <= 0 || s.ChangeBudget.MaxFiles > ceiling.MaxFiles {
		return WrapInvalid("working_spec: change_budget.max_files exceeds risk tier ceiling")
	}
	if s.ChangeBudget.MaxLOC <= 0 || s.ChangeBudget.MaxLOC > ceiling.MaxLOC {
		return WrapInvalid("working_spec: change_budget.max_loc exceeds risk tier ceiling")
	}
	if len(s.Scope.IncludedGlobs) == 0 {
		return WrapInvalid("working_spec: scope must be non-empty")
	}
	if len(s.AcceptanceCriteria) == 0 {
		return WrapInvalid("working_spec: at least one acceptance criterion is required")
	}
	return nil
}

// DiffStats summarizes what a WorkerOutput's patch touched.
type DiffStats struct {
	FilesChanged int      `json:"files_changed"`
	LinesChanged int      `json:"lines_changed"`
	TouchedPaths []string `json:"touched_paths"`
}

// WorkerOutput is one candidate solution for a task.
type WorkerOutput struct {
	WorkerID  string            `json:"worker_id"`
	TaskID    string            `json:"task_id"`
	Content   string            `json:"content"`
	Rationale string            `json:"rationale,omitempty"`
	DiffStats DiffStats         `json:"diff_stats"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// JudgeType is the specialization of one judge in the pool.
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

// VerdictKind discriminates the closed JudgeVerdict union.
type VerdictKind string

const (
	VerdictApprove VerdictKind = "Approve"
	VerdictRefine  VerdictKind = "Refine"
	VerdictReject  VerdictKind = "Reject"
)

// RiskLevel is an ordinal severity used by approve-path risk aggregation.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// RiskAssessment is a judge's opinion on residual risk of an Approve verdict.
type RiskAssessment struct {
	Level          RiskLevel
	Factors        []string
	Justification  string
}

// ChangeImpact classifies how disruptive a required change is.
type ChangeImpact string

const (
	ImpactBreaking  ChangeImpact = "Breaking"
	ImpactMajor     ChangeImpact = "Major"
	ImpactModerate  ChangeImpact = "Moderate"
	ImpactMinor     ChangeImpact = "Minor"
)

// RequiredChange is one concrete change a Refine verdict asks for.
type RequiredChange struct {
	Category    string
	Description string
	Impact      ChangeImpact
}

// EffortEstimate is a judge's estimate of the work a Refine verdict implies.
type EffortEstimate struct {
	PersonHours  float64
	Dependencies []string
	Complexity   string // low|medium|high, histogram bucket label
}

// CriticalIssue is one reason a Reject verdict gives.
type CriticalIssue struct {
	Category    string
	Severity    string
	Description string
}

// JudgeVerdict is the closed tagged union a single judge returns. Exactly one
// of Approve, Refine, Reject is populated, matching Kind.
type JudgeVerdict struct {
	Kind VerdictKind

	// Common to all variants.
	Confidence float64
	Reasoning  string

	// Approve fields.
	QualityScore   float64
	RiskAssessment RiskAssessment

	// Refine fields.
	RequiredChanges []RequiredChange
	EstimatedEffort EffortEstimate

	// Reject fields.
	CriticalIssues       []CriticalIssue
	AlternativeApproaches []string
}

// Validate enforces the per-variant invariants from spec §3.
func (v JudgeVerdict) Validate() error {
	if v.Confidence < 0 || v.Confidence > 1 {
		return WrapInvalid("judge_verdict: confidence must be in [0,1]")
	}
	if v.Reasoning == "" {
		return WrapInvalid("judge_verdict: reasoning must be non-empty")
	}
	switch v.Kind {
	case VerdictRefine:
		if len(v.RequiredChanges) == 0 {
			return WrapInvalid("judge_verdict: refine requires at least one required_change")
		}
	case VerdictReject:
		if len(v.CriticalIssues) == 0 {
			return WrapInvalid("judge_verdict: reject requires at least one critical_issue")
		}
	case VerdictApprove:
	default:
		return WrapInvalid("judge_verdict: unknown kind " + string(v.Kind))
	}
	return nil
}

// JudgeContribution envelopes one judge's verdict with provenance of the call.
type JudgeContribution struct {
	JudgeID         string
	JudgeType       JudgeType
	Verdict         JudgeVerdict
	ProcessingTime  time.Duration
}

// WeightedContribution is a JudgeContribution after C2 weighting.
type WeightedContribution struct {
	JudgeContribution
	Weight              float64
	SpecializationScore float64
	ContributionQuality float64
}

// AtomicClaim is one factual assertion extracted from a worker's text.
type AtomicClaim struct {
	ID               string  `json:"id"`
	ClaimText        string  `json:"claim_text"`
	Subject          string  `json:"subject"`
	Predicate        string  `json:"predicate"`
	Object           *string `json:"object,omitempty"`
	Confidence       float64 `json:"confidence"`
	Position         int     `json:"position"`
	SentenceFragment string  `json:"sentence_fragment"`
}

// EvidenceSourceKind classifies where a piece of evidence came from.
type EvidenceSourceKind string

const (
	SourceDocs     EvidenceSourceKind = "docs"
	SourceCode     EvidenceSourceKind = "code"
	SourceHistory  EvidenceSourceKind = "history"
	SourceURL      EvidenceSourceKind = "url"
)

// EvidenceSource locates and rates a piece of evidence.
type EvidenceSource struct {
	Kind      EvidenceSourceKind `json:"kind"`
	Location  string             `json:"location"`
	Authority float64            `json:"authority"` // 0..1, how trustworthy this source class is
	Freshness time.Duration      `json:"freshness"` // age at time of evaluation
}

// Evidence is one supporting observation for a claim.
type Evidence struct {
	ID         string         `json:"id"`
	ClaimID    string         `json:"claim_id"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Source     EvidenceSource `json:"source"`
	Confidence float64        `json:"confidence"`
	Relevance  float64        `json:"relevance"`
	Timestamp  time.Time      `json:"timestamp"`
}

// VerificationStatus is the outcome of scoring one claim against its evidence.
type VerificationStatus string

const (
	StatusVerified          VerificationStatus = "Verified"
	StatusPartiallyVerified VerificationStatus = "PartiallyVerified"
	StatusUnverified        VerificationStatus = "Unverified"
)

// LensScores is the per-lens breakdown behind a claim's overall_score.
type LensScores struct {
	CrossReference    float64 `json:"cross_reference"`
	CodeBehavior      float64 `json:"code_behavior"`
	Authority         float64 `json:"authority"`
	ContextDependency float64 `json:"context_dependency"`
	Semantic          float64 `json:"semantic"`
}

// ClaimVerificationResult is C3's per-claim verdict.
type ClaimVerificationResult struct {
	ClaimID      string             `json:"claim_id"`
	Lenses       LensScores         `json:"lenses"`
	OverallScore float64            `json:"overall_score"`
	Status       VerificationStatus `json:"status"`
	Evidence     []Evidence         `json:"evidence,omitempty"`
}

// EvidenceManifest bundles claims, their verification results, and aggregate scores.
type EvidenceManifest struct {
	Claims               []AtomicClaim             `json:"claims"`
	VerificationResults  []ClaimVerificationResult `json:"verification_results"`
	FactualAccuracyScore float64                   `json:"factual_accuracy_score"`
	CAWSComplianceScore  float64                   `json:"caws_compliance_score"`
}

// CouncilDecisionKind discriminates the closed CouncilDecision union.
type CouncilDecisionKind string

const (
	CouncilApprove      CouncilDecisionKind = "Approve"
	CouncilRefine        CouncilDecisionKind = "Refine"
	CouncilReject         CouncilDecisionKind = "Reject"
	CouncilInconclusive  CouncilDecisionKind = "Inconclusive"
)

// AggregatedRequiredChange is a Refine-path change after dedup/aggregation.
type AggregatedRequiredChange struct {
	Category         string
	Description      string
	Count            int
	PriorityBucket   string // Critical|High|Medium|Low
}

// AggregatedCriticalIssue is a Reject-path issue after dedup/aggregation.
type AggregatedCriticalIssue struct {
	Category    string
	Severity    string
	Description string
	Frequency   int
}

// CouncilDecision is C2's output: a closed tagged union over four variants.
type CouncilDecision struct {
	Kind CouncilDecisionKind

	// Approve.
	Confidence     float64
	QualityScore   float64
	RiskAssessment RiskAssessment

	// Refine.
	RequiredChanges []AggregatedRequiredChange
	EstimatedEffort EffortEstimate

	// Reject.
	CriticalIssues []AggregatedCriticalIssue
	Alternatives   []string

	// Inconclusive.
	Reason              string
	ConflictingFactors  []string
}

// DissentSummary is a compact, audit-retained record of a non-majority judge opinion.
// Retained after aggregation even though full JudgeVerdicts are discarded (spec §3).
type DissentSummary struct {
	JudgeID    string
	Bucket     VerdictKind
	Confidence float64
}

// AgreementLevel buckets consensus_strength into a human-readable label.
type AgreementLevel string

const (
	AgreementUnanimous     AgreementLevel = "Unanimous"
	AgreementStrongMajority AgreementLevel = "StrongMajority"
	AgreementMajority      AgreementLevel = "Majority"
	AgreementPlurality     AgreementLevel = "Plurality"
	AgreementSplit         AgreementLevel = "Split"
	AgreementNoConsensus   AgreementLevel = "NoConsensus"
)

// AggregationResult is C2's full output, including diagnostics the Arbitration
// Controller and audit trail need beyond the bare CouncilDecision.
type AggregationResult struct {
	CouncilDecision       CouncilDecision
	ConsensusStrength     float64
	AgreementLevel        AgreementLevel
	JudgeContributions    []WeightedContribution
	DissentingOpinions    []DissentSummary
	AggregationMetadata   map[string]string
}

// ArbiterStatus is the terminal status of an adjudication cycle.
type ArbiterStatus string

const (
	StatusApproved           ArbiterStatus = "Approved"
	StatusRejected            ArbiterStatus = "Rejected"
	StatusWaiverRequired      ArbiterStatus = "WaiverRequired"
	StatusNeedsClarification  ArbiterStatus = "NeedsClarification"
)

// ArbiterVerdict is the final published result of an adjudication cycle.
type ArbiterVerdict struct {
	TaskID           string            `json:"task_id"`
	WorkingSpecID    uuid.UUID         `json:"working_spec_id"`
	Status           ArbiterStatus     `json:"status"`
	Confidence       float64           `json:"confidence"`
	EvidenceManifest *EvidenceManifest `json:"evidence_manifest,omitempty"`
	WaiverRequired   bool              `json:"waiver_required"`
	WaiverReason     string            `json:"waiver_reason,omitempty"`
	DebateRounds     int               `json:"debate_rounds"`
	ProvenanceID     string            `json:"provenance_id"`
	Timestamp        time.Time         `json:"timestamp"`

	// Reason is the human-readable rationale every verdict carries. It and
	// ConflictingFactors ride alongside the canonical wire fields.
	Reason             string   `json:"reason"`
	ConflictingFactors []string `json:"conflicting_factors,omitempty"`
}

// SignatureRecord captures an Ed25519 signature over canonicalized verdict bytes.
type SignatureRecord struct {
	Algorithm       string `json:"algorithm"` // "Ed25519"
	SignatureBase64 string `json:"signature_base64"`
	PublicKeyBase64 string `json:"public_key_base64"`
}

// EvidenceLink ties a published evidence item back to its claim and status.
type EvidenceLink struct {
	EvidenceID         string             `json:"evidence_id"`
	ClaimID            string             `json:"claim_id"`
	VerificationStatus VerificationStatus `json:"verification_status"`
}

// CAWSCheckpoint is one named checkpoint (A1..A9) in the policy checkpoint map.
type CAWSCheckpoint struct {
	Description   string `json:"description"`
	Status        string `json:"status"` // "pass" | "fail" | "waived" | "not_applicable"
	EvidenceCount int    `json:"evidence_count"`
}

// ProvenanceRecord is the append-only, signed artifact C6 persists.
type ProvenanceRecord struct {
	VerdictID               string                    `json:"verdict_id"`
	CommitHash              string                    `json:"commit_hash,omitempty"`
	Timestamp               time.Time                 `json:"timestamp"`
	Signature               SignatureRecord           `json:"signature"`
	EvidenceLinks           []EvidenceLink            `json:"evidence_links"`
	CAWSCheckpointStatusMap map[string]CAWSCheckpoint `json:"caws_checkpoint_status_map"`
	GitTrailer              string                    `json:"git_trailer"`
}

// WaiverImpact is the severity of the exception a waiver grants.
type WaiverImpact string

const (
	WaiverImpactLow      WaiverImpact = "low"
	WaiverImpactMedium   WaiverImpact = "medium"
	WaiverImpactHigh     WaiverImpact = "high"
	WaiverImpactCritical WaiverImpact = "critical"
)

// WaiverState is the lifecycle stage of a Waiver.
type WaiverState string

const (
	WaiverProposed WaiverState = "Proposed"
	WaiverApproved WaiverState = "Approved"
	WaiverExpired  WaiverState = "Expired"
	WaiverRevoked  WaiverState = "Revoked"
)

// Waiver is a human-approved, time-bounded exception to one or more CAWS gates.
// ACE reads waivers during Examination; it never creates or mutates them.
type Waiver struct {
	ID             uuid.UUID    `json:"id"`
	Title          string       `json:"title"`
	ReasonCategory string       `json:"reason_category,omitempty"`
	Description    string       `json:"description,omitempty"`
	WaivedGates    []string     `json:"waived_gates"`
	ImpactLevel    WaiverImpact `json:"impact_level"`
	MitigationPlan string       `json:"mitigation_plan,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
	Approver       string       `json:"approver"`
	State          WaiverState  `json:"state"`
}

// EffectiveState returns the state a Waiver should be treated as having at
// `now`, flipping an Approved waiver to Expired past its expiry without
// mutating the stored record. Recovered from original_source/'s expiry sweep;
// ACE exposes it as a pure function since background scheduling is the
// caller's responsibility, not ACE's.
func (w Waiver) EffectiveState(now time.Time) WaiverState {
	if w.State == WaiverApproved && !w.ExpiresAt.IsZero() && now.After(w.ExpiresAt) {
		return WaiverExpired
	}
	return w.State
}
