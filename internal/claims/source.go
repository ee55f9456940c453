package claims

import "context"

// HistoricalClaim is a previously verified claim, used for the
// cross-reference lens's similarity check.
type HistoricalClaim struct {
	ID   string
	Text string
}

// ClaimSource is the outbound collaborator (§6) providing historical claim
// lookup and similarity scoring. A pgvector/Qdrant-backed implementation
// lives in internal/claimsource; this package only depends on the interface
// so unit tests can supply a fixture.
type ClaimSource interface {
	Find(ctx context.Context, keywords []string) ([]HistoricalClaim, error)
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// EvidenceCorpus is the outbound collaborator (§6) providing spec coverage,
// doc search, and authority lookup by URL.
type EvidenceCorpus interface {
	SpecCoverage(ctx context.Context, claimText string) (float64, error)
	DocKeywordRelevance(ctx context.Context, claimText string) (float64, error)
	AuthorityForURL(ctx context.Context, url string) (float64, error)
}

// NoopClaimSource is the zero-dependency fallback when no ClaimSource is
// configured, mirroring the teacher's NoopValidator fallback pattern
// (internal/conflicts/validator.go): cross-reference and authority lenses
// degrade gracefully to their floor scores instead of failing the pipeline.
type NoopClaimSource struct{}

func (NoopClaimSource) Find(context.Context, []string) ([]HistoricalClaim, error) { return nil, nil }
func (NoopClaimSource) Similarity(context.Context, string, string) (float64, error) { return 0, nil }

// NoopEvidenceCorpus is the zero-dependency fallback EvidenceCorpus.
type NoopEvidenceCorpus struct{}

func (NoopEvidenceCorpus) SpecCoverage(context.Context, string) (float64, error)         { return 0, nil }
func (NoopEvidenceCorpus) DocKeywordRelevance(context.Context, string) (float64, error)  { return 0, nil }
func (NoopEvidenceCorpus) AuthorityForURL(context.Context, string) (float64, error)      { return 0, nil }
