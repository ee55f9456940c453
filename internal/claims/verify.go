package claims

import (
	"context"
	"strings"

	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/policy"
)

const (
	weightCrossReference    = 0.30
	weightCodeBehavior      = 0.25
	weightAuthority         = 0.20
	weightContextDependency = 0.15
	weightSemantic          = 0.10
)

// knownDocsHosts and knownRepoHosts drive the Authority lens's URL-credibility
// bonus, per §4.3.
var knownDocsHosts = []string{"docs.rs", "pkg.go.dev", "developer.mozilla.org", "readthedocs.io"}
var knownRepoHosts = []string{"github.com", "gitlab.com"}

// Verifier runs the five verification lenses for one claim against its
// working-spec context and evidence collaborators.
type Verifier struct {
	source  ClaimSource
	corpus  EvidenceCorpus
	coref   *CorefCache
}

// NewVerifier builds a Verifier. A nil source/corpus falls back to the
// zero-dependency Noop implementations.
func NewVerifier(source ClaimSource, corpus EvidenceCorpus, coref *CorefCache) *Verifier {
	if source == nil {
		source = NoopClaimSource{}
	}
	if corpus == nil {
		corpus = NoopEvidenceCorpus{}
	}
	if coref == nil {
		coref = NewCorefCache(100)
	}
	return &Verifier{source: source, corpus: corpus, coref: coref}
}

// contextRequirements counts the context-dependency lens's requirements for
// a claim: one requirement (the claim's subject), satisfied when the subject
// appears in a WorkingSpec invariant or acceptance criterion.
func contextRequirements(claim model.AtomicClaim, spec model.WorkingSpec) (satisfied, total int) {
	total = 1 // the claim's subject itself is always one requirement
	subjectLower := strings.ToLower(claim.Subject)
	for _, inv := range spec.Invariants {
		if strings.Contains(strings.ToLower(inv), subjectLower) {
			satisfied++
			break
		}
	}
	for _, ac := range spec.AcceptanceCriteria {
		haystack := strings.ToLower(ac.Given + " " + ac.When + " " + ac.Then)
		if strings.Contains(haystack, subjectLower) {
			satisfied++
			break
		}
	}
	if satisfied > total {
		satisfied = total
	}
	return satisfied, total
}

// inScope runs the context lens's scope-boundary check: every path the claim
// text references must fall inside the working spec's scope. A claim with no
// path reference can't violate scope.
func inScope(claim model.AtomicClaim, spec model.WorkingSpec) bool {
	if len(spec.Scope.IncludedGlobs) == 0 {
		return true
	}
	for _, p := range pathRefs(claim.ClaimText) {
		if !policy.InScope(p, spec.Scope) {
			return false
		}
	}
	return true
}

// pathRefs extracts file-path-looking tokens from claim text. URLs are
// excluded; those belong to the authority lens.
func pathRefs(text string) []string {
	var out []string
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, "`.,;:!?()[]\"'")
		if strings.Contains(tok, "/") && !strings.Contains(tok, "://") {
			out = append(out, tok)
		}
	}
	return out
}

func crossReferenceScore(ctx context.Context, v *Verifier, claim model.AtomicClaim, spec model.WorkingSpec) float64 {
	coverage, _ := v.corpus.SpecCoverage(ctx, claim.ClaimText)
	docs, _ := v.corpus.DocKeywordRelevance(ctx, claim.ClaimText)

	histSim := 0.0
	if fingerprint := claim.ClaimText; fingerprint != "" {
		if cached, ok := v.coref.Get("sim:" + fingerprint); ok {
			if cached == "match" {
				histSim = 0.8
			}
		} else {
			historical, _ := v.source.Find(ctx, strings.Fields(claim.ClaimText))
			best := 0.0
			for _, h := range historical {
				if sim, err := v.source.Similarity(ctx, claim.ClaimText, h.Text); err == nil && sim > best {
					best = sim
				}
			}
			histSim = best
			if best > 0.7 {
				v.coref.Put("sim:"+fingerprint, "match")
			} else {
				v.coref.Put("sim:"+fingerprint, "nomatch")
			}
		}
	}

	return clamp01((coverage + docs + histSim) / 3)
}

// codeBehaviorScore heuristically rewards claims that reference concrete,
// checkable code constructs over vague prose assertions.
func codeBehaviorScore(claim model.AtomicClaim) float64 {
	text := claim.ClaimText
	score := 0.5
	if strings.Contains(text, "`") || strings.ContainsAny(text, "(){}[]") {
		score += 0.3
	}
	if claim.Object != nil && *claim.Object != "" {
		score += 0.1
	}
	return clamp01(score)
}

func authorityScore(ctx context.Context, v *Verifier, claim model.AtomicClaim) float64 {
	urls := extractURLs(claim.ClaimText)
	if len(urls) == 0 {
		return 0.5
	}
	var best float64
	for _, u := range urls {
		score, _ := v.corpus.AuthorityForURL(ctx, u)
		for _, host := range knownDocsHosts {
			if strings.Contains(u, host) {
				score += 0.1
			}
		}
		for _, host := range knownRepoHosts {
			if strings.Contains(u, host) {
				score += 0.05
			}
		}
		if score > best {
			best = score
		}
	}
	return clamp01(best)
}

func extractURLs(text string) []string {
	var urls []string
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, "http://") || strings.HasPrefix(word, "https://") {
			urls = append(urls, strings.Trim(word, ".,;)"))
		}
	}
	return urls
}

func contextDependencyScore(claim model.AtomicClaim, spec model.WorkingSpec) float64 {
	satisfied, total := contextRequirements(claim, spec)
	score := 0.5
	if total > 0 {
		score = float64(satisfied) / float64(total)
	}
	if inScope(claim, spec) {
		score = clamp01(score + 0.1)
	}
	return clamp01(score)
}

func semanticScore(claim model.AtomicClaim) float64 {
	// A longer, complete-sentence fragment with a resolved object is more
	// semantically self-contained than a bare subject/predicate fragment.
	score := 0.4
	if len(claim.ClaimText) > 20 {
		score += 0.2
	}
	if claim.Object != nil {
		score += 0.2
	}
	return clamp01(score)
}

func statusFromScore(overall float64) model.VerificationStatus {
	switch {
	case overall > 0.75:
		return model.StatusVerified
	case overall > 0.5:
		return model.StatusPartiallyVerified
	default:
		return model.StatusUnverified
	}
}

// VerifyClaim runs all five lenses for one claim against the working spec
// and returns its ClaimVerificationResult, per §4.3 stage 5.
func (v *Verifier) VerifyClaim(ctx context.Context, claim model.AtomicClaim, spec model.WorkingSpec) model.ClaimVerificationResult {
	lenses := model.LensScores{
		CrossReference:    crossReferenceScore(ctx, v, claim, spec),
		CodeBehavior:      codeBehaviorScore(claim),
		Authority:         authorityScore(ctx, v, claim),
		ContextDependency: contextDependencyScore(claim, spec),
		Semantic:          semanticScore(claim),
	}
	overall := weightCrossReference*lenses.CrossReference +
		weightCodeBehavior*lenses.CodeBehavior +
		weightAuthority*lenses.Authority +
		weightContextDependency*lenses.ContextDependency +
		weightSemantic*lenses.Semantic

	return model.ClaimVerificationResult{
		ClaimID:      claim.ID,
		Lenses:       lenses,
		OverallScore: overall,
		Status:       statusFromScore(overall),
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
