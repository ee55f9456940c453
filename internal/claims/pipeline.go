package claims

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
)

// Pipeline runs the full six-stage claim verification process (§4.3) over a
// WorkerOutput's text.
type Pipeline struct {
	verifier    *Verifier
	maxParallel int
	now         func() time.Time
}

// NewPipeline builds a Pipeline. now defaults to time.Now; tests may inject
// a fixed clock for deterministic evidence-freshness checks.
func NewPipeline(verifier *Verifier, maxParallel int, now func() time.Time) *Pipeline {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	if now == nil {
		now = time.Now
	}
	return &Pipeline{verifier: verifier, maxParallel: maxParallel, now: now}
}

// disambiguate replaces a pronoun subject (it/this/that/they) with the
// working spec's title, a minimal stand-in for a full coreference resolver
// (§4.3 stage 2). Acronyms are not expanded, and pronouns outside the
// subject are left as they are.
func disambiguate(claim model.AtomicClaim, spec model.WorkingSpec) model.AtomicClaim {
	pronouns := map[string]struct{}{"it": {}, "this": {}, "that": {}, "they": {}}
	if _, isPronoun := pronouns[strings.ToLower(claim.Subject)]; isPronoun && spec.Title != "" {
		claim.Subject = spec.Title
	}
	return claim
}

// qualify decides verifiability: a claim naming no subject/object carries no
// testable assertion and is marked low-confidence rather than dropped,
// matching §7's "per-claim Unverified status, never aborts" failure mode.
func qualify(claim model.AtomicClaim) model.AtomicClaim {
	if claim.Subject == "" {
		claim.Confidence = 0.1
	} else if claim.Object != nil {
		claim.Confidence = 0.6
	} else {
		claim.Confidence = 0.3
	}
	return claim
}

// Run executes the pipeline for one WorkerOutput and returns its
// EvidenceManifest. Per-claim verification errors never fail the pipeline:
// a failed claim is recorded Unverified (§4.3/§7).
func (p *Pipeline) Run(ctx context.Context, output model.WorkerOutput, spec model.WorkingSpec) model.EvidenceManifest {
	// Each run verifies against a fresh coreference cache, so cached lookups
	// never carry over from one adjudication to the next.
	run := *p
	if p.verifier != nil {
		verifier := *p.verifier
		verifier.coref = NewCorefCache(p.verifier.coref.capacity)
		run.verifier = &verifier
	}

	fragments := Extract(output.WorkerID, output.Content+" "+output.Rationale)
	claims := make([]model.AtomicClaim, len(fragments))
	for i, c := range fragments {
		claims[i] = qualify(disambiguate(c, spec))
	}

	results := make([]model.ClaimVerificationResult, len(claims))
	evidenceByClaim := make(map[string][]model.Evidence, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)
	var mu sync.Mutex

	for i, claim := range claims {
		i, claim := i, claim
		g.Go(func() error {
			result := run.verifyOne(gctx, claim, spec)
			evidence := EvidenceForResult(result, p.now())
			result.Evidence = evidence
			mu.Lock()
			results[i] = result
			evidenceByClaim[claim.ID] = evidence
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	factual, caws := Aggregate(results, evidenceByClaim, p.now())
	return model.EvidenceManifest{
		Claims:               claims,
		VerificationResults:  results,
		FactualAccuracyScore: factual,
		CAWSComplianceScore:  caws,
	}
}

// verifyOne demotes a verification panic/error to an Unverified result
// rather than failing the pipeline, per the ClaimExtractionError semantics
// in §7.
func (p *Pipeline) verifyOne(ctx context.Context, claim model.AtomicClaim, spec model.WorkingSpec) (result model.ClaimVerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.ClaimVerificationResult{ClaimID: claim.ID, Status: model.StatusUnverified}
		}
	}()
	if ctx.Err() != nil {
		return model.ClaimVerificationResult{ClaimID: claim.ID, Status: model.StatusUnverified}
	}
	return p.verifier.VerifyClaim(ctx, claim, spec)
}

// MergeManifests weighted-means per-output factual/compliance scores across
// multiple WorkerOutputs into one merged EvidenceManifest, per §4.5's
// Deliberation stage ("weighted mean of per-output factual/compliance
// scores"). Weight by claim count so outputs with richer claim sets count
// proportionally more.
func MergeManifests(manifests []model.EvidenceManifest) model.EvidenceManifest {
	if len(manifests) == 0 {
		return model.EvidenceManifest{}
	}
	var claims []model.AtomicClaim
	var results []model.ClaimVerificationResult
	var accuracyNum, complianceNum, totalWeight float64

	for _, m := range manifests {
		claims = append(claims, m.Claims...)
		results = append(results, m.VerificationResults...)
		weight := float64(len(m.Claims))
		if weight == 0 {
			weight = 1
		}
		accuracyNum += m.FactualAccuracyScore * weight
		complianceNum += m.CAWSComplianceScore * weight
		totalWeight += weight
	}

	merged := model.EvidenceManifest{Claims: claims, VerificationResults: results}
	if totalWeight > 0 {
		merged.FactualAccuracyScore = accuracyNum / totalWeight
		merged.CAWSComplianceScore = complianceNum / totalWeight
	}
	return merged
}

// QuorumCheck returns acerr.ErrClaimExtraction when a critical-tier
// adjudication's manifest holds no claims, and nil otherwise.
func QuorumCheck(manifest model.EvidenceManifest, spec model.WorkingSpec) error {
	if spec.RiskTier == model.RiskTierCritical && len(manifest.Claims) == 0 {
		return acerr.ErrClaimExtraction
	}
	return nil
}
