package provenance

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ace-labs/ace/internal/model"
)

// Canonicalize produces the stable-JSON encoding of an ArbiterVerdict that C6
// signs, per §6's wire format: UTF-8, keys sorted lexicographically, no
// insignificant whitespace, numbers in shortest round-trip form, confidence
// rounded to 3 decimals. encoding/json already sorts map[string]any keys and
// emits shortest-round-trip floats, so building the canonical form as a map
// and marshaling it satisfies the contract without a bespoke encoder.
func Canonicalize(v model.ArbiterVerdict) ([]byte, error) {
	m := canonicalMap(v)
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("provenance: canonicalize verdict: %w", err)
	}
	return b, nil
}

func canonicalMap(v model.ArbiterVerdict) map[string]any {
	m := map[string]any{
		"task_id":          v.TaskID,
		"working_spec_id":  v.WorkingSpecID.String(),
		"status":           string(v.Status),
		"confidence":       round3(v.Confidence),
		"waiver_required":  v.WaiverRequired,
		"debate_rounds":    v.DebateRounds,
		"provenance_id":    v.ProvenanceID,
		"timestamp":        v.Timestamp.UTC().Format(time.RFC3339),
	}
	if v.WaiverReason != "" {
		m["waiver_reason"] = v.WaiverReason
	}
	if v.EvidenceManifest != nil {
		m["evidence_manifest"] = evidenceManifestMap(*v.EvidenceManifest)
	}
	return m
}

func evidenceManifestMap(m model.EvidenceManifest) map[string]any {
	claims := make([]map[string]any, 0, len(m.Claims))
	for _, c := range m.Claims {
		claims = append(claims, map[string]any{
			"id":         c.ID,
			"claim_text": c.ClaimText,
			"subject":    c.Subject,
			"predicate":  c.Predicate,
			"confidence": round3(c.Confidence),
		})
	}
	results := make([]map[string]any, 0, len(m.VerificationResults))
	for _, r := range m.VerificationResults {
		results = append(results, map[string]any{
			"claim_id":      r.ClaimID,
			"overall_score": round3(r.OverallScore),
			"status":        string(r.Status),
		})
	}
	return map[string]any{
		"claims":                 claims,
		"verification_results":   results,
		"factual_accuracy_score": round3(m.FactualAccuracyScore),
		"caws_compliance_score":  round3(m.CAWSComplianceScore),
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// sortedKeys is used by BuildCheckpointMap callers that need deterministic
// iteration order over the A1..A9 map before it's embedded in a git trailer
// note or log line.
func sortedKeys(m map[string]model.CAWSCheckpoint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
