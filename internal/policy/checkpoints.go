package policy

import (
	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
)

// checkpointDescriptions names CAWS's nine audit checkpoints. Recovered from
// original_source/'s security-policy-enforcer, which tracks these
// individually; the wire format's caws_checkpoint_status_map (§6) requires
// names, not just a pass/fail summary.
var checkpointDescriptions = map[string]string{
	"A1": "acceptance criteria present",
	"A2": "scope respected",
	"A3": "change budget respected",
	"A4": "tests present where required",
	"A5": "determinism preserved",
	"A6": "risk-tier approver metadata present",
	"A7": "compliance judge participation (T1/T2)",
	"A8": "claim evidence manifest attached",
	"A9": "no unresolved security violations",
}

var kindToCheckpoint = map[string]string{
	"change_budget_files":   "A3",
	"change_budget_loc":     "A3",
	"scope":                 "A2",
	"tests_required":        "A4",
	"determinism":           "A5",
	"risk_tier_approver":    "A6",
	"risk_tier_compliance":  "A7",
}

// BuildCheckpointMap produces the A1..A9 status map the wire format requires,
// from an Examine Result and whether an evidence manifest was attached.
func BuildCheckpointMap(spec model.WorkingSpec, result Result, hasEvidenceManifest bool) map[string]model.CAWSCheckpoint {
	violationsByCheckpoint := map[string][]acerr.Violation{}
	for _, v := range result.Violations {
		cp := kindToCheckpoint[v.Kind]
		if cp == "" {
			continue
		}
		violationsByCheckpoint[cp] = append(violationsByCheckpoint[cp], v)
	}

	out := make(map[string]model.CAWSCheckpoint, len(checkpointDescriptions))
	for id, desc := range checkpointDescriptions {
		cp := model.CAWSCheckpoint{Description: desc, Status: "pass"}

		switch id {
		case "A1":
			if len(spec.AcceptanceCriteria) == 0 {
				cp.Status = "fail"
			}
		case "A8":
			if !hasEvidenceManifest {
				cp.Status = "not_applicable"
			}
		case "A9":
			// Security violations are fatal and escalate before reaching
			// publication, so by the time a checkpoint map is built, A9
			// always passed.
		default:
			if vs, ok := violationsByCheckpoint[id]; ok {
				cp.EvidenceCount = len(vs)
				waived := true
				for _, v := range vs {
					if v.WaiverRef == "" {
						waived = false
					}
				}
				if waived {
					cp.Status = "waived"
				} else {
					cp.Status = "fail"
				}
			}
		}
		out[id] = cp
	}
	return out
}
