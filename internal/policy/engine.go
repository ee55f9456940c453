// Package policy implements C4, the CAWS Policy Engine: it enforces
// change-budget, scope, test, determinism, and language-risk-tier
// invariants against worker diff statistics, producing violations and
// waiver demands per spec §4.4.
package policy

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
)

// TaskType classifies the kind of change a WorkerOutput implements, driving
// the test-requirement check.
type TaskType string

const (
	TaskCodeFix        TaskType = "CodeFix"
	TaskCodeGeneration TaskType = "CodeGeneration"
	TaskDocsOnly       TaskType = "DocsOnly"
	TaskRefactor       TaskType = "Refactor"
)

// TaskDescriptor is C4's task-shaped input, per §6.
type TaskDescriptor struct {
	ID         string
	Type       TaskType
	ScopeIn    []string
	RiskTier   model.RiskTier
	Acceptance string
	Metadata   map[string]string
}

// TestAnalysis is the outcome of scanning a WorkerOutput's touched paths for
// test coverage, supplied by an upstream collaborator.
type TestAnalysis struct {
	TestsAdded    bool
	Deterministic bool
	Waivers       []string // waiver IDs already known to cover determinism/test gaps
}

// Result is C4's output: §4.4's {overall_compliant, violations, examined_outputs}.
type Result struct {
	OverallCompliant bool
	Violations       []acerr.Violation
	ExaminedOutputs  int
}

var testNamePattern = regexp.MustCompile(`(?i)(_test\.|test_|\.test\.|tests?/)`)
var nonDeterministicPattern = regexp.MustCompile(`(?i)\b(rand|random|Date\.now|time\.Now|uuid|Math\.random)\b`)

// activeWaiverFor returns the ID of the first waiver covering gate whose
// effective state at the current time is Approved (an expired waiver does
// not count), or "" when none does.
func activeWaiverFor(gate string, waivers []model.Waiver) string {
	for _, w := range waivers {
		for _, g := range w.WaivedGates {
			if g == gate && w.EffectiveState(time.Now()) == model.WaiverApproved {
				return w.ID.String()
			}
		}
	}
	return ""
}

// Examine runs all five CAWS checks against one WorkerOutput, per §4.4.
func Examine(spec model.WorkingSpec, task TaskDescriptor, diff model.DiffStats, complianceJudgePresent bool, test TestAnalysis, waivers []model.Waiver) Result {
	var violations []acerr.Violation

	// Change-budget.
	if diff.FilesChanged > spec.ChangeBudget.MaxFiles {
		violations = append(violations, acerr.Violation{
			Kind:    "change_budget_files",
			Message: fmt.Sprintf("files_changed %d exceeds max_files %d", diff.FilesChanged, spec.ChangeBudget.MaxFiles),
		})
	}
	if diff.LinesChanged > spec.ChangeBudget.MaxLOC {
		violations = append(violations, acerr.Violation{
			Kind:    "change_budget_loc",
			Message: fmt.Sprintf("lines_changed %d exceeds max_loc %d", diff.LinesChanged, spec.ChangeBudget.MaxLOC),
		})
	}

	// Scope.
	for _, p := range diff.TouchedPaths {
		if !InScope(p, spec.Scope) {
			violations = append(violations, acerr.Violation{
				Kind:    "scope",
				Message: fmt.Sprintf("touched path %q is outside the working spec's scope", p),
			})
		}
	}

	// Tests.
	if requiresTests(task, diff) {
		hasTestFile := false
		for _, p := range diff.TouchedPaths {
			if testNamePattern.MatchString(p) {
				hasTestFile = true
				break
			}
		}
		if !hasTestFile && !test.TestsAdded {
			ref := activeWaiverFor("tests", waivers)
			if ref == "" {
				violations = append(violations, acerr.Violation{Kind: "tests_required", Message: "no test file touched and no test waiver supplied"})
			} else {
				violations = append(violations, acerr.Violation{Kind: "tests_required", Message: "tests missing but covered by waiver", WaiverRef: ref})
			}
		}
	}

	// Determinism.
	if !test.Deterministic {
		for _, p := range diff.TouchedPaths {
			if nonDeterministicPattern.MatchString(p) {
				ref := activeWaiverFor("determinism", waivers)
				v := acerr.Violation{Kind: "determinism", Message: fmt.Sprintf("touched path %q references a non-deterministic identifier", p)}
				if ref != "" {
					v.WaiverRef = ref
				}
				violations = append(violations, v)
				break
			}
		}
	}

	// Language-risk tier.
	if spec.RiskTier == model.RiskTierCritical {
		if task.Metadata["approver"] == "" {
			violations = append(violations, acerr.Violation{Kind: "risk_tier_approver", Message: "T1 change requires explicit approver metadata"})
		}
	}
	if spec.RiskTier == model.RiskTierCritical || spec.RiskTier == model.RiskTierHigh {
		if !complianceJudgePresent {
			violations = append(violations, acerr.Violation{Kind: "risk_tier_compliance", Message: "T1/T2 changes cannot run without Compliance judge participation"})
		}
	}

	return Result{
		OverallCompliant: len(violations) == 0,
		Violations:       violations,
		ExaminedOutputs:  1,
	}
}

func requiresTests(task TaskDescriptor, diff model.DiffStats) bool {
	switch task.Type {
	case TaskCodeFix:
		return true
	case TaskCodeGeneration:
		return diff.LinesChanged > 100 || diff.FilesChanged > 5
	default:
		return false
	}
}

// InScope reports whether p is inside the working spec's scope: it must
// match at least one included glob and no excluded glob. Shared with the
// claim verifier's context-dependency lens, which scope-checks paths a claim
// references.
func InScope(p string, scope model.Scope) bool {
	return matchesAny(p, scope.IncludedGlobs) && !matchesAny(p, scope.ExcludedGlobs)
}

// matchesAny reports whether p matches any of the given glob patterns.
// Patterns use "**" to mean "any number of path segments", a small
// extension over stdlib path.Match (which has no cross-segment wildcard and
// is the only glob matcher available without adding a dependency no
// example in the pack exercises — see DESIGN.md).
func matchesAny(p string, globs []string) bool {
	for _, g := range globs {
		if globMatch(g, p) {
			return true
		}
	}
	return false
}

func globMatch(pattern, p string) bool {
	if strings.Contains(pattern, "**") {
		prefix, suffix, _ := strings.Cut(pattern, "**")
		prefix = strings.TrimSuffix(prefix, "/")
		suffix = strings.TrimPrefix(suffix, "/")
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			return false
		}
		if suffix == "" {
			return true
		}
		rest := strings.TrimPrefix(p, prefix)
		rest = strings.TrimPrefix(rest, "/")
		ok, _ := path.Match(suffix, path.Base(rest))
		if ok {
			return true
		}
		return strings.HasSuffix(rest, strings.TrimPrefix(suffix, "*"))
	}
	ok, _ := path.Match(pattern, p)
	return ok
}
