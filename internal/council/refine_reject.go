package council

import (
	"sort"

	"github.com/ace-labs/ace/internal/model"
)

func priorityBucket(impact model.ChangeImpact) string {
	switch impact {
	case model.ImpactBreaking:
		return "Critical"
	case model.ImpactMajor:
		return "High"
	case model.ImpactModerate:
		return "Medium"
	default:
		return "Low"
	}
}

// aggregateRefine dedups required_changes by (category, description),
// derives a priority distribution from ChangeImpact, and folds effort
// estimates, per §4.2's Refine path.
func aggregateRefine(refines []model.WeightedContribution) ([]model.AggregatedRequiredChange, model.EffortEstimate) {
	type key struct{ category, description string }
	counts := make(map[key]*model.AggregatedRequiredChange)
	var order []key

	var hours []float64
	depSet := make(map[string]struct{})
	complexityCounts := make(map[string]int)

	for _, c := range refines {
		for _, rc := range c.Verdict.RequiredChanges {
			k := key{rc.Category, rc.Description}
			if existing, ok := counts[k]; ok {
				existing.Count++
			} else {
				counts[k] = &model.AggregatedRequiredChange{
					Category:       rc.Category,
					Description:    rc.Description,
					Count:          1,
					PriorityBucket: priorityBucket(rc.Impact),
				}
				order = append(order, k)
			}
		}
		eff := c.Verdict.EstimatedEffort
		hours = append(hours, eff.PersonHours)
		for _, d := range eff.Dependencies {
			depSet[d] = struct{}{}
		}
		if eff.Complexity != "" {
			complexityCounts[eff.Complexity]++
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].category != order[j].category {
			return order[i].category < order[j].category
		}
		return order[i].description < order[j].description
	})

	changes := make([]model.AggregatedRequiredChange, 0, len(order))
	for _, k := range order {
		changes = append(changes, *counts[k])
	}

	deps := make([]string, 0, len(depSet))
	for d := range depSet {
		deps = append(deps, d)
	}
	sort.Strings(deps)

	effort := model.EffortEstimate{Dependencies: deps, Complexity: modeComplexity(complexityCounts)}
	if len(hours) > 0 {
		var sum float64
		for _, h := range hours {
			sum += h
		}
		effort.PersonHours = sum / float64(len(hours)) // plain mean over person-hours, each estimate weighted equally; no min/max range is computed
	}

	return changes, effort
}

func modeComplexity(counts map[string]int) string {
	best, bestN := "", -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// aggregateReject groups critical_issues by (category, severity), counting
// frequency and deduplicating descriptions, per §4.2's Reject path.
func aggregateReject(rejects []model.WeightedContribution) []model.AggregatedCriticalIssue {
	type key struct{ category, severity string }
	seen := make(map[key]map[string]struct{})
	counts := make(map[key]int)
	var order []key

	for _, c := range rejects {
		for _, ci := range c.Verdict.CriticalIssues {
			k := key{ci.Category, ci.Severity}
			if _, ok := seen[k]; !ok {
				seen[k] = make(map[string]struct{})
				order = append(order, k)
			}
			seen[k][ci.Description] = struct{}{}
			counts[k]++
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].category != order[j].category {
			return order[i].category < order[j].category
		}
		return order[i].severity < order[j].severity
	})

	issues := make([]model.AggregatedCriticalIssue, 0, len(order))
	for _, k := range order {
		descs := make([]string, 0, len(seen[k]))
		for d := range seen[k] {
			descs = append(descs, d)
		}
		sort.Strings(descs)
		for _, d := range descs {
			issues = append(issues, model.AggregatedCriticalIssue{
				Category:    k.category,
				Severity:    k.severity,
				Description: d,
				Frequency:   counts[k],
			})
		}
	}
	return issues
}
