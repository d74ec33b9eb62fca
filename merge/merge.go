// Package merge combines the InvokeResults of a fan-out into one
// deterministic, deduplicated, totally ordered MergedReviewResult.
package merge

import (
	"sort"

	"github.com/reviewmesh/orchestrator/invoker"
	"github.com/reviewmesh/orchestrator/wire"
)

// MergedReviewResult is the final, deterministic output of a fan-out: sorted
// findings and a full bySeverity breakdown.
type MergedReviewResult struct {
	Findings   []wire.Finding        `json:"findings"`
	BySeverity map[wire.Severity]int `json:"by_severity"`
}

// Merge flattens, deduplicates, and sorts the findings across results. Failed
// invocations (non-empty Error) contribute no findings. Deduplication keeps
// the first occurrence in input order, by wire.Finding.DedupKey. The final
// order is a total order: (−rank(severity), file asc, line asc with missing
// = 0, title asc), so identical inputs always produce byte-identical output.
func Merge(results []invoker.InvokeResult) MergedReviewResult {
	seen := make(map[string]struct{})
	var findings []wire.Finding

	for _, r := range results {
		if r.Error != "" {
			continue
		}
		for _, f := range r.Findings {
			key := f.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			findings = append(findings, f)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return less(findings[i], findings[j])
	})

	bySeverity := make(map[wire.Severity]int, len(wire.AllSeverities))
	for _, sev := range wire.AllSeverities {
		bySeverity[sev] = 0
	}
	for _, f := range findings {
		bySeverity[f.Severity]++
	}

	return MergedReviewResult{Findings: findings, BySeverity: bySeverity}
}

// less implements the total order: descending severity rank, then ascending
// file, then ascending line (missing treated as 0), then ascending title.
func less(a, b wire.Finding) bool {
	ra, rb := a.Severity.Rank(), b.Severity.Rank()
	if ra != rb {
		return ra > rb
	}
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Title < b.Title
}
