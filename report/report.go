// Package report renders a MergedReviewResult into the human-readable text
// format consumed by CLI output and CI logs.
package report

import (
	"fmt"
	"strings"

	"github.com/reviewmesh/orchestrator/merge"
	"github.com/reviewmesh/orchestrator/wire"
)

// ToolRun records one tool-service call made during negotiation, for the
// reporter's tool-runs section.
type ToolRun struct {
	AgentName string
	Tool      string
	OK        bool
}

// descendingSeverities lists every severity from most to least severe, the
// order sections are rendered in.
var descendingSeverities = []wire.Severity{
	wire.SeverityCritical, wire.SeverityHigh, wire.SeverityMedium, wire.SeverityLow,
}

// Render produces the full text report: a summary line, one section per
// non-empty severity in descending order, then a tool-runs section.
func Render(result merge.MergedReviewResult, toolRuns []ToolRun) string {
	var b strings.Builder

	b.WriteString(summaryLine(result.BySeverity))
	b.WriteString("\n")

	bySeverity := make(map[wire.Severity][]wire.Finding)
	for _, f := range result.Findings {
		bySeverity[f.Severity] = append(bySeverity[f.Severity], f)
	}

	for _, sev := range descendingSeverities {
		findings := bySeverity[sev]
		if len(findings) == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(strings.ToUpper(string(sev)))
		b.WriteString(":\n")
		for _, f := range findings {
			b.WriteString(formatFinding(f))
			b.WriteString("\n")
		}
	}

	b.WriteString(renderToolRuns(toolRuns))
	return b.String()
}

// summaryLine renders "Review summary: C critical, H high, M medium, L low".
func summaryLine(bySeverity map[wire.Severity]int) string {
	return fmt.Sprintf(
		"Review summary: %d critical, %d high, %d medium, %d low",
		bySeverity[wire.SeverityCritical],
		bySeverity[wire.SeverityHigh],
		bySeverity[wire.SeverityMedium],
		bySeverity[wire.SeverityLow],
	)
}

// formatFinding renders "[sev] title; evidence; recommendation[; file[:line]]".
func formatFinding(f wire.Finding) string {
	s := fmt.Sprintf("[%s] %s; %s; %s", f.Severity, f.Title, f.Evidence, f.Recommendation)
	if f.File != "" {
		if f.Line > 0 {
			s += fmt.Sprintf("; %s:%d", f.File, f.Line)
		} else {
			s += fmt.Sprintf("; %s", f.File)
		}
	}
	return s
}

// renderToolRuns renders the trailing tool-runs section, one line per call.
func renderToolRuns(runs []ToolRun) string {
	if len(runs) == 0 {
		return "\nTool runs: none\n"
	}
	var b strings.Builder
	b.WriteString("\nTool runs:\n")
	for _, r := range runs {
		status := "ok"
		if !r.OK {
			status = "failed"
		}
		b.WriteString(fmt.Sprintf("  %s called %s: %s\n", r.AgentName, r.Tool, status))
	}
	return b.String()
}
