package report

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/patterns"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Title heads every generated report.
const Title = "Automated Incident Analysis Report"

// Disclaimer closes every generated report.
const Disclaimer = "This analysis was generated automatically using historical incident data and pattern recognition. Verify before acting on it."

const (
	noRootCauses = "No specific root causes identified from historical data"
	noActions    = "No specific actions suggested; review the similar incidents above"
	unassigned   = "TBD"
)

// Format renders an analysis as a markdown document suitable for a tracker comment.
func Format(query string, matches []models.SimilarityMatch, summary models.PatternSummary, rec models.Recommendation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%s**\n\n", Title)
	fmt.Fprintf(&b, "**Original Description:** %s\n\n", oneLine(query))

	b.WriteString("**Similar Historical Incidents Found:**\n\n")
	if len(matches) == 0 {
		b.WriteString("- None above the similarity threshold\n")
	}
	for _, m := range matches {
		inc := m.Incident
		fmt.Fprintf(&b, "- **%s**: %s\n", inc.ID, oneLine(inc.ShortDescription))
		fmt.Fprintf(&b, "  - Created: %s\n", utils.FormatTimestamp(inc.CreatedAt))
		fmt.Fprintf(&b, "  - Updated: %s\n", utils.FormatTimestamp(inc.UpdatedAt))
		fmt.Fprintf(&b, "  - Assignee: %s\n", orDash(inc.Assignee))
		fmt.Fprintf(&b, "  - Group: %s\n", orDash(inc.Group))
		fmt.Fprintf(&b, "  - Similarity: %.2f\n", m.Score)
	}

	b.WriteString("\n**Analysis Summary:**\n\n")
	for _, line := range summaryLines(summary) {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	b.WriteString("\n**Root Causes (Identified):**\n\n")
	writeList(&b, rec.RootCauses, noRootCauses)

	b.WriteString("\n**Recommended Actions:**\n\n")
	writeList(&b, rec.RecommendedActions, noActions)

	b.WriteString("\n**Suggested Assignment:**\n\n")
	fmt.Fprintf(&b, "- Assignee: %s\n", orTBD(rec.SuggestedAssignee))
	fmt.Fprintf(&b, "- Group: %s\n", orTBD(rec.SuggestedGroup))

	fmt.Fprintf(&b, "\n**Analysis Confidence:** %.2f (%s)\n", rec.Confidence, rec.Source)
	fmt.Fprintf(&b, "\n---\n*%s*\n", Disclaimer)
	return b.String()
}

func summaryLines(s models.PatternSummary) []string {
	lines := []string{fmt.Sprintf("Total similar incidents found: %d", s.TotalMatches)}
	if s.TotalMatches == 0 {
		return lines
	}
	if top := patterns.TopN(s.AssigneeFrequency, 3); len(top) > 0 {
		lines = append(lines, "Most incidents handled by: "+patterns.JoinRanked(top))
	}
	if top := patterns.TopN(s.GroupFrequency, 3); len(top) > 0 {
		lines = append(lines, "Most incidents in group: "+patterns.JoinRanked(top))
	}
	lines = append(lines, fmt.Sprintf("Average similarity: %.2f (variance %.4f)", s.AverageScore, s.ScoreVariance))
	if s.TimeSpan > 0 {
		lines = append(lines, "Spread over: "+patterns.FormatSpan(s.TimeSpan))
	}
	return lines
}

func writeList(b *strings.Builder, items []string, placeholder string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "- %s\n", placeholder)
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", oneLine(it))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func orTBD(s string) string {
	if strings.TrimSpace(s) == "" {
		return unassigned
	}
	return s
}
