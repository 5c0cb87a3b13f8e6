package patterns

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Ranked is one entry of a frequency map ordered by TopN.
type Ranked struct {
	Value string
	Count int
}

// Aggregate derives frequency patterns and score statistics from a match list.
// It is pure; a score outside [0,1] is a caller error and is never clamped.
func Aggregate(matches []models.SimilarityMatch) (models.PatternSummary, error) {
	summary := models.PatternSummary{
		AssigneeFrequency: make(map[string]int),
		GroupFrequency:    make(map[string]int),
	}
	if len(matches) == 0 {
		return summary, nil
	}

	var (
		sum              float64
		earliest, latest time.Time
	)
	for i, m := range matches {
		if math.IsNaN(m.Score) || m.Score < 0 || m.Score > 1 {
			return models.PatternSummary{}, utils.KindError(utils.ErrValidation, "patterns.Aggregate",
				fmt.Sprintf("match %d (%s) has score %v outside [0,1]", i, m.Incident.ID, m.Score), nil)
		}
		sum += m.Score

		if v := strings.TrimSpace(m.Incident.Assignee); v != "" {
			summary.AssigneeFrequency[v]++
		}
		if v := strings.TrimSpace(m.Incident.Group); v != "" {
			summary.GroupFrequency[v]++
		}

		created := m.Incident.CreatedAt
		if i == 0 || created.Before(earliest) {
			earliest = created
		}
		if i == 0 || created.After(latest) {
			latest = created
		}
	}

	n := float64(len(matches))
	summary.TotalMatches = len(matches)
	summary.AverageScore = sum / n

	if len(matches) >= 2 {
		var sq float64
		for _, m := range matches {
			d := m.Score - summary.AverageScore
			sq += d * d
		}
		summary.ScoreVariance = sq / n
		summary.TimeSpan = latest.Sub(earliest)
	}
	return summary, nil
}

// TopN returns up to n entries ordered by count desc, then value asc.
// n <= 0 returns every entry.
func TopN(freq map[string]int, n int) []Ranked {
	ranked := make([]Ranked, 0, len(freq))
	for v, c := range freq {
		ranked = append(ranked, Ranked{Value: v, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Mode returns the most frequent value; ties go to the lexicographically smallest.
// An empty map yields "".
func Mode(freq map[string]int) string {
	top := TopN(freq, 1)
	if len(top) == 0 {
		return ""
	}
	return top[0].Value
}

// Context renders a summary as compact text for the reasoning prompt.
func Context(summary models.PatternSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Similar incidents found: %d\n", summary.TotalMatches)
	if summary.TotalMatches == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Average similarity: %.2f (variance %.4f)\n", summary.AverageScore, summary.ScoreVariance)
	if summary.TimeSpan > 0 {
		fmt.Fprintf(&b, "Time span: %s\n", FormatSpan(summary.TimeSpan))
	}
	if s := JoinRanked(TopN(summary.AssigneeFrequency, 5)); s != "" {
		fmt.Fprintf(&b, "Frequent assignees: %s\n", s)
	}
	if s := JoinRanked(TopN(summary.GroupFrequency, 5)); s != "" {
		fmt.Fprintf(&b, "Frequent groups: %s\n", s)
	}
	return b.String()
}

// JoinRanked renders entries as "alice (2), bob (1)".
func JoinRanked(ranked []Ranked) string {
	parts := make([]string, 0, len(ranked))
	for _, r := range ranked {
		parts = append(parts, fmt.Sprintf("%s (%d)", r.Value, r.Count))
	}
	return strings.Join(parts, ", ")
}

// FormatSpan renders a duration in hours below two days and in days above.
func FormatSpan(d time.Duration) string {
	if d >= 48*time.Hour {
		return fmt.Sprintf("%.1f days", d.Hours()/24)
	}
	return d.Round(time.Minute).String()
}
