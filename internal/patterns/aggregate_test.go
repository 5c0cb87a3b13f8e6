package patterns

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

func match(id, assignee, group string, score float64, created time.Time) models.SimilarityMatch {
	return models.SimilarityMatch{
		Incident: models.IncidentRecord{ID: id, Assignee: assignee, Group: group, CreatedAt: created},
		Score:    score,
	}
}

func TestAggregateEmpty(t *testing.T) {
	s, err := Aggregate(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalMatches != 0 || s.AverageScore != 0 || s.ScoreVariance != 0 || s.TimeSpan != 0 {
		t.Fatalf("expected zero summary, got %+v", s)
	}
	if s.AssigneeFrequency == nil || len(s.AssigneeFrequency) != 0 || s.GroupFrequency == nil || len(s.GroupFrequency) != 0 {
		t.Fatalf("expected empty non-nil frequency maps")
	}
}

func TestAggregateFrequenciesAndStats(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	matches := []models.SimilarityMatch{
		match("INC1", "alice", "dba", 0.9, base.Add(48*time.Hour)),
		match("INC2", "alice", "dba", 0.8, base),
		match("INC3", "bob", "", 0.4, base.Add(24*time.Hour)),
		match("INC4", "  ", "ops", 0.5, base.Add(12*time.Hour)),
	}

	s, err := Aggregate(matches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalMatches != 4 {
		t.Fatalf("expected 4 matches, got %d", s.TotalMatches)
	}
	if s.AssigneeFrequency["alice"] != 2 || s.AssigneeFrequency["bob"] != 1 || len(s.AssigneeFrequency) != 2 {
		t.Fatalf("unexpected assignee frequency: %v", s.AssigneeFrequency)
	}
	if s.GroupFrequency["dba"] != 2 || s.GroupFrequency["ops"] != 1 {
		t.Fatalf("unexpected group frequency: %v", s.GroupFrequency)
	}

	sum := 0
	for _, c := range s.AssigneeFrequency {
		sum += c
	}
	if sum >= s.TotalMatches {
		t.Fatalf("frequency sum %d should be below total when an assignee is blank", sum)
	}

	if math.Abs(s.AverageScore-0.65) > 1e-9 {
		t.Fatalf("unexpected average: %v", s.AverageScore)
	}
	// population variance of {0.9,0.8,0.4,0.5} around 0.65
	want := (0.0625 + 0.0225 + 0.0625 + 0.0225) / 4
	if math.Abs(s.ScoreVariance-want) > 1e-9 {
		t.Fatalf("unexpected variance: got %v want %v", s.ScoreVariance, want)
	}
	if s.TimeSpan != 48*time.Hour {
		t.Fatalf("unexpected time span: %v", s.TimeSpan)
	}
}

func TestAggregateFrequencySumEqualsTotalWhenComplete(t *testing.T) {
	now := time.Now()
	s, err := Aggregate([]models.SimilarityMatch{
		match("INC1", "alice", "dba", 0.9, now),
		match("INC2", "alice", "dba", 0.8, now),
		match("INC3", "bob", "ops", 0.4, now),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0
	for _, c := range s.AssigneeFrequency {
		sum += c
	}
	if sum != s.TotalMatches {
		t.Fatalf("expected frequency sum %d to equal total %d", sum, s.TotalMatches)
	}
}

func TestAggregateSingleMatch(t *testing.T) {
	s, err := Aggregate([]models.SimilarityMatch{match("INC1", "alice", "dba", 0.7, time.Now())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ScoreVariance != 0 || s.TimeSpan != 0 || s.AverageScore != 0.7 {
		t.Fatalf("unexpected single-match summary: %+v", s)
	}
}

func TestAggregateRejectsInvalidScores(t *testing.T) {
	for _, score := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := Aggregate([]models.SimilarityMatch{match("INC1", "", "", score, time.Now())})
		if !errors.Is(err, utils.ErrValidation) {
			t.Fatalf("score %v: expected validation error, got %v", score, err)
		}
	}
}

func TestTopNAndMode(t *testing.T) {
	freq := map[string]int{"carol": 2, "bob": 2, "alice": 1}
	top := TopN(freq, 2)
	if len(top) != 2 || top[0].Value != "bob" || top[1].Value != "carol" {
		t.Fatalf("unexpected ranking: %+v", top)
	}
	if got := Mode(freq); got != "bob" {
		t.Fatalf("tie should resolve to lexicographically smallest, got %q", got)
	}
	if got := Mode(map[string]int{}); got != "" {
		t.Fatalf("empty map should yield empty mode, got %q", got)
	}
	if all := TopN(freq, 0); len(all) != 3 {
		t.Fatalf("n<=0 should return all entries, got %d", len(all))
	}
}

func TestContext(t *testing.T) {
	s := models.PatternSummary{
		TotalMatches:      3,
		AssigneeFrequency: map[string]int{"alice": 2, "bob": 1},
		GroupFrequency:    map[string]int{"dba": 3},
		AverageScore:      0.7,
		ScoreVariance:     0.0467,
		TimeSpan:          72 * time.Hour,
	}
	out := Context(s)
	for _, want := range []string{"Similar incidents found: 3", "0.70", "alice (2), bob (1)", "dba (3)", "3.0 days"} {
		if !strings.Contains(out, want) {
			t.Fatalf("context missing %q:\n%s", want, out)
		}
	}
	if empty := Context(models.PatternSummary{}); strings.Contains(empty, "Average") {
		t.Fatalf("empty summary should not render statistics: %s", empty)
	}
}
