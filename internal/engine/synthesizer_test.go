package engine

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/reasoning"
)

func summaryOf(total int, avg, variance float64, assignees, groups map[string]int) models.PatternSummary {
	if assignees == nil {
		assignees = map[string]int{}
	}
	if groups == nil {
		groups = map[string]int{}
	}
	return models.PatternSummary{
		TotalMatches:      total,
		AssigneeFrequency: assignees,
		GroupFrequency:    groups,
		AverageScore:      avg,
		ScoreVariance:     variance,
	}
}

func TestSynthesizeHeuristicWhenReasoningUnavailable(t *testing.T) {
	reasoner := &fakeReasoner{analysis: reasoning.Analysis{RootCauses: []string{"x"}}}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 3, Timeout: time.Second}, nil)

	summary := summaryOf(3, 0.7, 0.04, map[string]int{"alice": 2, "bob": 1}, map[string]int{"dba": 3})
	rec := s.Synthesize(context.Background(), "q", summary, false)

	if rec.Source != models.SourceHeuristic {
		t.Fatalf("expected heuristic source, got %s", rec.Source)
	}
	if len(rec.RootCauses) != 0 || len(rec.RecommendedActions) != 0 {
		t.Fatalf("heuristic path must not produce root causes or actions: %+v", rec)
	}
	if rec.SuggestedAssignee != "alice" || rec.SuggestedGroup != "dba" {
		t.Fatalf("unexpected suggestions: %+v", rec)
	}
	if rec.Confidence <= 0 || rec.Confidence > 1 {
		t.Fatalf("expected bounded positive confidence, got %v", rec.Confidence)
	}
	if reasoner.calls != 0 {
		t.Fatalf("reasoner must not be called when unavailable")
	}
}

func TestSynthesizeModeTieBreak(t *testing.T) {
	s := NewSynthesizer(nil, SynthesizerConfig{MinIncidents: 1}, nil)
	rec := s.Synthesize(context.Background(), "q", summaryOf(4, 0.6, 0, map[string]int{"zoe": 2, "adam": 2}, nil), true)
	if rec.SuggestedAssignee != "adam" {
		t.Fatalf("tie should pick lexicographically smallest, got %q", rec.SuggestedAssignee)
	}
	if rec.SuggestedGroup != "" {
		t.Fatalf("empty group map should yield empty suggestion, got %q", rec.SuggestedGroup)
	}
	if rec.Source != models.SourceHeuristic {
		t.Fatalf("no reasoner configured should stay heuristic")
	}
}

func TestSynthesizeZeroConfidenceBelowMinimum(t *testing.T) {
	reasoner := &fakeReasoner{analysis: reasoning.Analysis{RootCauses: []string{"cause"}, Confidence: ptr(0.9)}}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 3, Timeout: time.Second}, nil)

	for _, summary := range []models.PatternSummary{
		summaryOf(0, 0, 0, nil, nil),
		summaryOf(1, 1, 0, map[string]int{"alice": 1}, nil),
		summaryOf(2, 0.99, 0, map[string]int{"alice": 2}, nil),
	} {
		for _, available := range []bool{false, true} {
			rec := s.Synthesize(context.Background(), "q", summary, available)
			if rec.Confidence != 0 {
				t.Fatalf("total=%d available=%v: expected 0 confidence, got %v", summary.TotalMatches, available, rec.Confidence)
			}
		}
	}
}

func TestSynthesizeAugmented(t *testing.T) {
	reasoner := &fakeReasoner{analysis: reasoning.Analysis{
		RootCauses:        []string{"connection pool exhausted"},
		Actions:           []string{"raise pool size"},
		Confidence:        ptr(0.66),
		SuggestedAssignee: "llm-pick",
		SuggestedGroup:    "platform",
	}}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 3, Timeout: time.Second}, nil)
	summary := summaryOf(3, 0.8, 0.01, map[string]int{"alice": 2, "bob": 1}, nil)

	rec := s.Synthesize(context.Background(), "db down", summary, true)
	if rec.Source != models.SourceAugmented {
		t.Fatalf("expected augmented source, got %s", rec.Source)
	}
	if rec.SuggestedAssignee != "alice" {
		t.Fatalf("heuristic assignee should win, got %q", rec.SuggestedAssignee)
	}
	if rec.SuggestedGroup != "platform" {
		t.Fatalf("reasoning should fill the empty group, got %q", rec.SuggestedGroup)
	}
	if rec.Confidence != 0.66 {
		t.Fatalf("expected reasoning confidence, got %v", rec.Confidence)
	}
	if len(rec.RootCauses) != 1 || len(rec.RecommendedActions) != 1 {
		t.Fatalf("unexpected augmented lists: %+v", rec)
	}
	if !strings.Contains(reasoner.context, "Similar incidents found: 3") {
		t.Fatalf("reasoner should receive the summary context, got %q", reasoner.context)
	}
}

func TestSynthesizeAugmentedWithoutConfidenceUsesHeuristic(t *testing.T) {
	reasoner := &fakeReasoner{analysis: reasoning.Analysis{Actions: []string{"restart"}}}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 2, Timeout: time.Second}, nil)
	summary := summaryOf(4, 0.7, 0.02, nil, nil)

	rec := s.Synthesize(context.Background(), "q", summary, true)
	if rec.Source != models.SourceAugmented {
		t.Fatalf("expected augmented source")
	}
	if want := HeuristicConfidence(summary, 2); rec.Confidence != want {
		t.Fatalf("expected heuristic confidence %v, got %v", want, rec.Confidence)
	}
}

func TestSynthesizeSkipsReasoningWithoutMatches(t *testing.T) {
	reasoner := &fakeReasoner{analysis: reasoning.Analysis{Actions: []string{"restart"}}}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 0, Timeout: time.Second}, nil)
	rec := s.Synthesize(context.Background(), "q", summaryOf(0, 0, 0, nil, nil), true)
	if rec.Source != models.SourceHeuristic || reasoner.calls != 0 {
		t.Fatalf("reasoning should be skipped with no matches: %+v calls=%d", rec, reasoner.calls)
	}
}

func TestSynthesizeFallsBackOnReasoningFailure(t *testing.T) {
	summary := summaryOf(3, 0.7, 0.01, map[string]int{"alice": 3}, nil)
	cases := []struct {
		name     string
		reasoner *fakeReasoner
	}{
		{"service error", &fakeReasoner{err: errUpstream}},
		{"malformed error", &fakeReasoner{err: reasoning.ErrMalformed}},
		{"confidence out of range", &fakeReasoner{analysis: reasoning.Analysis{RootCauses: []string{"x"}, Confidence: ptr(1.4)}}},
		{"negative confidence", &fakeReasoner{analysis: reasoning.Analysis{Actions: []string{"x"}, Confidence: ptr(-0.2)}}},
		{"empty analysis", &fakeReasoner{analysis: reasoning.Analysis{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSynthesizer(tc.reasoner, SynthesizerConfig{MinIncidents: 3, Timeout: time.Second}, nil)
			rec := s.Synthesize(context.Background(), "q", summary, true)
			if rec.Source != models.SourceHeuristic {
				t.Fatalf("expected heuristic fallback, got %s", rec.Source)
			}
			if len(rec.RootCauses) != 0 || len(rec.RecommendedActions) != 0 {
				t.Fatalf("fallback must not carry reasoning output: %+v", rec)
			}
			if rec.SuggestedAssignee != "alice" {
				t.Fatalf("fallback should keep heuristic assignee, got %q", rec.SuggestedAssignee)
			}
			if tc.reasoner.calls != 1 {
				t.Fatalf("expected one reasoning call, got %d", tc.reasoner.calls)
			}
		})
	}
}

func TestSynthesizeTimeoutFallsBack(t *testing.T) {
	reasoner := &fakeReasoner{
		analysis: reasoning.Analysis{RootCauses: []string{"late"}},
		delay:    500 * time.Millisecond,
	}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 1, Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	rec := s.Synthesize(context.Background(), "q", summaryOf(2, 0.8, 0, map[string]int{"alice": 2}, nil), true)
	elapsed := time.Since(start)

	if rec.Source != models.SourceHeuristic {
		t.Fatalf("expected heuristic after timeout, got %s", rec.Source)
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("synthesis waited %v on a stalled reasoner", elapsed)
	}
}

func TestSynthesizeBoundsReasoningWithoutConfiguredTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		reasoner := &fakeReasoner{analysis: reasoning.Analysis{RootCauses: []string{"disk"}}}
		s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 1, Timeout: timeout}, nil)
		if s.cfg.Timeout != DefaultReasoningTimeout {
			t.Fatalf("timeout %v: expected default bound, got %v", timeout, s.cfg.Timeout)
		}

		rec := s.Synthesize(context.Background(), "q", summaryOf(2, 0.8, 0, nil, nil), true)
		if rec.Source != models.SourceAugmented {
			t.Fatalf("timeout %v: expected augmented result, got %s", timeout, rec.Source)
		}
		if reasoner.deadline <= 0 || reasoner.deadline > DefaultReasoningTimeout {
			t.Fatalf("timeout %v: reasoning call ran without a deadline (%v)", timeout, reasoner.deadline)
		}
	}
}

func TestSynthesizeHonoursCallerCancellation(t *testing.T) {
	reasoner := &fakeReasoner{analysis: reasoning.Analysis{RootCauses: []string{"late"}}, delay: 200 * time.Millisecond}
	s := NewSynthesizer(reasoner, SynthesizerConfig{MinIncidents: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := s.Synthesize(ctx, "q", summaryOf(2, 0.8, 0, nil, nil), true)
	if rec.Source != models.SourceHeuristic {
		t.Fatalf("expected heuristic when the caller context is done")
	}
}

func TestHeuristicConfidenceShape(t *testing.T) {
	const min = 3
	if got := HeuristicConfidence(summaryOf(2, 1, 0, nil, nil), min); got != 0 {
		t.Fatalf("below minimum should be 0, got %v", got)
	}

	prev := 0.0
	for n := min; n <= 50; n++ {
		c := HeuristicConfidence(summaryOf(n, 0.7, 0.01, nil, nil), min)
		if c < prev {
			t.Fatalf("confidence should not decrease with more matches: n=%d %v < %v", n, c, prev)
		}
		prev = c
	}

	low := HeuristicConfidence(summaryOf(5, 0.4, 0.01, nil, nil), min)
	high := HeuristicConfidence(summaryOf(5, 0.6, 0.01, nil, nil), min)
	if high <= low {
		t.Fatalf("confidence should increase with average score: %v <= %v", high, low)
	}

	tight := HeuristicConfidence(summaryOf(5, 0.6, 0.001, nil, nil), min)
	loose := HeuristicConfidence(summaryOf(5, 0.6, 0.2, nil, nil), min)
	if loose >= tight {
		t.Fatalf("confidence should decrease with variance: %v >= %v", loose, tight)
	}

	for _, s := range []models.PatternSummary{
		summaryOf(1000, 1, 0, nil, nil),
		summaryOf(3, 0, 0, nil, nil),
		summaryOf(3, 1, 0.25, nil, nil),
	} {
		c := HeuristicConfidence(s, min)
		if c < 0 || c > confidenceCap || math.IsNaN(c) {
			t.Fatalf("confidence %v out of bounds for %+v", c, s)
		}
	}
}
