package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/patterns"
	"github.com/miradorstack/mirador-triage/internal/reasoning"
)

// DefaultReasoningTimeout bounds the reasoning call when no positive timeout is configured.
const DefaultReasoningTimeout = 20 * time.Second

// confidenceCap bounds heuristic confidence; frequency statistics alone never justify certainty.
const confidenceCap = 0.8

// SynthesizerConfig holds the synthesis parameters.
type SynthesizerConfig struct {
	MinIncidents int
	Timeout      time.Duration
}

// Synthesizer builds a Recommendation from a pattern summary, consulting the
// reasoning service when it is available and falling back to the heuristic otherwise.
type Synthesizer struct {
	reasoner reasoning.Service
	cfg      SynthesizerConfig
	logger   *slog.Logger
}

// NewSynthesizer constructs a Synthesizer; reasoner may be nil.
func NewSynthesizer(reasoner reasoning.Service, cfg SynthesizerConfig, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinIncidents < 0 {
		cfg.MinIncidents = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReasoningTimeout
	}
	return &Synthesizer{reasoner: reasoner, cfg: cfg, logger: logger}
}

// Synthesize never fails: reasoning problems degrade to the heuristic recommendation.
func (s *Synthesizer) Synthesize(ctx context.Context, queryText string, summary models.PatternSummary, reasoningAvailable bool) models.Recommendation {
	rec := s.heuristic(summary)
	if !reasoningAvailable || s.reasoner == nil || summary.TotalMatches == 0 {
		return rec
	}

	analysis, reason, err := s.reason(ctx, queryText, summary)
	if err != nil {
		metrics.ObserveReasoningFallback(reason)
		s.logger.Warn("reasoning unavailable, using heuristic recommendation",
			slog.String("reason", reason),
			slog.Any("error", err))
		return rec
	}

	augmented := models.Recommendation{
		SuggestedAssignee:  rec.SuggestedAssignee,
		SuggestedGroup:     rec.SuggestedGroup,
		RootCauses:         analysis.RootCauses,
		RecommendedActions: analysis.Actions,
		Confidence:         rec.Confidence,
		Source:             models.SourceAugmented,
	}
	if augmented.SuggestedAssignee == "" {
		augmented.SuggestedAssignee = analysis.SuggestedAssignee
	}
	if augmented.SuggestedGroup == "" {
		augmented.SuggestedGroup = analysis.SuggestedGroup
	}
	if analysis.Confidence != nil && s.meetsMinimum(summary) {
		augmented.Confidence = *analysis.Confidence
	}
	return augmented
}

func (s *Synthesizer) heuristic(summary models.PatternSummary) models.Recommendation {
	return models.Recommendation{
		SuggestedAssignee:  patterns.Mode(summary.AssigneeFrequency),
		SuggestedGroup:     patterns.Mode(summary.GroupFrequency),
		RootCauses:         []string{},
		RecommendedActions: []string{},
		Confidence:         HeuristicConfidence(summary, s.cfg.MinIncidents),
		Source:             models.SourceHeuristic,
	}
}

func (s *Synthesizer) meetsMinimum(summary models.PatternSummary) bool {
	return summary.TotalMatches > 0 && summary.TotalMatches >= s.cfg.MinIncidents
}

type reasoningResult struct {
	analysis reasoning.Analysis
	err      error
}

// reason runs the reasoning call under the configured timeout. The call runs on its own
// goroutine so an implementation that ignores ctx still cannot stall synthesis.
func (s *Synthesizer) reason(ctx context.Context, queryText string, summary models.PatternSummary) (reasoning.Analysis, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan reasoningResult, 1)
	go func() {
		a, err := s.reasoner.Analyze(ctx, queryText, patterns.Context(summary))
		done <- reasoningResult{analysis: a, err: err}
	}()

	var res reasoningResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return reasoning.Analysis{}, metrics.FallbackTimeout, ctx.Err()
	}

	switch {
	case res.err == nil:
	case errors.Is(res.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return reasoning.Analysis{}, metrics.FallbackTimeout, res.err
	case errors.Is(res.err, reasoning.ErrMalformed):
		return reasoning.Analysis{}, metrics.FallbackMalformed, res.err
	default:
		return reasoning.Analysis{}, metrics.FallbackError, res.err
	}

	if err := res.analysis.Validate(); err != nil {
		return reasoning.Analysis{}, metrics.FallbackMalformed, err
	}
	return res.analysis, "", nil
}

// HeuristicConfidence grows with the number of matches and their average score and shrinks
// with score variance. It is 0 below minIncidents and never exceeds confidenceCap.
func HeuristicConfidence(summary models.PatternSummary, minIncidents int) float64 {
	n := summary.TotalMatches
	if n == 0 || n < minIncidents {
		return 0
	}
	floor := minIncidents
	if floor < 1 {
		floor = 1
	}
	volume := 0.5 + 0.5*float64(n)/float64(n+floor)
	spread := 1 / (1 + 4*summary.ScoreVariance)
	return clamp(summary.AverageScore*volume*spread, 0, confidenceCap)
}
