package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/patterns"
	"github.com/miradorstack/mirador-triage/internal/report"
)

// Pipeline composes retrieval, aggregation, synthesis and report rendering.
type Pipeline struct {
	retriever          *Retriever
	synthesizer        *Synthesizer
	reasoningAvailable bool
	logger             *slog.Logger
	now                func() time.Time
}

// NewPipeline constructs the analysis pipeline. reasoningAvailable is the configured
// enablement flag; the synthesizer still needs a reasoning service to use it.
func NewPipeline(logger *slog.Logger, retriever *Retriever, synthesizer *Synthesizer, reasoningAvailable bool) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		retriever:          retriever,
		synthesizer:        synthesizer,
		reasoningAvailable: reasoningAvailable,
		logger:             logger,
		now:                time.Now,
	}
}

// Analyze runs the full flow for one piece of text. Embedding and store failures are
// returned; reasoning failures never are.
func (p *Pipeline) Analyze(ctx context.Context, text string, threshold float64, limit int) (models.Analysis, error) {
	matches, err := p.retriever.Retrieve(ctx, text, threshold, limit)
	if err != nil {
		return models.Analysis{}, err
	}

	summary, err := patterns.Aggregate(matches)
	if err != nil {
		return models.Analysis{}, err
	}

	rec := p.synthesizer.Synthesize(ctx, text, summary, p.reasoningAvailable)
	p.logger.Debug("analysis synthesized",
		slog.Int("matches", summary.TotalMatches),
		slog.String("source", string(rec.Source)),
		slog.Float64("confidence", rec.Confidence))

	return models.Analysis{
		Query:          text,
		Matches:        matches,
		Summary:        summary,
		Recommendation: rec,
		Report:         report.Format(text, matches, summary, rec),
		CreatedAt:      p.now().UTC(),
	}, nil
}
