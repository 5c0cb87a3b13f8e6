package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/store"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Retriever turns free text into a ranked list of historically similar incidents.
// Scores are cosine similarity floored at zero; the metric is fixed process-wide.
type Retriever struct {
	embedder   embedding.Embedder
	store      store.IncidentStore
	dimensions int
	logger     *slog.Logger
}

// NewRetriever constructs a Retriever. dimensions <= 0 disables the vector length check.
func NewRetriever(embedder embedding.Embedder, incidents store.IncidentStore, dimensions int, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: incidents, dimensions: dimensions, logger: logger}
}

// Retrieve embeds queryText, asks the store for the limit nearest incidents and keeps those scoring at
// least threshold. Results are ordered by score desc, then CreatedAt desc, then ID asc.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, threshold float64, limit int) ([]models.SimilarityMatch, error) {
	const op = "engine.Retrieve"
	if strings.TrimSpace(queryText) == "" {
		return nil, utils.KindError(utils.ErrValidation, op, "query text is empty", nil)
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, utils.KindError(utils.ErrValidation, op, fmt.Sprintf("threshold %v outside [0,1]", threshold), nil)
	}
	if limit <= 0 {
		return nil, utils.KindError(utils.ErrValidation, op, fmt.Sprintf("limit %d must be positive", limit), nil)
	}
	if r.embedder == nil || r.store == nil {
		return nil, utils.KindError(utils.ErrNotConfigured, op, "retriever requires an embedder and a store", nil)
	}

	vector, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, utils.KindError(utils.ErrEmbedding, op, "embed query", err)
	}
	if len(vector) == 0 {
		return nil, utils.KindError(utils.ErrEmbedding, op, "embedder returned an empty vector", nil)
	}
	if r.dimensions > 0 && len(vector) != r.dimensions {
		return nil, utils.KindError(utils.ErrEmbedding, op,
			fmt.Sprintf("embedder returned %d dimensions, expected %d", len(vector), r.dimensions), nil)
	}

	neighbors, err := r.store.NearestNeighbors(ctx, vector, limit)
	if err != nil {
		return nil, utils.KindError(utils.ErrStoreQuery, op, "nearest neighbours", err)
	}

	matches := make([]models.SimilarityMatch, 0, len(neighbors))
	for _, n := range neighbors {
		score := Score(n.Distance)
		if score < threshold {
			continue
		}
		matches = append(matches, models.SimilarityMatch{Incident: n.Record, Score: score})
	}
	SortMatches(matches)

	r.logger.Debug("retrieved similar incidents",
		slog.Int("candidates", len(neighbors)),
		slog.Int("matches", len(matches)),
		slog.Float64("threshold", threshold))
	return matches, nil
}

// Score converts a cosine distance into a similarity in [0,1].
func Score(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return clamp(1-distance, 0, 1)
}

// SortMatches orders matches by score desc, then CreatedAt desc, then ID asc.
func SortMatches(matches []models.SimilarityMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Incident.CreatedAt.Equal(b.Incident.CreatedAt) {
			return a.Incident.CreatedAt.After(b.Incident.CreatedAt)
		}
		return a.Incident.ID < b.Incident.ID
	})
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
