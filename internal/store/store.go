package store

import (
	"context"
	"fmt"
	"math"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// IncidentStore is the nearest-neighbour primitive the retriever depends on.
// Implementations return at most k neighbours ordered by ascending cosine distance.
type IncidentStore interface {
	NearestNeighbors(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error)
}

// Writer persists incident records together with their embeddings.
type Writer interface {
	Upsert(ctx context.Context, records []models.IncidentRecord) error
	Count(ctx context.Context) (int, error)
}

// Index is a store that can be both queried and written.
type Index interface {
	IncidentStore
	Writer
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos, nil
}
