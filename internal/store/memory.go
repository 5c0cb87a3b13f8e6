package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// MemoryStore is a brute-force in-process index. It scans every record per query.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.IncidentRecord
}

// NewMemoryStore returns an empty store, optionally seeded with records.
func NewMemoryStore(records ...models.IncidentRecord) *MemoryStore {
	s := &MemoryStore{records: make(map[string]models.IncidentRecord, len(records))}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return s
}

// Upsert stores or replaces records by ID. Records without embeddings are rejected.
func (s *MemoryStore) Upsert(_ context.Context, records []models.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record id is required")
		}
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", rec.ID)
		}
		s.records[rec.ID] = rec
	}
	return nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// NearestNeighbors scans all records and returns the k closest by cosine distance.
func (s *MemoryStore) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	neighbors := make([]models.Neighbor, 0, len(s.records))
	for _, rec := range s.records {
		dist, err := CosineDistance(vector, rec.Embedding)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		neighbors = append(neighbors, models.Neighbor{Record: rec, Distance: dist})
	}
	s.mu.RUnlock()

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Record.ID < neighbors[j].Record.ID
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}
