package store

import (
	"context"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// ChromemStore keeps incidents in an embedded chromem-go collection.
// chromem scores by cosine similarity, which is converted to distance on the way out.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemStore opens a persistent collection at path, or an in-memory one when path is empty.
// embed is only consulted for documents added without an embedding.
func NewChromemStore(path, collection string, compress bool, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}
	if collection == "" {
		collection = "incidents"
	}

	col, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemStore{db: db, collection: col}, nil
}

// Upsert adds records; chromem replaces documents that share an ID.
func (s *ChromemStore) Upsert(ctx context.Context, records []models.IncidentRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", rec.ID)
		}
		content := rec.ShortDescription
		if content == "" {
			content = rec.ID
		}
		docs = append(docs, chromem.Document{
			ID:        rec.ID,
			Content:   content,
			Metadata:  recordToMetadata(rec),
			Embedding: append([]float32(nil), rec.Embedding...),
		})
	}
	return s.collection.AddDocuments(ctx, docs, 1)
}

// Count returns the number of indexed documents.
func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.collection.Count(), nil
}

// NearestNeighbors queries the collection by vector.
func (s *ChromemStore) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	// chromem-go requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	neighbors := make([]models.Neighbor, 0, len(results))
	for _, r := range results {
		rec := metadataToRecord(r.ID, r.Content, r.Metadata)
		rec.Embedding = r.Embedding
		neighbors = append(neighbors, models.Neighbor{Record: rec, Distance: 1 - float64(r.Similarity)})
	}
	return neighbors, nil
}

func recordToMetadata(rec models.IncidentRecord) map[string]string {
	return map[string]string{
		"short_description": rec.ShortDescription,
		"created_at":        formatTime(rec.CreatedAt),
		"updated_at":        formatTime(rec.UpdatedAt),
		"assignee":          rec.Assignee,
		"group":             rec.Group,
		"created_by":        rec.CreatedBy,
		"updated_by":        rec.UpdatedBy,
	}
}

func metadataToRecord(id, content string, m map[string]string) models.IncidentRecord {
	desc := m["short_description"]
	if desc == "" && content != id {
		desc = content
	}
	return models.IncidentRecord{
		ID:               id,
		ShortDescription: desc,
		CreatedAt:        parseTime(m["created_at"]),
		UpdatedAt:        parseTime(m["updated_at"]),
		Assignee:         m["assignee"],
		Group:            m["group"],
		CreatedBy:        m["created_by"],
		UpdatedBy:        m["updated_by"],
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
