package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/models"
)

// WeaviateStore queries an external Weaviate index configured with the cosine distance metric.
type WeaviateStore struct {
	endpoint     string
	apiKey       string
	class        string
	httpClient   *http.Client
	cache        cache.Provider
	neighbourTTL time.Duration
}

// NewWeaviateStore constructs a Weaviate client. Neighbour lookups are cached when neighbourTTL > 0.
func NewWeaviateStore(endpoint, apiKey, class string, timeout time.Duration, cacheProvider cache.Provider, neighbourTTL time.Duration) *WeaviateStore {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if class == "" {
		class = "Incident"
	}
	if neighbourTTL < 0 {
		neighbourTTL = 0
	}
	return &WeaviateStore{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		class:        class,
		httpClient:   &http.Client{Timeout: timeout},
		cache:        cacheProvider,
		neighbourTTL: neighbourTTL,
	}
}

type weaviateIncident struct {
	IncidentID       string `json:"incidentId"`
	ShortDescription string `json:"shortDescription"`
	CreatedAt        string `json:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
	Assignee         string `json:"assignee"`
	Group            string `json:"assignmentGroup"`
	CreatedBy        string `json:"createdBy"`
	UpdatedBy        string `json:"updatedBy"`
	Additional       *struct {
		Distance float64 `json:"distance"`
	} `json:"_additional,omitempty"`
}

// NearestNeighbors runs a nearVector GraphQL query.
func (s *WeaviateStore) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	if s == nil || s.endpoint == "" {
		return nil, fmt.Errorf("weaviate store not configured")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	cacheKey := ""
	if s.neighbourTTL > 0 {
		cacheKey = neighboursCacheKey(s.class, s.generation(ctx), vector, k)
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.Neighbor
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	query := fmt.Sprintf(`{
  Get {
    %s(
      nearVector: {vector: %s}
      limit: %d
    ) {
      incidentId
      shortDescription
      createdAt
      updatedAt
      assignee
      assignmentGroup
      createdBy
      updatedBy
      _additional { distance }
    }
  }
}`, s.class, formatVector(vector), k)

	var response struct {
		Data struct {
			Get map[string][]weaviateIncident `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := s.post(ctx, "/v1/graphql", map[string]interface{}{"query": query}, &response); err != nil {
		return nil, err
	}
	if len(response.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", response.Errors[0].Message)
	}

	rows := response.Data.Get[s.class]
	neighbors := make([]models.Neighbor, 0, len(rows))
	for _, row := range rows {
		dist := 1.0
		if row.Additional != nil {
			dist = row.Additional.Distance
		}
		neighbors = append(neighbors, models.Neighbor{
			Record: models.IncidentRecord{
				ID:               row.IncidentID,
				ShortDescription: row.ShortDescription,
				CreatedAt:        parseTime(row.CreatedAt),
				UpdatedAt:        parseTime(row.UpdatedAt),
				Assignee:         row.Assignee,
				Group:            row.Group,
				CreatedBy:        row.CreatedBy,
				UpdatedBy:        row.UpdatedBy,
			},
			Distance: dist,
		})
	}

	if cacheKey != "" && len(neighbors) > 0 {
		if payload, err := json.Marshal(neighbors); err == nil {
			_ = s.cache.Set(ctx, cacheKey, payload, s.neighbourTTL)
		}
	}
	return neighbors, nil
}

// Upsert writes records through the batch objects endpoint. Object IDs are derived from incident IDs.
func (s *WeaviateStore) Upsert(ctx context.Context, records []models.IncidentRecord) error {
	if s == nil || s.endpoint == "" {
		return fmt.Errorf("weaviate store not configured")
	}
	if len(records) == 0 {
		return nil
	}

	objects := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", rec.ID)
		}
		objects = append(objects, map[string]interface{}{
			"class": s.class,
			"id":    s.objectID(rec.ID),
			"properties": weaviateIncident{
				IncidentID:       rec.ID,
				ShortDescription: rec.ShortDescription,
				CreatedAt:        formatTime(rec.CreatedAt),
				UpdatedAt:        formatTime(rec.UpdatedAt),
				Assignee:         rec.Assignee,
				Group:            rec.Group,
				CreatedBy:        rec.CreatedBy,
				UpdatedBy:        rec.UpdatedBy,
			},
			"vector": rec.Embedding,
		})
	}

	var results []struct {
		Result struct {
			Errors *struct {
				Error []struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"errors"`
		} `json:"result"`
	}
	if err := s.post(ctx, "/v1/batch/objects", map[string]interface{}{"objects": objects}, &results); err != nil {
		return err
	}
	// Objects may be written even when a later one fails, so cached neighbours go stale either way.
	s.bumpGeneration(ctx)
	for i, res := range results {
		if res.Result.Errors != nil && len(res.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate batch object %d: %s", i, res.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *WeaviateStore) generationKey() string {
	return "triage:neighbours:" + s.class + ":generation"
}

// generation returns the current cache generation for the class; "0" when none was written.
func (s *WeaviateStore) generation(ctx context.Context) string {
	data, err := s.cache.Get(ctx, s.generationKey())
	if err != nil || len(data) == 0 {
		return "0"
	}
	return string(data)
}

// bumpGeneration retires every cached neighbour list of the class, across processes sharing the cache.
func (s *WeaviateStore) bumpGeneration(ctx context.Context) {
	if s.neighbourTTL <= 0 {
		return
	}
	_ = s.cache.Set(ctx, s.generationKey(), []byte(uuid.NewString()), 0)
}

// Count aggregates the number of objects in the class.
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.endpoint == "" {
		return 0, fmt.Errorf("weaviate store not configured")
	}
	query := fmt.Sprintf(`{ Aggregate { %s { meta { count } } } }`, s.class)

	var response struct {
		Data struct {
			Aggregate map[string][]struct {
				Meta struct {
					Count int `json:"count"`
				} `json:"meta"`
			} `json:"Aggregate"`
		} `json:"data"`
	}
	if err := s.post(ctx, "/v1/graphql", map[string]interface{}{"query": query}, &response); err != nil {
		return 0, err
	}
	rows := response.Data.Aggregate[s.class]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Meta.Count, nil
}

func (s *WeaviateStore) objectID(incidentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.class+"/"+incidentID)).String()
}

func (s *WeaviateStore) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("weaviate %s failed: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode weaviate response: %w", err)
	}
	return nil
}

func formatVector(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func neighboursCacheKey(class, generation string, vector []float32, k int) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, v := range vector {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	return fmt.Sprintf("triage:neighbours:%s:%s:%d:%s", class, generation, k, hex.EncodeToString(h.Sum(nil)))
}
