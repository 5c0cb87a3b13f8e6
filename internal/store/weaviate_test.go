package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/models"
)

func TestWeaviateNearestNeighborsCachesResults(t *testing.T) {
	var hits int
	s := NewWeaviateStore("https://weaviate.test", "secret", "Incident", time.Second, cache.NewMemoryProvider(), time.Minute)
	s.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/graphql" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if req.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token")
		}
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), "nearVector") || !strings.Contains(string(body), "limit: 2") {
			t.Fatalf("unexpected query: %s", body)
		}
		return jsonResponse(http.StatusOK, `{"data":{"Get":{"Incident":[
			{"incidentId":"INC1","shortDescription":"db timeout","createdAt":"2024-01-02T15:04:05Z","assignee":"alice","assignmentGroup":"dba","_additional":{"distance":0.1}},
			{"incidentId":"INC2","shortDescription":"slow db","assignee":"bob","assignmentGroup":"dba","_additional":{"distance":0.25}}
		]}}}`), nil
	})

	ctx := context.Background()
	first, err := s.NearestNeighbors(ctx, []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 2 || first[0].Record.ID != "INC1" || first[0].Distance != 0.1 || first[0].Record.Group != "dba" {
		t.Fatalf("unexpected neighbours: %+v", first)
	}
	if first[0].Record.CreatedAt.IsZero() {
		t.Fatalf("expected created time to be parsed")
	}

	second, err := s.NearestNeighbors(ctx, []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(second) != 2 || second[1].Record.ID != "INC2" {
		t.Fatalf("unexpected cached payload: %+v", second)
	}
}

func TestWeaviateNearestNeighborsErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewWeaviateStore("", "", "", time.Second, nil, 0).NearestNeighbors(ctx, []float32{1}, 1); err == nil {
		t.Fatalf("expected error without endpoint")
	}

	s := NewWeaviateStore("https://weaviate.test", "", "", time.Second, nil, 0)
	s.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `boom`), nil
	})
	if _, err := s.NearestNeighbors(ctx, []float32{1}, 1); err == nil {
		t.Fatalf("expected error on upstream failure")
	}

	s.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"errors":[{"message":"vector lengths don't match"}]}`), nil
	})
	if _, err := s.NearestNeighbors(ctx, []float32{1}, 1); err == nil || !strings.Contains(err.Error(), "vector lengths") {
		t.Fatalf("expected graphql error, got %v", err)
	}
}

func TestWeaviateUpsertAndCount(t *testing.T) {
	var batch struct {
		Objects []struct {
			Class      string          `json:"class"`
			ID         string          `json:"id"`
			Properties json.RawMessage `json:"properties"`
			Vector     []float32       `json:"vector"`
		} `json:"objects"`
	}
	s := NewWeaviateStore("https://weaviate.test/", "", "Incident", time.Second, nil, 0)
	s.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/batch/objects":
			if err := json.NewDecoder(req.Body).Decode(&batch); err != nil {
				t.Fatalf("decode batch: %v", err)
			}
			return jsonResponse(http.StatusOK, `[{"result":{}}]`), nil
		case "/v1/graphql":
			return jsonResponse(http.StatusOK, `{"data":{"Aggregate":{"Incident":[{"meta":{"count":7}}]}}}`), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})

	ctx := context.Background()
	rec := models.IncidentRecord{ID: "INC9", ShortDescription: "cert expired", Embedding: []float32{0.5, 0.5}}
	if err := s.Upsert(ctx, []models.IncidentRecord{rec}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(batch.Objects) != 1 || batch.Objects[0].Class != "Incident" || len(batch.Objects[0].Vector) != 2 {
		t.Fatalf("unexpected batch payload: %+v", batch)
	}
	if batch.Objects[0].ID != s.objectID("INC9") {
		t.Fatalf("object id should be derived from the incident id")
	}
	if !strings.Contains(string(batch.Objects[0].Properties), `"incidentId":"INC9"`) {
		t.Fatalf("properties missing incident id: %s", batch.Objects[0].Properties)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 7 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}

	if err := s.Upsert(ctx, []models.IncidentRecord{{ID: "INC10"}}); err == nil {
		t.Fatalf("expected error for record without embedding")
	}
}

func TestWeaviateUpsertInvalidatesCachedNeighbours(t *testing.T) {
	shared := cache.NewMemoryProvider()
	var queries int
	indexed := []string{`{"incidentId":"OLD","assignee":"alice","_additional":{"distance":0.1}}`}
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/graphql":
			queries++
			return jsonResponse(http.StatusOK, `{"data":{"Get":{"Incident":[`+strings.Join(indexed, ",")+`]}}}`), nil
		case "/v1/batch/objects":
			indexed = append(indexed, `{"incidentId":"NEW","assignee":"bob","_additional":{"distance":0.1}}`)
			return jsonResponse(http.StatusOK, `[{"result":{}}]`), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})

	// Reader and writer model the serve and ingest processes sharing one cache.
	reader := NewWeaviateStore("https://weaviate.test", "", "Incident", time.Second, shared, time.Minute)
	writer := NewWeaviateStore("https://weaviate.test", "", "Incident", time.Second, shared, time.Minute)
	reader.httpClient, writer.httpClient = client, client

	ctx := context.Background()
	vector := []float32{0.3, 0.4}
	before, err := reader.NearestNeighbors(ctx, vector, 5)
	if err != nil || len(before) != 1 {
		t.Fatalf("unexpected first result %+v err %v", before, err)
	}
	if _, err := reader.NearestNeighbors(ctx, vector, 5); err != nil || queries != 1 {
		t.Fatalf("expected cached second lookup, queries=%d err=%v", queries, err)
	}

	rec := models.IncidentRecord{ID: "NEW", Embedding: vector}
	if err := writer.Upsert(ctx, []models.IncidentRecord{rec}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	after, err := reader.NearestNeighbors(ctx, vector, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(after) != 2 || after[1].Record.ID != "NEW" {
		t.Fatalf("newly indexed incident not visible after upsert: %+v", after)
	}
	if queries != 2 {
		t.Fatalf("expected a fresh query after upsert, queries=%d", queries)
	}
}
