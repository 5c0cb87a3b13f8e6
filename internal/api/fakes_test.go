package api

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/tracker"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

type fakeOrchestrator struct {
	mu         sync.Mutex
	analyzeErr error
	issueErr   error
	trackerErr error
	thresholds []float64
	batchKeys  []string
	recent     map[string]models.Analysis
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{recent: map[string]models.Analysis{}}
}

func (f *fakeOrchestrator) Analyze(_ context.Context, text string, threshold float64, limit int) (models.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = append(f.thresholds, threshold)
	if f.analyzeErr != nil {
		return models.Analysis{}, f.analyzeErr
	}
	a := models.Analysis{
		ID:    "an-1",
		Query: text,
		Matches: []models.SimilarityMatch{{
			Incident: models.IncidentRecord{ID: "INC1", ShortDescription: "db down", Embedding: []float32{0.1, 0.2}},
			Score:    0.9,
		}},
		Summary:        models.PatternSummary{TotalMatches: 1},
		Recommendation: models.Recommendation{Source: models.SourceHeuristic, SuggestedAssignee: "alice"},
		Report:         "# Report\n\n- **Suggested Assignee:** alice",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.recent[a.ID] = a
	return a, nil
}

func (f *fakeOrchestrator) ProcessIssue(_ context.Context, key string, threshold float64) (models.IssueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = append(f.thresholds, threshold)
	if f.issueErr != nil {
		return models.IssueResult{IssueKey: key}, f.issueErr
	}
	return models.IssueResult{IssueKey: key, Success: true, AnalysisID: "an-2"}, nil
}

func (f *fakeOrchestrator) BatchProcess(_ context.Context, keys []string, threshold float64) (models.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = append(f.thresholds, threshold)
	f.batchKeys = append([]string(nil), keys...)
	res := models.BatchResult{Results: map[string]bool{}}
	for i, key := range keys {
		ok := i%2 == 0
		res.Results[key] = ok
		if ok {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	res.Total = len(keys)
	return res, nil
}

func (f *fakeOrchestrator) CheckTracker(context.Context) (tracker.ServerInfo, error) {
	if f.trackerErr != nil {
		return tracker.ServerInfo{}, f.trackerErr
	}
	return tracker.ServerInfo{ServerTitle: "Ops Jira", Version: "9.4.0"}, nil
}

func (f *fakeOrchestrator) Status(context.Context) models.ConfigStatus {
	return models.ConfigStatus{ConfigValid: true, StoreBackend: "memory", IndexedCount: 7}
}

func (f *fakeOrchestrator) Recent(id string) (models.Analysis, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.recent[id]
	return a, ok
}

var errNotFound = utils.KindError(utils.ErrNotFound, "fake", "issue not found", nil)
