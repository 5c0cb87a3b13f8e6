package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/tracker"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	matches int
	err     error
	calls   []float64
	limits  []int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string, threshold float64, limit int) (models.Analysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, threshold)
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.err != nil {
		return models.Analysis{}, f.err
	}
	return models.Analysis{
		Query:          text,
		Summary:        models.PatternSummary{TotalMatches: f.matches},
		Recommendation: models.Recommendation{Source: models.SourceHeuristic},
		Report:         "report for " + text,
	}, nil
}

type fakeTracker struct {
	mu       sync.Mutex
	issues   map[string]models.Issue
	comments map[string]string
	posted   int
	infoErr  error
}

func newFakeTracker(issues ...models.Issue) *fakeTracker {
	tr := &fakeTracker{issues: map[string]models.Issue{}, comments: map[string]string{}}
	for _, issue := range issues {
		tr.issues[issue.Key] = issue
	}
	return tr
}

func (f *fakeTracker) GetIssue(_ context.Context, key string) (models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[key]
	if !ok {
		return models.Issue{}, utils.KindError(utils.ErrNotFound, "fake.GetIssue", "issue "+key+" not found", nil)
	}
	return issue, nil
}

func (f *fakeTracker) AddComment(_ context.Context, key, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[key] = body
	f.posted++
	return nil
}

func (f *fakeTracker) ServerInfo(context.Context) (tracker.ServerInfo, error) {
	if f.infoErr != nil {
		return tracker.ServerInfo{}, f.infoErr
	}
	return tracker.ServerInfo{BaseURL: f.BaseURL(), Version: "9.4.0"}, nil
}

func (f *fakeTracker) BaseURL() string { return "https://jira.example.com" }

type fakeCounter struct {
	n   int
	err error
}

func (f fakeCounter) Count(context.Context) (int, error) { return f.n, f.err }

func newTestService(analyzer Analyzer, tr Tracker) *TriageService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTriageService(logger, analyzer, tr, fakeCounter{n: 42}, Options{
		DefaultThreshold: 0.3,
		DefaultLimit:     5,
		Workers:          3,
		StoreBackend:     "memory",
	})
}

func TestAnalyzeAppliesDefaultsAndRemembers(t *testing.T) {
	analyzer := &fakeAnalyzer{matches: 2}
	svc := newTestService(analyzer, nil)

	analysis, err := svc.Analyze(context.Background(), "db timeout", UseDefaultThreshold, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analyzer.calls[0] != 0.3 || analyzer.limits[0] != 5 {
		t.Fatalf("defaults not applied: threshold %v limit %d", analyzer.calls[0], analyzer.limits[0])
	}
	if analysis.ID == "" {
		t.Fatalf("expected analysis id")
	}
	stored, ok := svc.Recent(analysis.ID)
	if !ok || stored.Query != "db timeout" {
		t.Fatalf("analysis not retained: %+v", stored)
	}

	if _, err := svc.Analyze(context.Background(), "db timeout", 0, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analyzer.calls[1] != 0 || analyzer.limits[1] != 2 {
		t.Fatalf("explicit zero threshold must be honoured: %v %d", analyzer.calls[1], analyzer.limits[1])
	}
	if got := svc.Latency().Samples; got != 2 {
		t.Fatalf("expected 2 latency samples, got %d", got)
	}
}

func TestAnalyzePropagatesErrors(t *testing.T) {
	want := utils.KindError(utils.ErrValidation, "test", "blank", nil)
	svc := newTestService(&fakeAnalyzer{err: want}, nil)
	if _, err := svc.Analyze(context.Background(), "", UseDefaultThreshold, 0); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !IsClientError(want) {
		t.Fatalf("validation should be a client error")
	}
}

func TestAnalyzeWithoutAnalyzer(t *testing.T) {
	svc := newTestService(nil, nil)
	if _, err := svc.Analyze(context.Background(), "x", UseDefaultThreshold, 0); !errors.Is(err, utils.ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestProcessIssuePostsComment(t *testing.T) {
	tr := newFakeTracker(models.Issue{Key: "OPS-1", Description: "  payment api 500s  "})
	svc := newTestService(&fakeAnalyzer{matches: 3}, tr)

	res, err := svc.ProcessIssue(context.Background(), "OPS-1", UseDefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.AnalysisID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tr.comments["OPS-1"] != "report for payment api 500s" {
		t.Fatalf("unexpected comment: %q", tr.comments["OPS-1"])
	}
	stored, ok := svc.Recent(res.AnalysisID)
	if !ok || stored.IssueKey != "OPS-1" {
		t.Fatalf("expected issue key on stored analysis: %+v", stored)
	}
}

func TestProcessIssueNoMatchesSkipsComment(t *testing.T) {
	tr := newFakeTracker(models.Issue{Key: "OPS-2", Description: "unseen failure"})
	svc := newTestService(&fakeAnalyzer{matches: 0}, tr)

	res, err := svc.ProcessIssue(context.Background(), "OPS-2", UseDefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Reason != ReasonNoMatches {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, posted := tr.comments["OPS-2"]; posted {
		t.Fatalf("no comment expected without matches")
	}
}

func TestProcessIssueFailures(t *testing.T) {
	tr := newFakeTracker(models.Issue{Key: "OPS-3", Description: "   "})
	svc := newTestService(&fakeAnalyzer{matches: 1}, tr)

	if _, err := svc.ProcessIssue(context.Background(), "OPS-3", UseDefaultThreshold); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error for empty description, got %v", err)
	}
	if _, err := svc.ProcessIssue(context.Background(), "OPS-404", UseDefaultThreshold); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	unconfigured := newTestService(&fakeAnalyzer{}, nil)
	if _, err := unconfigured.ProcessIssue(context.Background(), "OPS-1", UseDefaultThreshold); !errors.Is(err, utils.ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestBatchProcess(t *testing.T) {
	var issues []models.Issue
	for i := 1; i <= 6; i++ {
		issues = append(issues, models.Issue{Key: fmt.Sprintf("OPS-%d", i), Description: "disk full"})
	}
	tr := newFakeTracker(issues...)
	svc := newTestService(&fakeAnalyzer{matches: 2}, tr)

	keys := []string{"OPS-1", "OPS-2", "OPS-3", "OPS-4", "OPS-5", "OPS-6", "OPS-99"}
	res, err := svc.BatchProcess(context.Background(), keys, UseDefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 7 || res.Successful != 6 || res.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if res.Results["OPS-99"] {
		t.Fatalf("missing issue must be reported as failed")
	}
	if len(tr.comments) != 6 {
		t.Fatalf("expected 6 comments, got %d", len(tr.comments))
	}
}

func TestBatchProcessCommentsOncePerKey(t *testing.T) {
	tr := newFakeTracker(
		models.Issue{Key: "OPS-1", Description: "disk full"},
		models.Issue{Key: "OPS-2", Description: "disk full"},
	)
	svc := newTestService(&fakeAnalyzer{matches: 1}, tr)

	res, err := svc.BatchProcess(context.Background(), []string{"OPS-1", "OPS-2", "OPS-1", "OPS-1"}, UseDefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 2 || res.Successful != 2 || res.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if tr.posted != 2 {
		t.Fatalf("expected one comment per issue, got %d", tr.posted)
	}
}

func TestUniqueKeysKeepsFirstOrder(t *testing.T) {
	got := uniqueKeys([]string{"OPS-2", "OPS-1", "OPS-2", "OPS-3", "OPS-1"})
	want := []string{"OPS-2", "OPS-1", "OPS-3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBatchProcessEmpty(t *testing.T) {
	svc := newTestService(&fakeAnalyzer{}, newFakeTracker())
	res, err := svc.BatchProcess(context.Background(), nil, UseDefaultThreshold)
	if err != nil || res.Total != 0 {
		t.Fatalf("unexpected result %+v err %v", res, err)
	}
}

func TestStatusAndCheckTracker(t *testing.T) {
	tr := newFakeTracker()
	svc := newTestService(&fakeAnalyzer{}, tr)

	st := svc.Status(context.Background())
	if !st.ConfigValid || st.IndexedCount != 42 || st.TrackerURL != "https://jira.example.com" || st.StoreBackend != "memory" {
		t.Fatalf("unexpected status: %+v", st)
	}

	info, err := svc.CheckTracker(context.Background())
	if err != nil || info.Version != "9.4.0" {
		t.Fatalf("unexpected server info %+v err %v", info, err)
	}

	tr.infoErr = errors.New("unauthorized")
	if _, err := svc.CheckTracker(context.Background()); err == nil {
		t.Fatalf("expected tracker error")
	}
}

func TestRecentEvictsOldest(t *testing.T) {
	r := newRecentAnalyses(2)
	r.add(models.Analysis{ID: "a"})
	r.add(models.Analysis{ID: "b"})
	r.add(models.Analysis{ID: "c"})
	if _, ok := r.get("a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if _, ok := r.get("c"); !ok {
		t.Fatalf("newest entry missing")
	}
}
