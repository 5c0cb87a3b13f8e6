package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/tracker"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// UseDefaultThreshold selects the configured similarity threshold.
const UseDefaultThreshold = -1.0

// ReasonNoMatches is reported for issues without similar historical incidents.
const ReasonNoMatches = "no similar incidents"

// Analyzer runs the retrieval, aggregation and synthesis flow.
type Analyzer interface {
	Analyze(ctx context.Context, text string, threshold float64, limit int) (models.Analysis, error)
}

// Tracker is the issue tracker the service reads issues from and comments on.
type Tracker interface {
	GetIssue(ctx context.Context, key string) (models.Issue, error)
	AddComment(ctx context.Context, key, body string) error
	ServerInfo(ctx context.Context) (tracker.ServerInfo, error)
	BaseURL() string
}

// Counter reports how many incidents are searchable.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Options carries the configuration the service needs at runtime.
type Options struct {
	DefaultThreshold float64
	DefaultLimit     int
	Workers          int
	RecentCapacity   int
	StoreBackend     string
	LLMAvailable     bool
	// ConfigProblem is the validation error of the loaded configuration, if any.
	ConfigProblem string
}

// TriageService orchestrates issue fetch, analysis and tracker updates.
type TriageService struct {
	logger    *slog.Logger
	analyzer  Analyzer
	tracker   Tracker
	index     Counter
	opts      Options
	recent    *recentAnalyses
	latencies *utils.LatencyTracker
}

// NewTriageService constructs the service facade. tracker and index may be nil.
func NewTriageService(logger *slog.Logger, analyzer Analyzer, tr Tracker, index Counter, opts Options) *TriageService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}
	if opts.RecentCapacity <= 0 {
		opts.RecentCapacity = 100
	}
	return &TriageService{
		logger:    logger,
		analyzer:  analyzer,
		tracker:   tr,
		index:     index,
		opts:      opts,
		recent:    newRecentAnalyses(opts.RecentCapacity),
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze produces a recommendation for free text. A negative threshold or a
// non-positive limit selects the configured default.
func (s *TriageService) Analyze(ctx context.Context, text string, threshold float64, limit int) (models.Analysis, error) {
	if s.analyzer == nil {
		return models.Analysis{}, utils.KindError(utils.ErrNotConfigured, "services.Analyze", "analysis pipeline not configured", nil)
	}
	if threshold < 0 {
		threshold = s.opts.DefaultThreshold
	}
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	start := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, text, threshold, limit)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError, 0)
		s.logger.Error("analysis failed", slog.Any("error", err))
		return models.Analysis{}, err
	}

	outcome := metrics.OutcomeSuccess
	if analysis.Summary.TotalMatches == 0 {
		outcome = metrics.OutcomeNoMatches
	}
	metrics.ObserveAnalysis(duration, outcome, analysis.Summary.TotalMatches)
	metrics.ObserveRecommendation(string(analysis.Recommendation.Source))

	s.latencies.Observe(duration)
	if s.latencies.Total()%20 == 0 {
		snap := s.latencies.Snapshot()
		s.logger.Info("analysis latency",
			slog.Duration("p50", snap.P50),
			slog.Duration("p95", snap.P95),
			slog.Duration("max", snap.Max),
			slog.Int("samples", snap.Samples))
	}

	analysis.ID = uuid.NewString()
	s.recent.add(analysis)
	return analysis, nil
}

// ProcessIssue analyzes a tracker issue's description and posts the report as a comment.
// Issues without similar incidents are skipped without a comment.
func (s *TriageService) ProcessIssue(ctx context.Context, key string, threshold float64) (models.IssueResult, error) {
	result := models.IssueResult{IssueKey: key}
	description, err := s.IssueDescription(ctx, key)
	if err != nil {
		return result, err
	}

	analysis, err := s.Analyze(ctx, description, threshold, 0)
	if err != nil {
		return result, err
	}
	analysis.IssueKey = key
	s.recent.add(analysis)
	result.AnalysisID = analysis.ID

	if analysis.Summary.TotalMatches == 0 {
		s.logger.Info("no similar incidents, skipping comment", slog.String("issue", key))
		result.Reason = ReasonNoMatches
		return result, nil
	}

	if err := s.tracker.AddComment(ctx, key, analysis.Report); err != nil {
		return result, err
	}
	s.logger.Info("analysis posted",
		slog.String("issue", key),
		slog.Int("matches", analysis.Summary.TotalMatches),
		slog.String("source", string(analysis.Recommendation.Source)))
	result.Success = true
	return result, nil
}

// IssueDescription fetches the trimmed description of a tracker issue. Issues without a
// description are a validation error.
func (s *TriageService) IssueDescription(ctx context.Context, key string) (string, error) {
	const op = "services.IssueDescription"
	if s.tracker == nil {
		return "", utils.KindError(utils.ErrNotConfigured, op, "issue tracker not configured", nil)
	}
	issue, err := s.tracker.GetIssue(ctx, key)
	if err != nil {
		return "", err
	}
	description := strings.TrimSpace(issue.Description)
	if description == "" {
		return "", utils.KindError(utils.ErrValidation, op, fmt.Sprintf("issue %s has no description", key), nil)
	}
	return description, nil
}

// uniqueKeys drops repeated keys, keeping first-seen order.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// BatchProcess runs ProcessIssue over keys on a bounded worker pool. Per-key failures are
// recorded in the result and never abort the batch. Repeated keys are processed once.
func (s *TriageService) BatchProcess(ctx context.Context, keys []string, threshold float64) (models.BatchResult, error) {
	keys = uniqueKeys(keys)
	result := models.BatchResult{Results: make(map[string]bool, len(keys))}
	if len(keys) == 0 {
		return result, nil
	}

	pool, err := ants.NewPool(s.opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		s.logger.Error("batch worker panic", slog.Any("panic", p))
	}))
	if err != nil {
		return result, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(key string, ok bool) {
		mu.Lock()
		result.Results[key] = ok
		mu.Unlock()
	}

	for _, key := range keys {
		key := key
		record(key, false)
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			res, err := s.ProcessIssue(ctx, key, threshold)
			if err != nil {
				s.logger.Warn("issue processing failed", slog.String("issue", key), slog.Any("error", err))
			}
			record(key, err == nil && res.Success)
		})
		if submitErr != nil {
			wg.Done()
			s.logger.Error("batch submit failed", slog.String("issue", key), slog.Any("error", submitErr))
		}
	}
	wg.Wait()

	for _, ok := range result.Results {
		if ok {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	result.Total = len(result.Results)
	return result, nil
}

// CheckTracker verifies tracker connectivity and credentials.
func (s *TriageService) CheckTracker(ctx context.Context) (tracker.ServerInfo, error) {
	if s.tracker == nil {
		return tracker.ServerInfo{}, utils.KindError(utils.ErrNotConfigured, "services.CheckTracker", "issue tracker not configured", nil)
	}
	return s.tracker.ServerInfo(ctx)
}

// Status reports configuration readiness.
func (s *TriageService) Status(ctx context.Context) models.ConfigStatus {
	st := models.ConfigStatus{
		ConfigValid:   s.opts.ConfigProblem == "",
		LLMAvailable:  s.opts.LLMAvailable,
		StoreBackend:  s.opts.StoreBackend,
		ConfigProblem: s.opts.ConfigProblem,
		IndexedCount:  -1,
	}
	if s.tracker != nil {
		st.TrackerURL = s.tracker.BaseURL()
	}
	if s.index != nil {
		if n, err := s.index.Count(ctx); err == nil {
			st.IndexedCount = n
		} else {
			s.logger.Warn("index count failed", slog.Any("error", err))
		}
	}
	return st
}

// Recent returns a recently produced analysis by ID.
func (s *TriageService) Recent(id string) (models.Analysis, bool) {
	return s.recent.get(id)
}

// Latency summarises recent analysis latencies.
func (s *TriageService) Latency() utils.LatencySnapshot {
	return s.latencies.Snapshot()
}

// IsClientError reports whether err was caused by the caller rather than a dependency.
func IsClientError(err error) bool {
	return errors.Is(err, utils.ErrValidation) || errors.Is(err, utils.ErrNotFound)
}
