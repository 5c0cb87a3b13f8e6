package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a recommendation.
	OutcomeSuccess = "success"
	// OutcomeNoMatches labels analyses where nothing cleared the threshold.
	OutcomeNoMatches = "no_matches"
	// OutcomeError labels failed analyses (embedding, store or validation issues).
	OutcomeError = "error"
)

// Reasoning fallback reasons.
const (
	FallbackError     = "error"
	FallbackTimeout   = "timeout"
	FallbackMalformed = "malformed"
)

// Ingestion results.
const (
	IngestIndexed   = "indexed"
	IngestCatalog   = "catalog_only"
	IngestDuplicate = "duplicate"
	IngestSkipped   = "skipped"
	IngestFailed    = "failed"
)

const namespace = "mirador_triage"

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_seconds",
			Help:      "End-to-end analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
	)

	similarMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similar_matches",
			Help:      "Number of historical incidents retained per analysis.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
	)

	reasoningFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_fallbacks_total",
			Help:      "Reasoning calls that fell back to the heuristic recommendation, by reason.",
		},
		[]string{"reason"},
	)

	recommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Recommendations produced, partitioned by source.",
		},
		[]string{"source"},
	)

	ingestedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_records_total",
			Help:      "Spreadsheet rows processed by ingestion, partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches triage collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		similarMatches,
		reasoningFallbacksTotal,
		recommendationsTotal,
		ingestedRecordsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration, outcome label and match count.
func ObserveAnalysis(duration time.Duration, outcome string, matches int) {
	switch outcome {
	case OutcomeError, OutcomeNoMatches:
	default:
		outcome = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
	if outcome != OutcomeError {
		similarMatches.Observe(float64(matches))
	}
}

// ObserveReasoningFallback counts a heuristic fallback after a reasoning failure.
func ObserveReasoningFallback(reason string) {
	reasoningFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveRecommendation counts a produced recommendation by source.
func ObserveRecommendation(source string) {
	recommendationsTotal.WithLabelValues(source).Inc()
}

// ObserveIngested counts ingested rows by result.
func ObserveIngested(result string, n int) {
	if n <= 0 {
		return
	}
	ingestedRecordsTotal.WithLabelValues(result).Add(float64(n))
}
