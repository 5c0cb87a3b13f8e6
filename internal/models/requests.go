package models

import "time"

// AnalyzeRequest asks for a recommendation for a free-text description.
// A nil Threshold or a zero Limit selects the configured default.
type AnalyzeRequest struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// Analysis bundles everything produced for one description.
type Analysis struct {
	ID             string            `json:"id"`
	IssueKey       string            `json:"issueKey,omitempty"`
	Query          string            `json:"query"`
	Matches        []SimilarityMatch `json:"matches"`
	Summary        PatternSummary    `json:"summary"`
	Recommendation Recommendation    `json:"recommendation"`
	Report         string            `json:"report"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Issue is the subset of a tracker issue used for triage.
type Issue struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Assignee    string
	Creator     string
	Created     time.Time
	Updated     time.Time
}

// IssueResult reports the outcome of processing a single tracker issue.
type IssueResult struct {
	IssueKey   string `json:"issueKey"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	AnalysisID string `json:"analysisId,omitempty"`
}

// BatchResult summarises a batch run over several issues.
type BatchResult struct {
	Results    map[string]bool `json:"results"`
	Total      int             `json:"totalProcessed"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
}

// ConfigStatus is a read-only snapshot of service readiness.
type ConfigStatus struct {
	ConfigValid   bool   `json:"config_valid"`
	LLMAvailable  bool   `json:"llm_available"`
	StoreBackend  string `json:"store_backend"`
	TrackerURL    string `json:"jira_base_url"`
	IndexedCount  int    `json:"indexed_count"`
	ConfigProblem string `json:"config_problem,omitempty"`
}
