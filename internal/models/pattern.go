package models

import "time"

// PatternSummary aggregates recurring attributes across a set of similarity matches.
// Callers must check TotalMatches before interpreting the frequency maps.
type PatternSummary struct {
	TotalMatches      int            `json:"totalMatches"`
	AssigneeFrequency map[string]int `json:"assigneeFrequency"`
	GroupFrequency    map[string]int `json:"groupFrequency"`
	AverageScore      float64        `json:"averageScore"`
	ScoreVariance     float64        `json:"scoreVariance"`
	TimeSpan          time.Duration  `json:"timeSpan"`
}

// Source records which synthesis path produced a recommendation.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceAugmented Source = "augmented"
)

// Recommendation is the structured triage suggestion for a new issue.
type Recommendation struct {
	SuggestedAssignee  string   `json:"suggestedAssignee,omitempty"`
	SuggestedGroup     string   `json:"suggestedGroup,omitempty"`
	RootCauses         []string `json:"rootCauses"`
	RecommendedActions []string `json:"recommendedActions"`
	Confidence         float64  `json:"confidence"`
	Source             Source   `json:"source"`
}
