package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed marks a reasoning response that could not be used.
var ErrMalformed = errors.New("malformed reasoning response")

// Service is the optional generative capability consulted for root causes and actions.
type Service interface {
	Analyze(ctx context.Context, text, contextSummary string) (Analysis, error)
}

// Analysis is the structured answer of a reasoning call.
// Confidence is nil when the model did not report one.
type Analysis struct {
	Patterns          []string
	RootCauses        []string
	Actions           []string
	Confidence        *float64
	SuggestedAssignee string
	SuggestedGroup    string
}

// Validate rejects analyses that carry nothing usable or an out-of-range confidence.
func (a Analysis) Validate() error {
	if a.Confidence != nil && (*a.Confidence < 0 || *a.Confidence > 1 || math.IsNaN(*a.Confidence)) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformed, *a.Confidence)
	}
	if len(a.RootCauses) == 0 && len(a.Actions) == 0 {
		return fmt.Errorf("%w: no root causes or actions", ErrMalformed)
	}
	return nil
}

type payload struct {
	Patterns          []string `json:"patterns"`
	RootCauses        []string `json:"root_causes"`
	Recommendations   []string `json:"recommendations"`
	ConfidenceScore   *float64 `json:"confidence_score"`
	SuggestedAssignee string   `json:"suggested_assignee"`
	SuggestedGroup    string   `json:"suggested_group"`
}

// Parse decodes a model reply. Markdown code fences around the JSON are tolerated.
func Parse(content string) (Analysis, error) {
	content = stripFences(content)
	if content == "" {
		return Analysis{}, fmt.Errorf("%w: empty content", ErrMalformed)
	}

	var p payload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	a := Analysis{
		Patterns:          cleanList(p.Patterns),
		RootCauses:        cleanList(p.RootCauses),
		Actions:           cleanList(p.Recommendations),
		Confidence:        p.ConfidenceScore,
		SuggestedAssignee: cleanIdentity(p.SuggestedAssignee),
		SuggestedGroup:    cleanIdentity(p.SuggestedGroup),
	}
	if err := a.Validate(); err != nil {
		return Analysis{}, err
	}
	return a, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// cleanIdentity drops placeholder identities models tend to emit.
func cleanIdentity(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "unknown", "n/a", "none", "tbd", "team_name", "group_name":
		return ""
	}
	return v
}
