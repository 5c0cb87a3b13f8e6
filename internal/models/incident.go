package models

import "time"

// IncidentRecord is a historical incident as ingested from the incident export.
// Records are immutable once stored.
type IncidentRecord struct {
	ID               string    `json:"id"`
	ShortDescription string    `json:"shortDescription"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Assignee         string    `json:"assignee,omitempty"`
	Group            string    `json:"group,omitempty"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	UpdatedBy        string    `json:"updatedBy,omitempty"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// Neighbor is a raw nearest-neighbour hit returned by an incident store.
// Distance is the cosine distance (1 - cosine similarity).
type Neighbor struct {
	Record   IncidentRecord `json:"record"`
	Distance float64        `json:"distance"`
}

// SimilarityMatch pairs a historical incident with its similarity score in [0,1].
type SimilarityMatch struct {
	Incident IncidentRecord `json:"incident"`
	Score    float64        `json:"score"`
}
