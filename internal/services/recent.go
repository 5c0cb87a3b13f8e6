package services

import (
	"sync"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// recentAnalyses keeps the last N analyses for previews, evicting the oldest first.
type recentAnalyses struct {
	mu    sync.Mutex
	cap   int
	order []string
	byID  map[string]models.Analysis
}

func newRecentAnalyses(capacity int) *recentAnalyses {
	return &recentAnalyses{cap: capacity, byID: make(map[string]models.Analysis, capacity)}
}

func (r *recentAnalyses) add(a models.Analysis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.ID]; !ok {
		r.order = append(r.order, a.ID)
	}
	r.byID[a.ID] = a
	for len(r.order) > r.cap {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recentAnalyses) get(id string) (models.Analysis, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	return a, ok
}
