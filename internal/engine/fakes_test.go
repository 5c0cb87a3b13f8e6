package engine

import (
	"context"
	"errors"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/reasoning"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }
func (f *fakeEmbedder) Name() string    { return "fake" }

// fakeStore returns fixed neighbours, truncated to k.
type fakeStore struct {
	neighbors []models.Neighbor
	err       error
	lastK     int
}

func (f *fakeStore) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]models.Neighbor, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	out := append([]models.Neighbor(nil), f.neighbors...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func neighbor(id, assignee string, distance float64, created time.Time) models.Neighbor {
	return models.Neighbor{
		Record:   models.IncidentRecord{ID: id, ShortDescription: "incident " + id, Assignee: assignee, CreatedAt: created},
		Distance: distance,
	}
}

type fakeReasoner struct {
	analysis reasoning.Analysis
	err      error
	delay    time.Duration
	calls    int
	context  string
	deadline time.Duration
}

func (f *fakeReasoner) Analyze(ctx context.Context, text, contextSummary string) (reasoning.Analysis, error) {
	f.calls++
	f.context = contextSummary
	if d, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(d)
	}
	if f.delay > 0 {
		// Deliberately ignores ctx to prove synthesis does not wait on it.
		time.Sleep(f.delay)
	}
	return f.analysis, f.err
}

var errUpstream = errors.New("upstream down")

func ptr(v float64) *float64 { return &v }
