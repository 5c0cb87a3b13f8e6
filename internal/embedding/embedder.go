package embedding

import (
	"context"

	chromem "github.com/philippgille/chromem-go"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length the model produces, or 0 if unknown.
	Dimensions() int
	// Name identifies the model.
	Name() string
}

// ChromemFunc adapts an Embedder to chromem-go's embedding function.
func ChromemFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}
