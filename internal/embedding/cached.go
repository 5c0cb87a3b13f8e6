package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-triage/internal/cache"
)

// CachedEmbedder memoises embeddings in a cache.Provider keyed by model and text hash.
type CachedEmbedder struct {
	inner  Embedder
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedEmbedder wraps inner; a nil provider disables caching.
func NewCachedEmbedder(inner Embedder, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: provider, ttl: ttl, logger: logger}
}

func (c *CachedEmbedder) Name() string    { return c.inner.Name() }
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		_ = c.cache.Del(ctx, key)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(vec); err == nil {
		if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
			c.logger.Debug("embedding cache write failed", slog.Any("error", err))
		}
	}
	return vec, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "triage:emb:" + c.inner.Name() + ":" + hex.EncodeToString(sum[:])
}
