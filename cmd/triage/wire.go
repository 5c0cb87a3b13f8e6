package main

import (
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/engine"
	"github.com/miradorstack/mirador-triage/internal/reasoning"
	"github.com/miradorstack/mirador-triage/internal/services"
	"github.com/miradorstack/mirador-triage/internal/store"
	"github.com/miradorstack/mirador-triage/internal/tracker"
)

// components holds the wired dependency graph for one command invocation.
type components struct {
	cache    cache.Provider
	embedder embedding.Embedder
	index    store.Index
	service  *services.TriageService
}

func (c *components) Close() {
	if c.cache != nil {
		_ = c.cache.Close()
	}
}

func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{cache: newCacheProvider(cfg, logger)}

	inner := embedding.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.Timeout)
	c.embedder = embedding.NewCachedEmbedder(inner, c.cache, cfg.Embedding.CacheTTL, logger)

	index, err := newIndex(cfg, c.embedder, c.cache)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.index = index

	var reasoner reasoning.Service
	if cfg.ReasoningAvailable() {
		reasoner = reasoning.NewOpenAIService(reasoning.OpenAIOptions{
			APIKey:      cfg.Reasoning.APIKey,
			BaseURL:     cfg.Reasoning.BaseURL,
			Model:       cfg.Reasoning.Model,
			MaxTokens:   cfg.Reasoning.MaxTokens,
			Temperature: cfg.Reasoning.Temperature,
		}, logger)
	}

	retriever := engine.NewRetriever(c.embedder, index, cfg.Embedding.Dimensions, logger)
	synthesizer := engine.NewSynthesizer(reasoner, engine.SynthesizerConfig{
		MinIncidents: cfg.Analysis.MinIncidentsForAnalysis,
		Timeout:      cfg.Reasoning.Timeout,
	}, logger)
	pipeline := engine.NewPipeline(logger, retriever, synthesizer, cfg.ReasoningAvailable())

	var tr services.Tracker
	if cfg.TrackerConfigured() {
		tr = tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.APIToken, cfg.Tracker.Timeout)
	}

	c.service = services.NewTriageService(logger, pipeline, tr, index, services.Options{
		DefaultThreshold: cfg.Analysis.SimilarityThreshold,
		DefaultLimit:     cfg.Analysis.MaxSimilarIncidents,
		Workers:          cfg.Batch.Workers,
		StoreBackend:     cfg.Store.Backend,
		LLMAvailable:     cfg.ReasoningAvailable(),
		ConfigProblem:    configProblem(cfg),
	})
	return c, nil
}

// newCacheProvider prefers Redis/Valkey, falls back to an in-process cache when caching
// is enabled without an address, and disables caching otherwise.
func newCacheProvider(cfg *config.Config, logger *slog.Logger) cache.Provider {
	if !cfg.Cache.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Cache.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxRetries:   cfg.Cache.MaxRetries,
		TLS:          cfg.Cache.TLS,
	})
	if err != nil {
		logger.Warn("redis cache unavailable, using in-process cache", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}

func newIndex(cfg *config.Config, embedder embedding.Embedder, provider cache.Provider) (store.Index, error) {
	switch cfg.Store.Backend {
	case config.StoreWeaviate:
		w := cfg.Store.Weaviate
		return store.NewWeaviateStore(w.Endpoint, w.APIKey, w.Class, w.Timeout, provider, cfg.Cache.NeighboursTTL), nil
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreChromem:
		s, err := store.NewChromemStore(cfg.Store.Path, cfg.Store.Collection, cfg.Store.Compress, embedding.ChromemFunc(embedder))
		if err != nil {
			return nil, fmt.Errorf("open chromem store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// configProblem reports the first missing credential, or "" when the service is fully configured.
func configProblem(cfg *config.Config) string {
	switch {
	case cfg.Embedding.APIKey == "":
		return "embedding api key is not set"
	case !cfg.TrackerConfigured():
		return "jira base url, username and api token are required"
	default:
		return ""
	}
}
