package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreChromem  = "chromem"
	StoreWeaviate = "weaviate"
	StoreMemory   = "memory"
)

// Config captures every setting needed to run triage.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Store     StoreConfig     `yaml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Batch     BatchConfig     `yaml:"batch"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// HTTPConfig controls the web interface listener.
type HTTPConfig struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AnalysisConfig holds retrieval and synthesis parameters.
type AnalysisConfig struct {
	SimilarityThreshold     float64 `yaml:"similarityThreshold"`
	MaxSimilarIncidents     int     `yaml:"maxSimilarIncidents"`
	MinIncidentsForAnalysis int     `yaml:"minIncidentsForAnalysis"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"apiKey"`
	BaseURL    string        `yaml:"baseURL"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
}

// ReasoningConfig configures the optional LLM reasoning capability.
type ReasoningConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"apiKey"`
	BaseURL     string        `yaml:"baseURL"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the incident store backend.
type StoreConfig struct {
	Backend    string         `yaml:"backend"`
	Path       string         `yaml:"path"`
	Collection string         `yaml:"collection"`
	Compress   bool           `yaml:"compress"`
	Weaviate   WeaviateConfig `yaml:"weaviate"`
}

// WeaviateConfig configures the external vector index.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Class    string        `yaml:"class"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CatalogConfig locates the SQLite ingestion ledger.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Valkey/Redis-backed caching of expensive lookups.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	TLS           bool          `yaml:"tls"`
	NeighboursTTL time.Duration `yaml:"neighboursTTL"`
}

// TrackerConfig configures the Jira integration.
type TrackerConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	Username string        `yaml:"username"`
	APIToken string        `yaml:"apiToken"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BatchConfig controls concurrent issue processing.
type BatchConfig struct {
	Workers int `yaml:"workers"`
}

// IngestConfig controls spreadsheet ingestion.
type IngestConfig struct {
	BatchSize int    `yaml:"batchSize"`
	JSONDir   string `yaml:"jsonDir"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration without file or environment input.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Address:        ":5000",
			RequestTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14},
		Analysis: AnalysisConfig{
			SimilarityThreshold:     0.3,
			MaxSimilarIncidents:     5,
			MinIncidentsForAnalysis: 3,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    10 * time.Second,
			CacheTTL:   24 * time.Hour,
		},
		Reasoning: ReasoningConfig{
			Model:       "gpt-3.5-turbo",
			MaxTokens:   1000,
			Temperature: 0.3,
			Timeout:     20 * time.Second,
		},
		Store: StoreConfig{
			Backend:    StoreChromem,
			Path:       "data/incidents",
			Collection: "incidents",
			Compress:   true,
			Weaviate:   WeaviateConfig{Class: "Incident", Timeout: 5 * time.Second},
		},
		Catalog: CatalogConfig{Path: "data/catalog.db"},
		Cache: CacheConfig{
			NeighboursTTL: 2 * time.Minute,
			DialTimeout:   2 * time.Second,
			ReadTimeout:   500 * time.Millisecond,
			WriteTimeout:  500 * time.Millisecond,
			MaxRetries:    2,
		},
		Tracker: TrackerConfig{Timeout: 10 * time.Second},
		Batch:   BatchConfig{Workers: 4},
		Ingest:  IngestConfig{BatchSize: 100},
	}
}

// Validate checks parameter ranges the engine relies on.
func (c *Config) Validate() error {
	if c.Analysis.SimilarityThreshold < 0 || c.Analysis.SimilarityThreshold > 1 {
		return fmt.Errorf("analysis.similarityThreshold must be within [0,1], got %v", c.Analysis.SimilarityThreshold)
	}
	if c.Analysis.MaxSimilarIncidents <= 0 {
		return fmt.Errorf("analysis.maxSimilarIncidents must be positive")
	}
	if c.Analysis.MinIncidentsForAnalysis < 0 {
		return fmt.Errorf("analysis.minIncidentsForAnalysis must be non-negative")
	}
	if c.Reasoning.Enabled && c.Reasoning.Timeout <= 0 {
		return fmt.Errorf("reasoning.timeout must be positive when reasoning is enabled")
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be non-negative")
	}
	switch c.Store.Backend {
	case StoreChromem, StoreMemory:
	case StoreWeaviate:
		if c.Store.Weaviate.Endpoint == "" {
			return fmt.Errorf("store.weaviate.endpoint is required for the weaviate backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q: must be one of chromem, weaviate, memory", c.Store.Backend)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}
	return nil
}

// TrackerConfigured reports whether Jira credentials look usable.
func (c *Config) TrackerConfigured() bool {
	return c.Tracker.BaseURL != "" && c.Tracker.Username != "" && c.Tracker.APIToken != ""
}

// ReasoningAvailable reports whether the LLM path can be attempted.
func (c *Config) ReasoningAvailable() bool {
	return c.Reasoning.Enabled && c.Reasoning.APIKey != ""
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_TRIAGE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_TRIAGE_MAX_SIMILAR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MaxSimilarIncidents = n
		}
	}
	if v := os.Getenv("MIRADOR_TRIAGE_MIN_INCIDENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MinIncidentsForAnalysis = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.Reasoning.APIKey == "" {
			cfg.Reasoning.APIKey = v
		}
	}
	if v := os.Getenv("MIRADOR_TRIAGE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_REASONING_ENABLED"); v != "" {
		cfg.Reasoning.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_TRIAGE_REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_REASONING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reasoning.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_TRIAGE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_TRIAGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_WEAVIATE_URL"); v != "" {
		cfg.Store.Weaviate.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_WEAVIATE_API_KEY"); v != "" {
		cfg.Store.Weaviate.APIKey = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("JIRA_BASE_URL"); v != "" {
		cfg.Tracker.BaseURL = v
	}
	if v := os.Getenv("JIRA_USERNAME"); v != "" {
		cfg.Tracker.Username = v
	}
	if v := os.Getenv("JIRA_API_TOKEN"); v != "" {
		cfg.Tracker.APIToken = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Workers = n
		}
	}
}
