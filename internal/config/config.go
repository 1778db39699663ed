package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the single structured configuration object driving all thresholds.
// Unknown keys in the config file are rejected at load time.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Docstore   DocstoreConfig   `mapstructure:"docstore"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	VectorDB   VectorDBConfig   `mapstructure:"vectordb"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Rerank     RerankConfig     `mapstructure:"rerank"`
	Generation GenerationConfig `mapstructure:"generation"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Gate       GateConfig       `mapstructure:"gate"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Deadlines  DeadlinesConfig  `mapstructure:"deadlines"`
	Limits     LimitsConfig     `mapstructure:"limits"`
}

// ServiceConfig contains basic service configuration
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	HealthPort      int           `mapstructure:"health_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig controls OTLP tracing
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DocstoreConfig contains document store connection settings
type DocstoreConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// HardCapChars bounds extracted document text; soft cap is 100k
	HardCapChars int `mapstructure:"hard_cap_chars"`
}

// EmbeddingsConfig contains embedding service settings
type EmbeddingsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxLRU       int           `mapstructure:"max_lru"`
}

// VectorDBConfig contains vector index settings
type VectorDBConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Dimensions int           `mapstructure:"dimensions"`
}

// ChunkingConfig controls document chunking
type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	Overlap      int `mapstructure:"overlap"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
}

// RetrievalConfig controls the retriever
type RetrievalConfig struct {
	TopK       int     `mapstructure:"top_k"`
	ScoreFloor float64 `mapstructure:"score_floor"`
}

// RerankConfig controls the cross-encoder reranker
type RerankConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	InputMax int           `mapstructure:"input_max"`
	TopK     int           `mapstructure:"top_k"`
	MinScore float64       `mapstructure:"min_score"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SamplingParams is one (temperature, top_p) pair of the diversity schedule
type SamplingParams struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
}

// ScoreWeights are the candidate scoring weights; they must sum to 1
type ScoreWeights struct {
	Perplexity float64 `mapstructure:"perplexity"`
	Relevance  float64 `mapstructure:"relevance"`
	Quality    float64 `mapstructure:"quality"`
}

// GenerationConfig controls best-of-N candidate generation
type GenerationConfig struct {
	BaseURL          string           `mapstructure:"base_url"`
	Model            string           `mapstructure:"model"`
	NCandidates      int              `mapstructure:"n_candidates"`
	MaxTokens        int              `mapstructure:"max_tokens"`
	ContextBudget    int              `mapstructure:"context_budget"`
	SamplingSchedule []SamplingParams `mapstructure:"sampling_schedule"`
	Weights          ScoreWeights     `mapstructure:"weights"`
	Timeout          time.Duration    `mapstructure:"timeout"`
	MaxConcurrent    int              `mapstructure:"max_concurrent"`
}

// ClassifierConfig controls the hybrid rule/ML classifier
type ClassifierConfig struct {
	RulesPath     string  `mapstructure:"rules_path"`
	CacheCapacity int     `mapstructure:"cache_capacity"`
	MLThreshold   float64 `mapstructure:"ml_threshold"`
}

// GateConfig controls the quality gate
type GateConfig struct {
	ConfidenceFloor   float64  `mapstructure:"confidence_floor"`
	MinAnswerLength   int      `mapstructure:"min_answer_length"`
	BannedPhrases     []string `mapstructure:"banned_phrases"`
	PoorAnswerRegexes []string `mapstructure:"poor_answer_regexes"`
}

// FallbackConfig controls the external source client
type FallbackConfig struct {
	Enabled        bool               `mapstructure:"enabled"`
	Provider       string             `mapstructure:"provider"` // wikipedia | websearch | llm
	BaseURL        string             `mapstructure:"base_url"`
	MaxResults     int                `mapstructure:"max_results"`
	ContentSizeCap int                `mapstructure:"content_size_cap"`
	SearchTimeout  time.Duration      `mapstructure:"search_timeout"`
	FetchTimeout   time.Duration      `mapstructure:"fetch_timeout"`
	RatePerSecond  float64            `mapstructure:"rate_per_second"`
	TrustWeights   map[string]float64 `mapstructure:"trust_weights"`
	MaxConcurrent  int                `mapstructure:"max_concurrent"`
}

// CacheConfig controls the adaptive answer cache
type CacheConfig struct {
	Path               string  `mapstructure:"path"`
	RedisAddr          string  `mapstructure:"redis_addr"`
	Capacity           int     `mapstructure:"capacity"`
	PromotionThreshold int     `mapstructure:"promotion_threshold"`
	FlushEvery         int     `mapstructure:"flush_every"`
	SimilarityFloor    float64 `mapstructure:"similarity_floor"`
	KeywordJaccard     float64 `mapstructure:"keyword_jaccard"`
}

// DeadlinesConfig carries per-stage deadlines
type DeadlinesConfig struct {
	Total     time.Duration `mapstructure:"total"`
	Generator time.Duration `mapstructure:"generator"`
	Fallback  time.Duration `mapstructure:"fallback"`
}

// LimitsConfig carries backpressure limits
type LimitsConfig struct {
	QueueSize    int `mapstructure:"queue_size"`
	MaxInFlight  int `mapstructure:"max_in_flight"`
	MaxSourceCap int `mapstructure:"max_source_cap"`
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8080,
			HealthPort:      8081,
			MetricsPort:     2112,
			GracefulTimeout: 15 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "engunity-qa"},
		Docstore: DocstoreConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "engunity",
			Database:        "engunity",
			SSLMode:         "disable",
			MaxConnections:  20,
			IdleConnections: 5,
			ConnMaxLifetime: 30 * time.Minute,
			HardCapChars:    500_000,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:      "http://localhost:8000",
			DefaultModel: "text-embedding-3-small",
			Timeout:      5 * time.Second,
			CacheTTL:     time.Hour,
			MaxLRU:       2048,
		},
		VectorDB: VectorDBConfig{
			Host:       "localhost",
			Port:       6333,
			Collection: "document_chunks",
			Timeout:    5 * time.Second,
			Dimensions: 1536,
		},
		Chunking:  ChunkingConfig{ChunkSize: 512, Overlap: 128, MinChunkSize: 32},
		Retrieval: RetrievalConfig{TopK: 10, ScoreFloor: 0.2},
		Rerank: RerankConfig{
			Enabled:  true,
			InputMax: 20,
			TopK:     5,
			MinScore: 0.2,
			Timeout:  10 * time.Second,
		},
		Generation: GenerationConfig{
			BaseURL:       "http://localhost:8000",
			NCandidates:   5,
			MaxTokens:     1024,
			ContextBudget: 2000,
			SamplingSchedule: []SamplingParams{
				{Temperature: 0.7, TopP: 0.9},
				{Temperature: 0.5, TopP: 0.9},
				{Temperature: 0.9, TopP: 0.9},
				{Temperature: 0.3, TopP: 0.95},
				{Temperature: 1.0, TopP: 0.85},
				{Temperature: 0.6, TopP: 0.8},
				{Temperature: 0.8, TopP: 0.95},
				{Temperature: 0.4, TopP: 0.85},
				{Temperature: 1.1, TopP: 0.9},
				{Temperature: 0.2, TopP: 0.9},
			},
			Weights:       ScoreWeights{Perplexity: 0.3, Relevance: 0.4, Quality: 0.3},
			Timeout:       60 * time.Second,
			MaxConcurrent: 10,
		},
		Classifier: ClassifierConfig{
			RulesPath:     "config/classifier_rules.yaml",
			CacheCapacity: 10_000,
			MLThreshold:   0.6,
		},
		Gate: GateConfig{
			ConfidenceFloor: 0.6,
			MinAnswerLength: 50,
			BannedPhrases: []string{
				"As an AI language model",
				"Based on the provided context, the provided context",
			},
			PoorAnswerRegexes: []string{
				`(?i)^i (don't|do not|cannot|can't) (know|answer|help)`,
				`(?i)^(sorry|unfortunately),? (i|we) (am|are) unable`,
				`(?i)no relevant information`,
			},
		},
		Fallback: FallbackConfig{
			Enabled:        true,
			Provider:       "wikipedia",
			MaxResults:     3,
			ContentSizeCap: 20_000,
			SearchTimeout:  10 * time.Second,
			FetchTimeout:   15 * time.Second,
			RatePerSecond:  2,
			MaxConcurrent:  8,
		},
		Cache: CacheConfig{
			Path:               "data/answer_cache.db",
			Capacity:           10_000,
			PromotionThreshold: 5,
			FlushEvery:         10,
			SimilarityFloor:    0.98,
			KeywordJaccard:     0.6,
		},
		Deadlines: DeadlinesConfig{
			Total:     60 * time.Second,
			Generator: 45 * time.Second,
			Fallback:  20 * time.Second,
		},
		Limits: LimitsConfig{
			QueueSize:    64,
			MaxInFlight:  32,
			MaxSourceCap: 20,
		},
	}
}

// Load reads the config file from CONFIG_PATH (default config/qa.yaml),
// merges it over defaults, applies env overrides, and validates the result.
// A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/qa.yaml"
	}
	return LoadFile(cfgPath)
}

// LoadFile loads configuration from an explicit path
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
		// No file: defaults + env only
	} else {
		if err := v.UnmarshalExact(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMBEDDINGS_BASE_URL"); v != "" {
		cfg.Embeddings.BaseURL = v
	}
	if v := os.Getenv("GENERATOR_BASE_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv("RERANKER_BASE_URL"); v != "" {
		cfg.Rerank.BaseURL = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.VectorDB.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Embeddings.RedisAddr = v
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("DOCSTORE_HOST"); v != "" {
		cfg.Docstore.Host = v
	}
	if v := os.Getenv("DOCSTORE_PASSWORD"); v != "" {
		cfg.Docstore.Password = v
	}
}

// Validate rejects out-of-range options at construction time
func (c *Config) Validate() error {
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking: overlap (%d) must be smaller than chunk_size (%d)",
			c.Chunking.Overlap, c.Chunking.ChunkSize)
	}
	if c.Chunking.MinChunkSize <= 0 || c.Chunking.MinChunkSize > c.Chunking.ChunkSize {
		return fmt.Errorf("chunking: min_chunk_size out of range")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval: top_k must be positive")
	}
	if c.Retrieval.ScoreFloor < 0 || c.Retrieval.ScoreFloor > 1 {
		return fmt.Errorf("retrieval: score_floor must be in [0,1]")
	}
	if c.Rerank.MinScore < 0 || c.Rerank.MinScore > 1 {
		return fmt.Errorf("rerank: min_score must be in [0,1]")
	}
	if c.Rerank.TopK <= 0 || c.Rerank.InputMax < c.Rerank.TopK {
		return fmt.Errorf("rerank: require 0 < top_k <= input_max")
	}
	if c.Generation.NCandidates < 1 || c.Generation.NCandidates > 10 {
		return fmt.Errorf("generation: n_candidates must be in [1,10]")
	}
	if len(c.Generation.SamplingSchedule) < c.Generation.NCandidates {
		return fmt.Errorf("generation: sampling_schedule shorter than n_candidates")
	}
	w := c.Generation.Weights
	if sum := w.Perplexity + w.Relevance + w.Quality; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("generation: score weights must sum to 1, got %v", sum)
	}
	if c.Gate.ConfidenceFloor < 0 || c.Gate.ConfidenceFloor > 1 {
		return fmt.Errorf("gate: confidence_floor must be in [0,1]")
	}
	if c.Gate.MinAnswerLength < 0 {
		return fmt.Errorf("gate: min_answer_length must be non-negative")
	}
	switch c.Fallback.Provider {
	case "wikipedia", "websearch", "llm":
	default:
		return fmt.Errorf("fallback: unknown provider %q", c.Fallback.Provider)
	}
	if c.Fallback.MaxResults <= 0 {
		return fmt.Errorf("fallback: max_results must be positive")
	}
	if c.Cache.PromotionThreshold < 1 {
		return fmt.Errorf("cache: promotion_threshold must be at least 1")
	}
	if c.Cache.FlushEvery < 1 {
		return fmt.Errorf("cache: flush_every must be at least 1")
	}
	if c.Cache.SimilarityFloor < 0 || c.Cache.SimilarityFloor > 1 {
		return fmt.Errorf("cache: similarity_floor must be in [0,1]")
	}
	if c.Deadlines.Total < 0 {
		return fmt.Errorf("deadlines: total must be non-negative")
	}
	if c.Limits.QueueSize < 0 || c.Limits.MaxInFlight <= 0 {
		return fmt.Errorf("limits: queue_size must be >= 0 and max_in_flight > 0")
	}
	if c.Docstore.HardCapChars <= 0 {
		return fmt.Errorf("docstore: hard_cap_chars must be positive")
	}
	return nil
}
