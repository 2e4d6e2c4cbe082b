package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the knowledge-base engine.
type Config struct {
	Ingest  IngestConfig  `yaml:"ingest" envPrefix:"RAGKB_INGEST_"`
	Graph   GraphConfig   `yaml:"graph" envPrefix:"RAGKB_GRAPH_"`
	Summary SummaryConfig `yaml:"summary" envPrefix:"RAGKB_SUMMARY_"`
	Dense   DenseConfig   `yaml:"dense" envPrefix:"RAGKB_DENSE_"`
	Query   QueryConfig   `yaml:"query" envPrefix:"RAGKB_QUERY_"`
	Rerank  RerankConfig  `yaml:"rerank" envPrefix:"RAGKB_RERANK_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"RAGKB_LOG_"`
}

// IngestConfig holds chunking and ingestion configuration.
type IngestConfig struct {
	Includes      []string      `yaml:"includes" env:"INCLUDES" envSeparator:","`
	Excludes      []string      `yaml:"excludes" env:"EXCLUDES" envSeparator:","`
	ChunkSize     int           `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap  int           `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	MinChunkChars int           `yaml:"min_chunk_chars" env:"MIN_CHUNK_CHARS"`
	Strategy      ChunkStrategy `yaml:"strategy" env:"STRATEGY"`
	Prune         bool          `yaml:"prune" env:"PRUNE"` // drop documents missing from the batch
	LockTimeout   time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
}

// GraphConfig sizes the term co-occurrence graph.
type GraphConfig struct {
	Enabled       bool `yaml:"enabled" env:"ENABLED"`
	TermsPerChunk int  `yaml:"terms_per_chunk" env:"TERMS_PER_CHUNK"`
	Neighbors     int  `yaml:"neighbors" env:"NEIGHBORS"`
}

// SummaryConfig controls per-document extractive summaries.
type SummaryConfig struct {
	Enabled  bool `yaml:"enabled" env:"ENABLED"`
	MinChars int  `yaml:"min_chars" env:"MIN_CHARS"`
	MaxChars int  `yaml:"max_chars" env:"MAX_CHARS"`
}

// DenseConfig holds embedding and dense index configuration.
type DenseConfig struct {
	Enabled   bool              `yaml:"enabled" env:"ENABLED"`
	Provider  EmbeddingProvider `yaml:"provider" env:"PROVIDER"` // "hash", "openai"
	Model     string            `yaml:"model" env:"MODEL"`
	Dim       int               `yaml:"dim" env:"DIM"`
	Backend   DenseBackend      `yaml:"backend" env:"BACKEND"` // "bolt", "flat"
	BaseURL   string            `yaml:"base_url" env:"BASE_URL"`
	APIKeyEnv string            `yaml:"api_key_env" env:"API_KEY_ENV"`
	TopK      int               `yaml:"top_k" env:"TOP_K"`
	BatchSize int               `yaml:"batch_size" env:"BATCH_SIZE"`
	Workers   int               `yaml:"workers" env:"WORKERS"`
}

// QueryConfig holds retrieval configuration.
type QueryConfig struct {
	Limit            int           `yaml:"limit" env:"LIMIT"`
	MaxChars         int           `yaml:"max_chars" env:"MAX_CHARS"`
	CandidateK       int           `yaml:"candidate_k" env:"CANDIDATE_K"`
	K1               float64       `yaml:"k1" env:"K1"`
	B                float64       `yaml:"b" env:"B"`
	Enhance          bool          `yaml:"enhance" env:"ENHANCE"`
	GraphExpand      bool          `yaml:"graph_expand" env:"GRAPH_EXPAND"`
	GraphTopK        int           `yaml:"graph_top_k" env:"GRAPH_TOP_K"`
	Raptor           bool          `yaml:"raptor" env:"RAPTOR"`
	RaptorTopK       int           `yaml:"raptor_top_k" env:"RAPTOR_TOP_K"`
	CRAG             bool          `yaml:"crag" env:"CRAG"`
	IncludeSummaries bool          `yaml:"include_summaries" env:"INCLUDE_SUMMARIES"`
	Fusion           FusionMode    `yaml:"fusion" env:"FUSION"` // "rrf", "weighted", "none"
	RRFK             int           `yaml:"rrf_k" env:"RRF_K"`
	LexicalWeight    float64       `yaml:"lexical_weight" env:"LEXICAL_WEIGHT"`
	DenseWeight      float64       `yaml:"dense_weight" env:"DENSE_WEIGHT"`
	CacheSize        int           `yaml:"cache_size" env:"CACHE_SIZE"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RerankConfig holds external reranker configuration.
type RerankConfig struct {
	Enabled   bool           `yaml:"enabled" env:"ENABLED"`
	Provider  RerankProvider `yaml:"provider" env:"PROVIDER"` // "lexical", "cohere"
	Model     string         `yaml:"model" env:"MODEL"`
	TopK      int            `yaml:"top_k" env:"TOP_K"`
	APIKeyEnv string         `yaml:"api_key_env" env:"API_KEY_ENV"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // "console", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			Includes:      []string{"**/*.md", "**/*.txt", "**/*.rst", "**/*.csv", "**/*.tsv", "**/*.log"},
			Excludes:      []string{"**/.git/**", "**/.rag/**", "**/node_modules/**", "**/vendor/**"},
			ChunkSize:     1200,
			ChunkOverlap:  200,
			MinChunkChars: 20,
			Strategy:      StrategyWindow,
			LockTimeout:   10 * time.Second,
		},
		Graph: GraphConfig{
			Enabled:       true,
			TermsPerChunk: 24,
			Neighbors:     8,
		},
		Summary: SummaryConfig{
			Enabled:  true,
			MinChars: 200,
			MaxChars: 600,
		},
		Dense: DenseConfig{
			Enabled:   false,
			Provider:  ProviderHash,
			Model:     "hash-v1",
			Dim:       256,
			Backend:   BackendBolt,
			APIKeyEnv: "OPENAI_API_KEY",
			TopK:      50,
			BatchSize: 64,
			Workers:   4,
		},
		Query: QueryConfig{
			Limit:         5,
			MaxChars:      6000,
			CandidateK:    20,
			K1:            1.2,
			B:             0.75,
			Enhance:       true,
			GraphExpand:   true,
			GraphTopK:     3,
			Raptor:        true,
			RaptorTopK:    3,
			CRAG:          true,
			Fusion:        FusionRRF,
			RRFK:          60,
			LexicalWeight: 1.0,
			DenseWeight:   1.0,
			CacheSize:     64,
			CacheTTL:      5 * time.Minute,
		},
		Rerank: RerankConfig{
			Enabled:   false,
			Provider:  RerankLexical,
			Model:     "rerank-english-v3.0",
			TopK:      10,
			APIKeyEnv: "COHERE_API_KEY",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, then applies RAGKB_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for rag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "rag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".rag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// No file: defaults plus environment.
	return Load(filepath.Join(dir, "rag.yaml"))
}

// Validate checks numeric ranges and normalizes the enumerated knobs.
func (c *Config) Validate() error {
	var err error
	if c.Ingest.Strategy, err = ParseChunkStrategy(string(c.Ingest.Strategy)); err != nil {
		return err
	}
	if c.Dense.Provider, err = ParseEmbeddingProvider(string(c.Dense.Provider)); err != nil {
		return err
	}
	if c.Dense.Backend, err = ParseDenseBackend(string(c.Dense.Backend)); err != nil {
		return err
	}
	if c.Query.Fusion, err = ParseFusionMode(string(c.Query.Fusion)); err != nil {
		return err
	}
	if c.Rerank.Provider, err = ParseRerankProvider(string(c.Rerank.Provider)); err != nil {
		return err
	}

	switch {
	case c.Ingest.ChunkSize <= 0:
		return fmt.Errorf("%w: ingest.chunk_size must be positive", ErrInvalid)
	case c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize:
		return fmt.Errorf("%w: ingest.chunk_overlap must be in [0, chunk_size)", ErrInvalid)
	case c.Ingest.MinChunkChars < 0:
		return fmt.Errorf("%w: ingest.min_chunk_chars must not be negative", ErrInvalid)
	case c.Summary.Enabled && (c.Summary.MaxChars <= 0 || c.Summary.MinChars > c.Summary.MaxChars):
		return fmt.Errorf("%w: summary.min_chars must not exceed summary.max_chars", ErrInvalid)
	case c.Dense.Enabled && c.Dense.Dim <= 0:
		return fmt.Errorf("%w: dense.dim must be positive", ErrInvalid)
	case c.Query.Limit <= 0:
		return fmt.Errorf("%w: query.limit must be positive", ErrInvalid)
	case c.Query.MaxChars <= 0:
		return fmt.Errorf("%w: query.max_chars must be positive", ErrInvalid)
	case c.Query.K1 < 0 || c.Query.B < 0 || c.Query.B > 1:
		return fmt.Errorf("%w: query.k1 must be >= 0 and query.b in [0, 1]", ErrInvalid)
	}
	if c.Query.CandidateK < c.Query.Limit {
		c.Query.CandidateK = c.Query.Limit
	}
	return nil
}

// SnapshotPath returns the path to the knowledge-base snapshot.
func SnapshotPath(dir string) string {
	return filepath.Join(dir, ".rag", "kb.json")
}

// DenseIndexPath returns the dense index file for the given backend.
func DenseIndexPath(dir string, backend DenseBackend) string {
	switch backend {
	case BackendFlat:
		return filepath.Join(dir, ".rag", "dense.json")
	default:
		return filepath.Join(dir, ".rag", "dense.db")
	}
}

// EnsureRAGDir ensures the .rag directory exists.
func EnsureRAGDir(dir string) error {
	ragDir := filepath.Join(dir, ".rag")
	return os.MkdirAll(ragDir, 0755)
}
