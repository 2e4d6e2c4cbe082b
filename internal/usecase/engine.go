// Package usecase wires the adapters into the ingestion and query pipelines.
package usecase

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"ragkb/config"
	"ragkb/internal/adapter/cache"
	"ragkb/internal/adapter/embedding"
	"ragkb/internal/adapter/retriever"
	"ragkb/internal/adapter/store"
	"ragkb/internal/domain"
	"ragkb/internal/logging"
	"ragkb/internal/metrics"
	"ragkb/internal/port"
)

// ProgressFunc is told how far a long-running stage has got.
type ProgressFunc func(stage string, done, total int)

const (
	StageDocuments  = "documents"
	StageEmbeddings = "embeddings"
)

// Engine is the handle for one knowledge base rooted at a directory. All
// state lives in the snapshot under <root>/.rag; the engine only caches
// query results and serializes its own ingestion calls.
type Engine struct {
	root     string
	cfg      *config.Config
	snapshot *store.SnapshotStore
	logger   *zap.Logger
	base     *zap.Logger
	metrics  *metrics.Collector
	cache    *cache.ResultCache
	embedder port.Embedder
	reranker port.Reranker
	progress ProgressFunc

	mu sync.Mutex
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEmbedder overrides the embedder built from the dense configuration.
func WithEmbedder(embedder port.Embedder) Option {
	return func(e *Engine) { e.embedder = embedder }
}

// WithReranker overrides the reranker built from the rerank configuration.
func WithReranker(reranker port.Reranker) Option {
	return func(e *Engine) { e.reranker = reranker }
}

func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine validates cfg (nil means defaults) and builds the engine for
// root. Adapters that cannot be constructed are logged and left out; the
// pipelines then run without them.
func NewEngine(root string, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	e := &Engine{root: abs, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.base = e.logger
	e.logger = logging.Component(e.base, "engine").With(zap.String("root", abs))

	e.snapshot = store.NewSnapshotStore(config.SnapshotPath(abs), e.base)
	e.cache = cache.NewResultCache(cfg.Query.CacheSize, cfg.Query.CacheTTL)

	if e.embedder == nil && cfg.Dense.Enabled {
		if e.embedder, err = embedding.New(cfg.Dense); err != nil {
			e.logger.Warn("embedder unavailable, dense retrieval disabled", zap.Error(err))
			e.metrics.RecordAdapterError("embedding", err)
			e.embedder = nil
		}
	}
	if e.reranker == nil && cfg.Rerank.Enabled {
		if e.reranker, err = retriever.NewReranker(cfg.Rerank); err != nil {
			e.logger.Warn("reranker unavailable, external rerank disabled", zap.Error(err))
			e.metrics.RecordAdapterError("rerank", err)
			e.reranker = nil
		}
	}
	return e, nil
}

func (e *Engine) Root() string {
	return e.root
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

// SnapshotPath is where the knowledge base is persisted.
func (e *Engine) SnapshotPath() string {
	return e.snapshot.Path()
}

func (e *Engine) report(stage string, done, total int) {
	if e.progress != nil {
		e.progress(stage, done, total)
	}
}

// Stats summarizes the persisted knowledge base.
type Stats struct {
	Location   string            `json:"location"`
	Version    string            `json:"version"`
	Documents  int               `json:"documents"`
	Chunks     int               `json:"chunks"`
	Summaries  int               `json:"summaries"`
	Terms      int               `json:"terms"`
	AvgDL      float64           `json:"avgdl"`
	GraphTerms int               `json:"graph_terms"`
	Dense      *domain.DenseMeta `json:"dense,omitempty"`
	Saves      uint64            `json:"saves"`
	LastWrite  *time.Time        `json:"last_write,omitempty"`
}

const statsLockWait = 500 * time.Millisecond

// Stats reads the snapshot. It reports false when there is none.
func (e *Engine) Stats() (*Stats, bool) {
	kb, err := e.snapshot.Load()
	if err != nil || kb == nil {
		return nil, false
	}

	s := &Stats{
		Location:   e.snapshot.Path(),
		Version:    kb.Version,
		Documents:  len(kb.Docs),
		Chunks:     len(kb.Chunks),
		Terms:      len(kb.BM25.DocumentFrequencies),
		AvgDL:      kb.BM25.AvgDL,
		GraphTerms: len(kb.Graph.Adjacency),
		Dense:      kb.Graph.Dense,
	}
	for _, c := range kb.Chunks {
		if c.IsSummary() {
			s.Summaries++
		}
	}

	history, err := store.ReadSaveHistory(e.snapshot.Path(), statsLockWait)
	if err != nil {
		e.logger.Debug("save history unavailable", zap.Error(err))
		return s, true
	}
	s.Saves = history.Generation
	if !history.LastWrite.IsZero() {
		at := history.LastWrite
		s.LastWrite = &at
	}
	return s, true
}
