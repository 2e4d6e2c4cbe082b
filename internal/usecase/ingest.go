package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragkb/config"
	"ragkb/internal/adapter/analyzer"
	"ragkb/internal/adapter/chunker"
	"ragkb/internal/adapter/fs"
	"ragkb/internal/adapter/graph"
	"ragkb/internal/adapter/store"
	"ragkb/internal/domain"
)

// Ingest merges sources into the knowledge base and saves it. Unchanged
// documents are skipped; changed ones are re-chunked from scratch.
func (e *Engine) Ingest(ctx context.Context, sources []domain.Source) (*domain.IngestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	cfg := e.cfg

	if err := config.EnsureRAGDir(e.root); err != nil {
		return nil, fmt.Errorf("create .rag directory: %w", err)
	}
	lock, err := store.AcquireWriteLock(e.snapshot.Path(), cfg.Ingest.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	kb, err := e.snapshot.Load()
	if err != nil {
		return nil, err
	}
	if kb == nil {
		if e.snapshot.Exists() {
			if _, err := e.snapshot.Quarantine(); err != nil {
				return nil, err
			}
		}
		kb = domain.NewKnowledgeBase()
	}

	tokenizer := analyzer.NewTokenizer()
	selector := chunker.NewSelector(cfg.Ingest, tokenizer, e.base)
	summarizer := chunker.NewSummarizer(cfg.Summary.MinChars, cfg.Summary.MaxChars, tokenizer)

	result := &domain.IngestResult{Location: e.snapshot.Path()}
	seen := make(map[string]struct{}, len(sources))

	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.report(StageDocuments, i, len(sources))

		content, kind := e.resolve(src)
		if strings.TrimSpace(content) == "" {
			result.DocsEmpty++
			continue
		}

		hash := contentHash(content)
		id := src.ID
		if id == "" {
			id = "doc-" + hash[:16]
		}
		seen[id] = struct{}{}

		existing, ok := kb.Docs[id]
		if ok && existing.ContentHash == hash {
			result.DocsSkipped++
			continue
		}
		if ok {
			purge(kb, existing)
		}

		doc := &domain.Document{
			ID:          id,
			Source:      sourceLabel(src, id),
			Kind:        kind,
			Meta:        cloneMeta(src.Meta),
			ContentHash: hash,
			ChunkIDs:    []string{},
		}

		chunks, err := selector.Chunk(doc, content)
		if err != nil {
			e.logger.Warn("chunking failed, document skipped", zap.String("doc_id", id), zap.Error(err))
			result.DocsEmpty++
			continue
		}
		for _, c := range chunks {
			inheritMeta(c, doc.Meta)
			kb.Chunks[c.ID] = c
			doc.ChunkIDs = append(doc.ChunkIDs, c.ID)
		}

		if cfg.Summary.Enabled {
			if s := summarizer.SummaryChunk(doc, content); s != nil {
				inheritMeta(s, doc.Meta)
				kb.Chunks[s.ID] = s
				doc.SummaryChunkID = s.ID
			}
		}

		kb.Docs[id] = doc
		result.DocsIndexed++
		e.logger.Debug("document indexed",
			zap.String("doc_id", id),
			zap.String("kind", kind),
			zap.Int("chunks", len(doc.ChunkIDs)))
	}
	e.report(StageDocuments, len(sources), len(sources))

	if cfg.Ingest.Prune {
		result.DocsPruned = prune(kb, seen)
	}

	kb.RecomputeStats()

	if cfg.Graph.Enabled {
		kb.Graph.Adjacency = graph.NewBuilder(cfg.Graph.TermsPerChunk, cfg.Graph.Neighbors).Build(kb)
	} else {
		kb.Graph.Adjacency = make(map[string][]domain.Neighbor)
	}

	kb.Graph.Dense = nil
	if cfg.Dense.Enabled {
		meta, err := e.updateDense(ctx, kb)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			e.logger.Warn("dense index update failed, continuing lexical-only", zap.Error(err))
			e.metrics.RecordAdapterError("embedding", err)
		default:
			kb.Graph.Dense = meta
			result.Vectors = meta.Vectors
		}
	}

	kb.Version = domain.CurrentVersion
	if err := e.snapshot.Save(kb); err != nil {
		return nil, err
	}
	gen, err := lock.RecordSave(time.Now())
	if err != nil {
		e.logger.Warn("failed to record save generation", zap.Error(err))
	}
	e.cache.Invalidate()

	result.Chunks = len(kb.Chunks)
	elapsed := time.Since(start)
	e.metrics.RecordIngest(result.DocsIndexed, result.DocsSkipped, result.DocsEmpty, result.DocsPruned, elapsed)
	e.logger.Info("ingestion complete",
		zap.Int("indexed", result.DocsIndexed),
		zap.Int("skipped", result.DocsSkipped),
		zap.Int("empty", result.DocsEmpty),
		zap.Int("pruned", result.DocsPruned),
		zap.Int("chunks", result.Chunks),
		zap.Uint64("generation", gen),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

// resolve returns the source text, reading Path when no Text is given,
// and its kind. An unreadable file yields empty content.
func (e *Engine) resolve(src domain.Source) (string, string) {
	content := src.Text
	if content == "" && src.Path != "" {
		text, err := fs.ReadFile(src.Path)
		if err != nil {
			e.logger.Warn("source unreadable, treating as empty", zap.String("path", src.Path), zap.Error(err))
		}
		content = text
	}

	kind := src.Kind
	if kind == "" {
		kind = domain.KindText
		if src.Path != "" {
			kind = fs.KindForPath(src.Path)
		}
	}
	return content, kind
}

func sourceLabel(src domain.Source, id string) string {
	switch {
	case src.Source != "":
		return src.Source
	case src.Path != "":
		return src.Path
	}
	return id
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// purge removes every chunk a document owns, its summary included.
func purge(kb *domain.KnowledgeBase, doc *domain.Document) {
	for _, id := range doc.ChunkIDs {
		delete(kb.Chunks, id)
	}
	if doc.SummaryChunkID != "" {
		delete(kb.Chunks, doc.SummaryChunkID)
	}
}

// prune drops documents that were not part of the batch.
func prune(kb *domain.KnowledgeBase, seen map[string]struct{}) int {
	var stale []string
	for id := range kb.Docs {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	for _, id := range stale {
		purge(kb, kb.Docs[id])
		delete(kb.Docs, id)
	}
	return len(stale)
}

func cloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// inheritMeta copies document metadata onto a chunk without overwriting
// keys the chunker set.
func inheritMeta(c *domain.Chunk, meta map[string]any) {
	for k, v := range meta {
		if _, ok := c.Meta[k]; !ok {
			c.Meta[k] = v
		}
	}
}

func (e *Engine) updateDense(ctx context.Context, kb *domain.KnowledgeBase) (*domain.DenseMeta, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedder configured for provider %q", e.cfg.Dense.Provider)
	}

	texts := make(map[string]string, len(kb.Chunks))
	for id, c := range kb.Chunks {
		if !c.IsSummary() {
			texts[id] = c.Content
		}
	}

	backend := e.cfg.Dense.Backend
	path := config.DenseIndexPath(e.root, backend)
	indexer := NewDenseIndexer(e.embedder, backend, path, e.cfg.Dense.BatchSize, e.cfg.Dense.Workers, e.base)
	indexer.progress = func(done, total int) { e.report(StageEmbeddings, done, total) }

	update, err := indexer.BuildOrUpdate(ctx, texts)
	if err != nil {
		return nil, err
	}
	return &domain.DenseMeta{
		Provider:  string(e.cfg.Dense.Provider),
		Model:     e.embedder.ModelName(),
		Dim:       e.embedder.Dimension(),
		Backend:   string(backend),
		IndexFile: filepath.Base(path),
		Vectors:   update.Vectors,
	}, nil
}
