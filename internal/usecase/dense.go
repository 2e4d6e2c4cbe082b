package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"ragkb/config"
	"ragkb/internal/adapter/store"
	"ragkb/internal/domain"
	"ragkb/internal/logging"
	"ragkb/internal/port"
)

// DenseIndexer keeps a dense index in step with the chunk table. Only
// chunks whose text (or embedding model) changed are embedded again.
type DenseIndexer struct {
	embedder  port.Embedder
	backend   config.DenseBackend
	path      string
	batchSize int
	workers   int
	logger    *zap.Logger
	progress  func(done, total int)
}

// DenseUpdate describes one BuildOrUpdate call.
type DenseUpdate struct {
	IndexFile string
	Embedded  int
	Deleted   int
	Vectors   int
}

func NewDenseIndexer(embedder port.Embedder, backend config.DenseBackend, path string, batchSize, workers int, logger *zap.Logger) *DenseIndexer {
	if batchSize <= 0 {
		batchSize = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &DenseIndexer{
		embedder:  embedder,
		backend:   backend,
		path:      path,
		batchSize: batchSize,
		workers:   workers,
		logger:    logging.Component(logger, "dense"),
	}
}

// BuildOrUpdate embeds new or changed texts, keyed by chunk id, and
// deletes vectors whose id is gone.
func (d *DenseIndexer) BuildOrUpdate(ctx context.Context, texts map[string]string) (update *DenseUpdate, err error) {
	vs, err := store.OpenVectorStore(d.backend, d.path, d.embedder.Dimension(), false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := vs.Close(); cerr != nil && err == nil {
			update, err = nil, fmt.Errorf("close dense index: %w", cerr)
		}
	}()

	existing, err := vs.Hashes()
	if err != nil {
		return nil, err
	}

	var stale []string
	for id := range existing {
		if _, ok := texts[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 {
		if err := vs.Delete(stale); err != nil {
			return nil, fmt.Errorf("delete stale vectors: %w", err)
		}
	}

	hashes := make(map[string]string, len(texts))
	var pending []string
	for id, text := range texts {
		hashes[id] = d.textHash(text)
		if existing[id] != hashes[id] {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)

	if err := d.embedAll(ctx, vs, pending, texts, hashes); err != nil {
		return nil, err
	}

	count, err := vs.Count()
	if err != nil {
		return nil, err
	}
	d.logger.Debug("dense index updated",
		zap.String("path", d.path),
		zap.Int("embedded", len(pending)),
		zap.Int("deleted", len(stale)),
		zap.Int("vectors", count))

	return &DenseUpdate{IndexFile: d.path, Embedded: len(pending), Deleted: len(stale), Vectors: count}, nil
}

// embedAll fans batches out over an ants pool. The first failure cancels
// the batches that have not started.
func (d *DenseIndexer) embedAll(ctx context.Context, vs port.VectorStore, ids []string, texts, hashes map[string]string) error {
	if len(ids) == 0 {
		return nil
	}

	pool, err := ants.NewPool(d.workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for lo := 0; lo < len(ids); lo += d.batchSize {
		hi := lo + d.batchSize
		if hi > len(ids) {
			hi = len(ids)
		}
		batch := ids[lo:hi]

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			items, err := d.embedBatch(ctx, batch, texts, hashes)
			if err == nil {
				err = vs.Upsert(items)
			}
			if err != nil {
				fail(err)
				return
			}

			mu.Lock()
			done += len(batch)
			if d.progress != nil {
				d.progress(done, len(ids))
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			fail(submitErr)
			break
		}
	}
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

func (d *DenseIndexer) embedBatch(ctx context.Context, ids []string, texts, hashes map[string]string) ([]port.VectorItem, error) {
	batch := make([]string, len(ids))
	for i, id := range ids {
		batch[i] = texts[id]
	}

	vectors, err := d.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", d.embedder.ModelName(), err)
	}
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(ids))
	}

	items := make([]port.VectorItem, len(ids))
	for i, id := range ids {
		items[i] = port.VectorItem{ID: id, Vector: vectors[i], TextHash: hashes[id]}
	}
	return items, nil
}

// textHash ties a vector to the text, the model that embedded it and the
// vector dimension.
func (d *DenseIndexer) textHash(text string) string {
	key := fmt.Sprintf("%s\x00%d\x00%s", d.embedder.ModelName(), d.embedder.Dimension(), text)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// denseSearch embeds the prompt and returns the chunks of kb most similar
// to it, keeping only positive similarities.
func (e *Engine) denseSearch(ctx context.Context, kb *domain.KnowledgeBase, prompt string) ([]domain.ScoredChunk, error) {
	meta := kb.Graph.Dense
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedder configured for provider %q", e.cfg.Dense.Provider)
	}
	if meta.Model != e.embedder.ModelName() || meta.Dim != e.embedder.Dimension() {
		return nil, fmt.Errorf("dense index built with %s/%d, embedder is %s/%d",
			meta.Model, meta.Dim, e.embedder.ModelName(), e.embedder.Dimension())
	}
	backend, err := config.ParseDenseBackend(meta.Backend)
	if err != nil {
		return nil, err
	}

	vectors, err := e.embedder.Embed(ctx, []string{prompt})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
	}

	vs, err := store.OpenVectorStore(backend, filepath.Join(e.root, ".rag", meta.IndexFile), meta.Dim, true)
	if err != nil {
		return nil, err
	}
	defer vs.Close()

	hits, err := vs.Search(vectors[0], e.cfg.Dense.TopK)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		chunk, ok := kb.Chunks[h.ID]
		if !ok || h.Score <= 0 {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: chunk, Score: h.Score})
	}
	return out, nil
}
