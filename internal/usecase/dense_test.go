package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/config"
	"ragkb/internal/adapter/embedding"
	"ragkb/internal/domain"
)

// countingEmbedder records how many texts were embedded.
type countingEmbedder struct {
	*embedding.HashEmbedder
	mu    sync.Mutex
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.texts += len(texts)
	c.mu.Unlock()
	return c.HashEmbedder.Embed(ctx, texts)
}

func (c *countingEmbedder) reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.texts
	c.texts = 0
	return n
}

func TestDenseIndexerIncremental(t *testing.T) {
	for _, backend := range []config.DenseBackend{config.BackendBolt, config.BackendFlat} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(32, "hash-v1")}
			path := config.DenseIndexPath(t.TempDir(), backend)
			require.NoError(t, config.EnsureRAGDir(filepath.Dir(filepath.Dir(path))))

			indexer := NewDenseIndexer(emb, backend, path, 1, 2, nil)
			texts := map[string]string{"a::0": "alpha particles", "b::0": "beta decay", "c::0": "gamma rays"}

			update, err := indexer.BuildOrUpdate(ctx, texts)
			require.NoError(t, err)
			assert.Equal(t, 3, update.Embedded)
			assert.Equal(t, 3, update.Vectors)
			assert.Equal(t, path, update.IndexFile)
			assert.Equal(t, 3, emb.reset())

			update, err = indexer.BuildOrUpdate(ctx, texts)
			require.NoError(t, err)
			assert.Equal(t, 0, update.Embedded)
			assert.Equal(t, 0, emb.reset(), "unchanged texts must not be embedded again")

			delete(texts, "a::0")
			texts["b::0"] = "beta decay of neutrons"
			texts["d::0"] = "delta wing"
			update, err = indexer.BuildOrUpdate(ctx, texts)
			require.NoError(t, err)
			assert.Equal(t, 2, update.Embedded)
			assert.Equal(t, 1, update.Deleted)
			assert.Equal(t, 3, update.Vectors)
		})
	}
}

func TestDenseIndexerModelChangeReembeds(t *testing.T) {
	ctx := context.Background()
	path := config.DenseIndexPath(t.TempDir(), config.BackendBolt)
	require.NoError(t, config.EnsureRAGDir(filepath.Dir(filepath.Dir(path))))
	texts := map[string]string{"a::0": "alpha"}

	_, err := NewDenseIndexer(embedding.NewHashEmbedder(16, "hash-v1"), config.BackendBolt, path, 8, 1, nil).BuildOrUpdate(ctx, texts)
	require.NoError(t, err)

	update, err := NewDenseIndexer(embedding.NewHashEmbedder(16, "hash-v2"), config.BackendBolt, path, 8, 1, nil).BuildOrUpdate(ctx, texts)
	require.NoError(t, err)
	assert.Equal(t, 1, update.Embedded)
}

func TestDenseIndexerEmbedFailure(t *testing.T) {
	path := config.DenseIndexPath(t.TempDir(), config.BackendBolt)
	require.NoError(t, config.EnsureRAGDir(filepath.Dir(filepath.Dir(path))))

	indexer := NewDenseIndexer(&failingEmbedder{dim: 8, model: "broken"}, config.BackendBolt, path, 1, 2, nil)
	_, err := indexer.BuildOrUpdate(context.Background(), map[string]string{"a": "one", "b": "two", "c": "three"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled), "the embedder error should be reported, got %v", err)
}

func TestDenseIndexerDimensionChangeReembeds(t *testing.T) {
	for _, backend := range []config.DenseBackend{config.BackendBolt, config.BackendFlat} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			path := config.DenseIndexPath(t.TempDir(), backend)
			require.NoError(t, config.EnsureRAGDir(filepath.Dir(filepath.Dir(path))))
			texts := map[string]string{"a::0": "alpha particles", "b::0": "beta decay"}

			_, err := NewDenseIndexer(embedding.NewHashEmbedder(64, "hash-v1"), backend, path, 8, 1, nil).BuildOrUpdate(ctx, texts)
			require.NoError(t, err)

			texts["c::0"] = "gamma rays"
			update, err := NewDenseIndexer(embedding.NewHashEmbedder(128, "hash-v1"), backend, path, 8, 1, nil).BuildOrUpdate(ctx, texts)
			require.NoError(t, err)
			assert.Equal(t, 3, update.Embedded)
			assert.Equal(t, 3, update.Vectors)
		})
	}
}

func TestQueryDenseAfterDimensionChange(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dense := func(dim int) func(*config.Config) {
		return func(c *config.Config) {
			c.Dense.Enabled = true
			c.Dense.Backend = config.BackendFlat
			c.Dense.Dim = dim
		}
	}

	_, err := newTestEngine(t, root, dense(64)).Ingest(ctx, []domain.Source{{ID: "fox", Text: foxText}})
	require.NoError(t, err)

	e := newTestEngine(t, root, dense(128))
	res, err := e.Ingest(ctx, []domain.Source{
		{ID: "fox", Text: foxText},
		{ID: "cats", Text: "Cats sleep most of the day and hunt small birds at night."},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Vectors)

	kb := loadKB(t, e)
	require.NotNil(t, kb.Graph.Dense)
	assert.Equal(t, 128, kb.Graph.Dense.Dim)

	hits, err := e.denseSearch(ctx, kb, "fox")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "fox", hits[0].Chunk.DocID)
}
