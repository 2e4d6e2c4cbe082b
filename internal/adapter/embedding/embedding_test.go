package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/config"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64, "")
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"the fox runs fast", "kernel panic"})
	require.NoError(t, err)
	second, err := e.Embed(ctx, []string{"the fox runs fast", "kernel panic"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first[0], 64)
	assert.Equal(t, "hash-v1", e.ModelName())
	assert.InDelta(t, 1.0, cosine(first[0], first[0]), 1e-6)
}

func TestHashEmbedder_SharedTermsAreCloser(t *testing.T) {
	e := NewHashEmbedder(256, "hash-v1")

	vecs, err := e.Embed(context.Background(), []string{
		"fox runs through the forest",
		"the fox runs",
		"quarterly revenue report",
	})
	require.NoError(t, err)

	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	vecs, err := NewHashEmbedder(8, "").Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
}

func TestHashEmbedder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8, "").Embed(ctx, []string{"x y"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{}
		// answer out of order to exercise index placement
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: []float32{float32(i), 1, 0}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "sk-test")
	e, err := NewOpenAIEmbedder("TEST_EMBED_KEY", "custom-model", srv.URL, 3)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 1, 0}, vecs[0])
	assert.Equal(t, []float32{1, 1, 0}, vecs[1])
	assert.Equal(t, 3, e.Dimension())
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "sk-test")
	e, err := NewOpenAIEmbedder("TEST_EMBED_KEY", "text-embedding-3-small", srv.URL, 3)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())

	_, err = e.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "429")

	_, err = NewOpenAIEmbedder("TEST_EMBED_MISSING_KEY", "m", "", 3)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Dense
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 256, e.Dimension())

	cfg.Provider = "nope"
	_, err = New(cfg)
	assert.Error(t, err)
}
