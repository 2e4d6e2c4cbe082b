package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/config"
	"ragkb/internal/port"
)

func TestOverlapRerank(t *testing.T) {
	kb := newKB().
		chunk("d", "a", "fox tail").
		chunk("d", "b", "cat whiskers").
		build()

	out := OverlapRerank("fox den", scored(kb, "b", 1.1, "a", 1.0))

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ID)
	assert.InDelta(t, 1.0+OverlapWeight*0.5, out[0].Score, 1e-12)
	assert.InDelta(t, 1.1, out[1].Score, 1e-12)
}

func TestOverlapRerankEmptyPrompt(t *testing.T) {
	kb := newKB().chunk("d", "a", "fox").build()
	out := OverlapRerank("the", scored(kb, "a", 2.0))
	assert.Equal(t, 2.0, out[0].Score)
}

type fakeReranker struct {
	results []port.RerankedResult
	err     error
	got     []string
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, texts []string) ([]port.RerankedResult, error) {
	f.got = texts
	return f.results, f.err
}

func (f *fakeReranker) ModelName() string { return "fake" }

func TestExternalRerank(t *testing.T) {
	kb := newKB().
		chunk("d", "c0", "zero").
		chunk("d", "c1", "one").
		chunk("d", "c2", "two").
		build()
	candidates := scored(kb, "c0", 3.0, "c1", 2.0, "c2", 1.0)

	fake := &fakeReranker{results: []port.RerankedResult{{Index: 1, Score: 0.9}, {Index: 0, Score: 0.1}}}
	out, err := ExternalRerank(context.Background(), fake, "q", candidates, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"zero", "one"}, fake.got, "only the head is sent")
	assert.Equal(t, []string{"c1", "c0", "c2"}, ids(out))
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 1.0, out[2].Score, "tail keeps its score")
}

func TestExternalRerankDroppedAndBogusIndexes(t *testing.T) {
	kb := newKB().
		chunk("d", "c0", "zero").
		chunk("d", "c1", "one").
		chunk("d", "c2", "two").
		build()
	candidates := scored(kb, "c0", 3.0, "c1", 2.0, "c2", 1.0)

	fake := &fakeReranker{results: []port.RerankedResult{{Index: 2, Score: 0.7}, {Index: 7, Score: 0.5}, {Index: 2, Score: 0.1}}}
	out, err := ExternalRerank(context.Background(), fake, "q", candidates, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c0", "c1"}, ids(out))
}

func TestExternalRerankError(t *testing.T) {
	kb := newKB().chunk("d", "c0", "zero").chunk("d", "c1", "one").build()
	candidates := scored(kb, "c0", 3.0, "c1", 2.0)

	boom := errors.New("boom")
	out, err := ExternalRerank(context.Background(), &fakeReranker{err: boom}, "q", candidates, 2)
	require.ErrorIs(t, err, boom)
	assert.True(t, reflect.DeepEqual(candidates, out), "input must be returned unchanged")
}

func TestLexicalReranker(t *testing.T) {
	r := NewLexicalReranker()
	results, err := r.Rerank(context.Background(), "fox den", []string{"cat", "fox den", "fox"})
	require.NoError(t, err)

	order := make([]int, len(results))
	for i, res := range results {
		order[i] = res.Index
	}
	assert.Equal(t, []int{1, 2, 0}, order)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, "lexical-overlap", r.ModelName())
}

func TestCohereReranker(t *testing.T) {
	t.Setenv("TEST_COHERE_KEY", "secret")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req cohereRerankRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is a fox", req.Query)
		assert.Len(t, req.Documents, 2)

		_ = json.NewEncoder(w).Encode(cohereRerankResponse{Results: []cohereRerankResult{
			{Index: 1, RelevanceScore: 0.2},
			{Index: 0, RelevanceScore: 0.8},
		}})
	}))
	defer server.Close()

	r, err := NewCohereReranker("TEST_COHERE_KEY", "", server.URL)
	require.NoError(t, err)
	assert.Equal(t, "rerank-english-v3.0", r.ModelName())

	results, err := r.Rerank(context.Background(), "what is a fox", []string{"a fox is an animal", "bread"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 0.8, results[0].Score)
}

func TestCohereRerankerErrors(t *testing.T) {
	_, err := NewCohereReranker("TEST_COHERE_KEY_UNSET", "", "")
	assert.Error(t, err)

	t.Setenv("TEST_COHERE_KEY", "secret")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r, err := NewCohereReranker("TEST_COHERE_KEY", "", server.URL)
	require.NoError(t, err)
	_, err = r.Rerank(context.Background(), "q", []string{"doc"})
	assert.ErrorContains(t, err, "503")
}

func TestNewReranker(t *testing.T) {
	r, err := NewReranker(config.RerankConfig{Provider: config.RerankLexical})
	require.NoError(t, err)
	assert.Equal(t, "lexical-overlap", r.ModelName())

	_, err = NewReranker(config.RerankConfig{Provider: "mystery"})
	assert.Error(t, err)
}
