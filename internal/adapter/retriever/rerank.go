package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"ragkb/config"
	"ragkb/internal/adapter/analyzer"
	"ragkb/internal/domain"
	"ragkb/internal/port"
)

// OverlapWeight scales the query-term coverage bonus.
const OverlapWeight = 0.25

// OverlapRerank adds OverlapWeight * |Q ∩ C| / |Q| to each candidate, where
// Q is the prompt's term set and C the chunk's, and re-sorts.
func OverlapRerank(prompt string, candidates []domain.ScoredChunk) []domain.ScoredChunk {
	query := analyzer.Unique(analyzer.Tokenize(prompt))
	out := make([]domain.ScoredChunk, len(candidates))
	for i, c := range candidates {
		out[i] = domain.ScoredChunk{Chunk: c.Chunk, Score: c.Score + OverlapWeight*coverage(query, c.Chunk.TermFrequencies)}
	}
	SortScored(out)
	return out
}

func coverage(query []string, tf map[string]int) float64 {
	if len(query) == 0 {
		return 0
	}
	matches := 0
	for _, term := range query {
		if tf[term] > 0 {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

// ExternalRerank sends the first topK candidates to the reranker and puts
// its order in front of the untouched remainder. On error the input is
// returned unchanged together with the error.
func ExternalRerank(ctx context.Context, reranker port.Reranker, query string, candidates []domain.ScoredChunk, topK int) ([]domain.ScoredChunk, error) {
	if reranker == nil || len(candidates) == 0 || topK <= 0 {
		return candidates, nil
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}

	head := candidates[:topK]
	texts := make([]string, len(head))
	for i, c := range head {
		texts[i] = c.Chunk.Content
	}

	reranked, err := reranker.Rerank(ctx, query, texts)
	if err != nil {
		return candidates, fmt.Errorf("rerank with %s: %w", reranker.ModelName(), err)
	}

	out := make([]domain.ScoredChunk, 0, len(candidates))
	used := make(map[int]bool, len(head))
	for _, r := range reranked {
		if r.Index < 0 || r.Index >= len(head) || used[r.Index] {
			continue
		}
		used[r.Index] = true
		out = append(out, domain.ScoredChunk{Chunk: head[r.Index].Chunk, Score: r.Score})
	}
	// candidates the reranker dropped keep their relative order
	for i, c := range head {
		if !used[i] {
			out = append(out, c)
		}
	}
	return append(out, candidates[topK:]...), nil
}

// NewReranker builds the reranker selected by configuration.
func NewReranker(cfg config.RerankConfig) (port.Reranker, error) {
	switch cfg.Provider {
	case config.RerankLexical:
		return NewLexicalReranker(), nil
	case config.RerankCohere:
		return NewCohereReranker(cfg.APIKeyEnv, cfg.Model, "")
	}
	return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
}

// LexicalReranker scores by query-term coverage. It is deterministic and offline.
type LexicalReranker struct{}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

func (r *LexicalReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := analyzer.Unique(analyzer.Tokenize(query))

	results := make([]port.RerankedResult, len(documents))
	for i, doc := range documents {
		tf := analyzer.TermFrequencies(analyzer.Tokenize(doc))
		results[i] = port.RerankedResult{Index: i, Score: coverage(terms, tf)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (r *LexicalReranker) ModelName() string {
	return "lexical-overlap"
}

const defaultCohereURL = "https://api.cohere.ai/v1/rerank"

// CohereReranker implements cross-encoder reranking using Cohere's API.
type CohereReranker struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// NewCohereReranker reads the API key from apiKeyEnv. An empty endpoint uses Cohere's public API.
func NewCohereReranker(apiKeyEnv, model, endpoint string) (*CohereReranker, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "rerank-english-v3.0"
	}
	if endpoint == "" {
		endpoint = defaultCohereURL
	}

	return &CohereReranker{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
	}, nil
}

func (r *CohereReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	// Cohere has a limit of 1000 documents per request
	const maxDocs = 1000
	if len(documents) > maxDocs {
		documents = documents[:maxDocs]
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(cohereRerankRequest{Query: query, Documents: documents, Model: r.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var rerankResp cohereRerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]port.RerankedResult, len(rerankResp.Results))
	for i, res := range rerankResp.Results {
		results[i] = port.RerankedResult{Index: res.Index, Score: res.RelevanceScore}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (r *CohereReranker) ModelName() string {
	return r.model
}
