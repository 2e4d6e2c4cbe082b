package port

import "context"

// Reranker scores query-document pairs for relevance.
type Reranker interface {
	// Rerank scores and reorders chunks based on query relevance.
	// Returns results sorted by relevance score (highest first).
	Rerank(ctx context.Context, query string, chunkTexts []string) ([]RerankedResult, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}

// RerankedResult represents a reranked document.
type RerankedResult struct {
	Index int     // Original index in the input slice
	Score float64 // Relevance score (higher is better)
}
