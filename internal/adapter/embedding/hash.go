package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"ragkb/internal/adapter/analyzer"
)

// HashEmbedder is an offline embedder based on feature hashing: every
// token is hashed into a signed bucket and the result is normalized.
// Texts sharing terms get positive cosine similarity.
type HashEmbedder struct {
	dimension int
	model     string
}

func NewHashEmbedder(dimension int, model string) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	if model == "" {
		model = "hash-v1"
	}
	return &HashEmbedder{dimension: dimension, model: model}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, tok := range analyzer.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(e.dimension))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares > 0 {
		norm := float32(1 / math.Sqrt(sumSquares))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return e.model
}
