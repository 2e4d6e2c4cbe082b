package retriever

import (
	"ragkb/config"
	"ragkb/internal/domain"
)

type FusionParams struct {
	Mode          config.FusionMode
	RRFK          int
	LexicalWeight float64
	DenseWeight   float64
}

// Fuse merges the lexical and dense rankings, both sorted best first.
func Fuse(lexical, dense []domain.ScoredChunk, p FusionParams) []domain.ScoredChunk {
	switch p.Mode {
	case config.FusionRRF:
		return rrfFuse(lexical, dense, p)
	case config.FusionWeighted:
		return weightedFuse(lexical, dense, p)
	default:
		src := lexical
		if len(src) == 0 {
			src = dense
		}
		out := append([]domain.ScoredChunk(nil), src...)
		SortScored(out)
		return out
	}
}

// rrfFuse combines results using Reciprocal Rank Fusion.
// RRF score = Σ w/(k + rank) for each result list where the chunk appears.
func rrfFuse(lexical, dense []domain.ScoredChunk, p FusionParams) []domain.ScoredChunk {
	k := p.RRFK
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	chunkMap := make(map[string]*domain.Chunk)

	for rank, r := range lexical {
		scores[r.Chunk.ID] += p.LexicalWeight / float64(k+rank+1)
		chunkMap[r.Chunk.ID] = r.Chunk
	}
	for rank, r := range dense {
		scores[r.Chunk.ID] += p.DenseWeight / float64(k+rank+1)
		chunkMap[r.Chunk.ID] = r.Chunk
	}
	return collect(scores, chunkMap)
}

func weightedFuse(lexical, dense []domain.ScoredChunk, p FusionParams) []domain.ScoredChunk {
	scores := make(map[string]float64)
	chunkMap := make(map[string]*domain.Chunk)

	for _, r := range lexical {
		scores[r.Chunk.ID] += p.LexicalWeight * r.Score
		chunkMap[r.Chunk.ID] = r.Chunk
	}
	for _, r := range dense {
		scores[r.Chunk.ID] += p.DenseWeight * r.Score
		chunkMap[r.Chunk.ID] = r.Chunk
	}
	return collect(scores, chunkMap)
}

func collect(scores map[string]float64, chunkMap map[string]*domain.Chunk) []domain.ScoredChunk {
	fused := make([]domain.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, domain.ScoredChunk{Chunk: chunkMap[id], Score: score})
	}
	SortScored(fused)
	return fused
}

// Candidates keeps the first k fused results, skipping summary chunks
// unless includeSummaries is set.
func Candidates(fused []domain.ScoredChunk, k int, includeSummaries bool) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, k)
	for _, r := range fused {
		if len(out) == k {
			break
		}
		if r.Chunk.IsSummary() && !includeSummaries {
			continue
		}
		out = append(out, r)
	}
	return out
}
