// Package retriever implements lexical scoring, query planning and the
// corrective, fusion and rerank stages of the query pipeline.
package retriever

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"ragkb/internal/adapter/analyzer"
	"ragkb/internal/domain"
)

// shardSize is the smallest number of chunks worth a goroutine of its own.
const shardSize = 512

type BM25Params struct {
	K1 float64
	B  float64
}

// Filter selects the chunks a scoring pass considers. Nil means all.
type Filter func(*domain.Chunk) bool

// OnlySummaries selects summary chunks.
func OnlySummaries(c *domain.Chunk) bool { return c.IsSummary() }

// Scorer ranks the chunks of one knowledge base with BM25.
type Scorer struct {
	kb     *domain.KnowledgeBase
	ids    []string
	params BM25Params
}

func NewScorer(kb *domain.KnowledgeBase, params BM25Params) *Scorer {
	return &Scorer{kb: kb, ids: kb.SortedChunkIDs(), params: params}
}

// Score returns every chunk with a positive score for the unique terms,
// sorted by score descending then chunk id ascending.
func (s *Scorer) Score(ctx context.Context, terms []string, filter Filter) ([]domain.ScoredChunk, error) {
	terms = analyzer.Unique(terms)
	if len(terms) == 0 || len(s.ids) == 0 {
		return nil, nil
	}

	// summed in query order so scores are reproducible bit for bit
	idf := make([]termWeight, 0, len(terms))
	n := float64(s.kb.BM25.ChunkCount)
	for _, term := range terms {
		df := s.kb.BM25.DocumentFrequencies[term]
		if df <= 0 {
			continue
		}
		idf = append(idf, termWeight{term: term, idf: math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))})
	}
	if len(idf) == 0 {
		return nil, nil
	}

	avgdl := s.kb.BM25.AvgDL
	if avgdl <= 0 {
		avgdl = 1
	}

	shards := (len(s.ids) + shardSize - 1) / shardSize
	if procs := runtime.GOMAXPROCS(0); shards > procs {
		shards = procs
	}
	per := (len(s.ids) + shards - 1) / shards
	partial := make([][]domain.ScoredChunk, shards)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < shards; i++ {
		i := i
		lo, hi := i*per, (i+1)*per
		if hi > len(s.ids) {
			hi = len(s.ids)
		}
		if lo > hi {
			lo = hi
		}
		g.Go(func() error {
			var out []domain.ScoredChunk
			for _, id := range s.ids[lo:hi] {
				if err := ctx.Err(); err != nil {
					return err
				}
				chunk := s.kb.Chunks[id]
				if chunk.Length <= 0 || (filter != nil && !filter(chunk)) {
					continue
				}
				if score := s.scoreChunk(chunk, idf, avgdl); score > 0 {
					out = append(out, domain.ScoredChunk{Chunk: chunk, Score: score})
				}
			}
			partial[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []domain.ScoredChunk
	for _, p := range partial {
		results = append(results, p...)
	}
	SortScored(results)
	return results, nil
}

type termWeight struct {
	term string
	idf  float64
}

func (s *Scorer) scoreChunk(chunk *domain.Chunk, idf []termWeight, avgdl float64) float64 {
	dl := float64(chunk.Length)
	score := 0.0
	for _, w := range idf {
		tf := float64(chunk.TermFrequencies[w.term])
		if tf == 0 {
			continue
		}
		score += termScore(w.idf, tf, dl, avgdl, s.params)
	}
	return score
}

func termScore(idf, tf, dl, avgdl float64, p BM25Params) float64 {
	return idf * (tf * (p.K1 + 1)) / (tf + p.K1*(1-p.B+p.B*dl/avgdl))
}

// ScoreQueries scores every query and keeps the best score per chunk,
// scaled by multiplier.
func (s *Scorer) ScoreQueries(ctx context.Context, queries []string, multiplier float64, filter Filter) (map[string]float64, error) {
	best := make(map[string]float64)
	for _, q := range queries {
		results, err := s.Score(ctx, analyzer.Tokenize(q), filter)
		if err != nil {
			return nil, err
		}
		MaxMerge(best, results, multiplier)
	}
	return best, nil
}

// MaxMerge folds results into scores, keeping the larger value per chunk.
func MaxMerge(scores map[string]float64, results []domain.ScoredChunk, multiplier float64) {
	for _, r := range results {
		v := r.Score * multiplier
		if cur, ok := scores[r.Chunk.ID]; !ok || v > cur {
			scores[r.Chunk.ID] = v
		}
	}
}

// Ranked turns a score map into a sorted slice of chunks present in kb.
func Ranked(kb *domain.KnowledgeBase, scores map[string]float64) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		if chunk, ok := kb.Chunks[id]; ok {
			out = append(out, domain.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	SortScored(out)
	return out
}

// SortScored orders by score descending, chunk id ascending.
func SortScored(results []domain.ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
