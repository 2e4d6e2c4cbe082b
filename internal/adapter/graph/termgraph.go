// Package graph builds the term co-occurrence graph used for query expansion.
package graph

import (
	"sort"

	"ragkb/internal/domain"
)

// Builder computes co-occurrence adjacency over non-summary chunks.
type Builder struct {
	termsPerChunk int
	neighbors     int
}

func NewBuilder(termsPerChunk, neighbors int) *Builder {
	if termsPerChunk <= 0 {
		termsPerChunk = 24
	}
	if neighbors <= 0 {
		neighbors = 8
	}
	return &Builder{termsPerChunk: termsPerChunk, neighbors: neighbors}
}

// Build returns, for every term, its most frequent co-occurring terms.
// Each chunk contributes its top terms by frequency; every pair of those
// terms co-occurs once per chunk.
func (b *Builder) Build(kb *domain.KnowledgeBase) map[string][]domain.Neighbor {
	counts := make(map[string]map[string]int)

	for _, id := range kb.SortedChunkIDs() {
		chunk := kb.Chunks[id]
		if chunk.IsSummary() {
			continue
		}
		vocab := topTerms(chunk.TermFrequencies, b.termsPerChunk)
		for i := 0; i < len(vocab); i++ {
			for j := i + 1; j < len(vocab); j++ {
				bump(counts, vocab[i], vocab[j])
				bump(counts, vocab[j], vocab[i])
			}
		}
	}

	adjacency := make(map[string][]domain.Neighbor, len(counts))
	for term, row := range counts {
		list := make([]domain.Neighbor, 0, len(row))
		for other, n := range row {
			list = append(list, domain.Neighbor{Term: other, Count: n})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Count != list[j].Count {
				return list[i].Count > list[j].Count
			}
			return list[i].Term < list[j].Term
		})
		if len(list) > b.neighbors {
			list = list[:b.neighbors]
		}
		adjacency[term] = list
	}
	return adjacency
}

// Neighbors returns up to k neighbor terms of term, strongest first.
func Neighbors(adjacency map[string][]domain.Neighbor, term string, k int) []string {
	list := adjacency[term]
	if k < len(list) {
		list = list[:k]
	}
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.Term
	}
	return out
}

func topTerms(tf map[string]int, limit int) []string {
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if tf[terms[i]] != tf[terms[j]] {
			return tf[terms[i]] > tf[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

func bump(counts map[string]map[string]int, a, b string) {
	row := counts[a]
	if row == nil {
		row = make(map[string]int)
		counts[a] = row
	}
	row[b]++
}
