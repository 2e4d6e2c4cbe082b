package retriever

import (
	"context"

	"ragkb/internal/domain"
)

// SiblingDecay scales a summary's score before it is given to its document's chunks.
const SiblingDecay = 0.85

// SummaryBoost scores summary chunks against queries and lifts the chunks
// of the topK best-matching documents to at least SiblingDecay times their
// summary's score. It reports whether any summary matched.
func SummaryBoost(ctx context.Context, scorer *Scorer, kb *domain.KnowledgeBase, queries []string, topK int, scores map[string]float64) (bool, error) {
	if topK <= 0 || !kb.HasSummaries() {
		return false, nil
	}

	summaryScores, err := scorer.ScoreQueries(ctx, queries, 1, OnlySummaries)
	if err != nil {
		return false, err
	}
	ranked := Ranked(kb, summaryScores)
	if len(ranked) == 0 {
		return false, nil
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	for _, summary := range ranked {
		doc, ok := kb.Docs[summary.Chunk.DocID]
		if !ok {
			continue
		}
		boost := SiblingDecay * summary.Score
		for _, id := range doc.ChunkIDs {
			if cur, ok := scores[id]; !ok || boost > cur {
				scores[id] = boost
			}
		}
	}
	return true, nil
}
