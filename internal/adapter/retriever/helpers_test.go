package retriever

import (
	"ragkb/internal/adapter/analyzer"
	"ragkb/internal/domain"
)

// kbBuilder assembles small knowledge bases for scoring tests.
type kbBuilder struct {
	kb *domain.KnowledgeBase
}

func newKB() *kbBuilder {
	return &kbBuilder{kb: domain.NewKnowledgeBase()}
}

func (b *kbBuilder) chunk(docID, id, text string) *kbBuilder {
	return b.add(docID, id, domain.KindText, text)
}

func (b *kbBuilder) summary(docID, text string) *kbBuilder {
	b.add(docID, docID+domain.SummarySuffix, domain.KindSummary, text)
	b.kb.Docs[docID].SummaryChunkID = docID + domain.SummarySuffix
	return b
}

func (b *kbBuilder) add(docID, id, kind, text string) *kbBuilder {
	tokens := analyzer.Tokenize(text)
	b.kb.Chunks[id] = &domain.Chunk{
		ID:              id,
		DocID:           docID,
		Source:          docID + ".txt",
		Kind:            kind,
		Content:         text,
		Meta:            map[string]any{},
		Length:          len(tokens),
		TermFrequencies: analyzer.TermFrequencies(tokens),
	}
	doc, ok := b.kb.Docs[docID]
	if !ok {
		doc = &domain.Document{ID: docID, Source: docID + ".txt", Kind: domain.KindText}
		b.kb.Docs[docID] = doc
	}
	if kind != domain.KindSummary {
		doc.ChunkIDs = append(doc.ChunkIDs, id)
	}
	return b
}

func (b *kbBuilder) build() *domain.KnowledgeBase {
	b.kb.RecomputeStats()
	return b.kb
}

func ids(results []domain.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func scored(kb *domain.KnowledgeBase, pairs ...any) []domain.ScoredChunk {
	var out []domain.ScoredChunk
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.ScoredChunk{Chunk: kb.Chunks[pairs[i].(string)], Score: pairs[i+1].(float64)})
	}
	return out
}
