// Package chunker turns document content into retrievable chunks.
package chunker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ragkb/config"
	"ragkb/internal/adapter/analyzer"
	"ragkb/internal/domain"
	"ragkb/internal/logging"
	"ragkb/internal/port"
)

// Selector dispatches to the tabular chunker for csv/tsv documents and to
// the configured text strategy for everything else.
type Selector struct {
	text      port.Chunker
	fallback  *WindowChunker
	csv       *TabularChunker
	tsv       *TabularChunker
	tokenizer port.Tokenizer
	logger    *zap.Logger
}

// NewSelector builds the chunkers described by the ingest configuration.
func NewSelector(cfg config.IngestConfig, tokenizer port.Tokenizer, logger *zap.Logger) *Selector {
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer()
	}

	window := NewWindowChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkChars, tokenizer)

	var text port.Chunker = window
	if cfg.Strategy == config.StrategyProposition {
		text = NewPropositionChunker(cfg.MinChunkChars, tokenizer)
	}

	return &Selector{
		text:      text,
		fallback:  window,
		csv:       NewTabularChunker(',', cfg.MinChunkChars, tokenizer),
		tsv:       NewTabularChunker('\t', cfg.MinChunkChars, tokenizer),
		tokenizer: tokenizer,
		logger:    logging.Component(logger, "chunker"),
	}
}

// Chunk implements port.Chunker. A tabular document that cannot be parsed
// is chunked as plain text.
func (s *Selector) Chunk(doc *domain.Document, content string) ([]*domain.Chunk, error) {
	var tab *TabularChunker
	switch doc.Kind {
	case domain.KindCSV:
		tab = s.csv
	case domain.KindTSV:
		tab = s.tsv
	}
	if tab == nil {
		return s.text.Chunk(doc, content)
	}

	chunks, err := tab.Chunk(doc, content)
	if err != nil {
		s.logger.Warn("tabular parse failed, using window chunking",
			zap.String("doc_id", doc.ID), zap.Error(err))
		return s.fallback.Chunk(doc, content)
	}
	return chunks, nil
}

// ChunkID is the stable id of the chunk at offset within a document.
func ChunkID(docID string, offset int) string {
	return fmt.Sprintf("%s::%d", docID, offset)
}

// SummaryID is the id of a document's summary chunk.
func SummaryID(docID string) string {
	return docID + domain.SummarySuffix
}

func newChunk(doc *domain.Document, id, kind, content string, offset int, meta map[string]any, tokenizer port.Tokenizer) *domain.Chunk {
	tokens := tokenizer.Tokenize(content)
	if meta == nil {
		meta = make(map[string]any)
	}
	return &domain.Chunk{
		ID:              id,
		DocID:           doc.ID,
		Source:          doc.Source,
		Kind:            kind,
		Content:         content,
		Offset:          offset,
		Meta:            meta,
		Length:          len(tokens),
		TermFrequencies: analyzer.TermFrequencies(tokens),
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}

func trimmedLen(s string) int {
	return runeLen(strings.TrimSpace(s))
}
