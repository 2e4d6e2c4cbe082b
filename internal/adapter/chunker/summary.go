package chunker

import (
	"strings"

	"ragkb/internal/domain"
	"ragkb/internal/port"
)

// Summarizer builds an extractive summary from a document's leading units.
type Summarizer struct {
	minChars  int
	maxChars  int
	tokenizer port.Tokenizer
}

func NewSummarizer(minChars, maxChars int, tokenizer port.Tokenizer) *Summarizer {
	return &Summarizer{minChars: minChars, maxChars: maxChars, tokenizer: tokenizer}
}

// Summarize returns the summary text, or "" when content has no units.
// Units are taken while the summary stays within maxChars and until it
// reaches minChars. A first unit longer than maxChars is cut.
func (s *Summarizer) Summarize(content string) string {
	units := SplitUnits(content)
	if len(units) == 0 {
		return ""
	}

	first := []rune(units[0].Text)
	if len(first) > s.maxChars {
		return strings.TrimSpace(string(first[:s.maxChars]))
	}

	var b strings.Builder
	size := 0
	for _, u := range units {
		n := runeLen(u.Text)
		if size > 0 {
			n++ // joining space
		}
		if size+n > s.maxChars {
			break
		}
		if size > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(u.Text)
		size += n
		if size >= s.minChars {
			break
		}
	}
	return b.String()
}

// SummaryChunk wraps the summary of content as the document's summary chunk.
// It returns nil when there is nothing to summarize.
func (s *Summarizer) SummaryChunk(doc *domain.Document, content string) *domain.Chunk {
	text := s.Summarize(content)
	if text == "" {
		return nil
	}
	meta := map[string]any{"summary": true}
	return newChunk(doc, SummaryID(doc.ID), domain.KindSummary, text, 0, meta, s.tokenizer)
}
