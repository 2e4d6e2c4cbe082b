package usecase

import (
	"strings"
	"unicode/utf8"

	"ragkb/internal/domain"
)

const contextSeparator = "\n\n"

// Assemble joins the contents of the first limit candidates, separated by
// a blank line, into at most maxChars runes. The chunk that crosses the
// budget is truncated and ends the context. Every chunk that contributed
// text gets a source reference.
func Assemble(candidates []domain.ScoredChunk, limit, maxChars int) (string, []domain.SourceRef) {
	var b strings.Builder
	sources := make([]domain.SourceRef, 0, limit)
	used := 0
	sepLen := utf8.RuneCountInString(contextSeparator)

	for _, c := range candidates {
		if len(sources) == limit {
			break
		}

		sep := 0
		if len(sources) > 0 {
			sep = sepLen
		}
		remaining := maxChars - used - sep
		if remaining <= 0 {
			break
		}

		content := c.Chunk.Content
		truncated := false
		if utf8.RuneCountInString(content) > remaining {
			content = string([]rune(content)[:remaining])
			truncated = true
		}

		if sep > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(content)
		used += sep + utf8.RuneCountInString(content)

		sources = append(sources, domain.SourceRef{
			Rank:      len(sources) + 1,
			ChunkID:   c.Chunk.ID,
			DocID:     c.Chunk.DocID,
			Source:    c.Chunk.Source,
			Kind:      c.Chunk.Kind,
			Offset:    c.Chunk.Offset,
			Score:     c.Score,
			Meta:      cloneMeta(c.Chunk.Meta),
			Truncated: truncated,
		})
		if truncated {
			break
		}
	}
	return b.String(), sources
}
