package chunker

import (
	"strings"
	"unicode/utf8"

	"ragkb/internal/domain"
	"ragkb/internal/port"
)

// WindowChunker cuts fixed-size character windows with overlap.
type WindowChunker struct {
	size      int
	overlap   int
	minChars  int
	tokenizer port.Tokenizer
}

func NewWindowChunker(size, overlap, minChars int, tokenizer port.Tokenizer) *WindowChunker {
	if size <= 0 {
		size = 1
	}
	return &WindowChunker{
		size:      size,
		overlap:   overlap,
		minChars:  minChars,
		tokenizer: tokenizer,
	}
}

// Chunk emits one chunk per window whose trimmed text reaches minChars.
// Offsets are byte offsets of the window start in content.
func (c *WindowChunker) Chunk(doc *domain.Document, content string) ([]*domain.Chunk, error) {
	if content == "" {
		return nil, nil
	}

	// byteAt[i] is the byte offset of rune i; the final entry is len(content).
	byteAt := make([]int, 0, utf8.RuneCountInString(content)+1)
	for i := range content {
		byteAt = append(byteAt, i)
	}
	n := len(byteAt)
	byteAt = append(byteAt, len(content))

	step := c.size - c.overlap
	if step < 1 {
		step = 1
	}

	var chunks []*domain.Chunk
	for start := 0; start < n; start += step {
		end := start + c.size
		if end > n {
			end = n
		}

		window := strings.TrimSpace(content[byteAt[start]:byteAt[end]])
		if window != "" && runeLen(window) >= c.minChars {
			offset := byteAt[start]
			chunks = append(chunks, newChunk(doc, ChunkID(doc.ID, offset), doc.Kind, window, offset, nil, c.tokenizer))
		}

		if end == n {
			break
		}
	}

	return chunks, nil
}
