package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"ragkb/internal/domain"
	"ragkb/internal/port"
)

// PropositionChunker emits one chunk per sentence or bullet.
type PropositionChunker struct {
	minChars  int
	tokenizer port.Tokenizer
}

func NewPropositionChunker(minChars int, tokenizer port.Tokenizer) *PropositionChunker {
	return &PropositionChunker{minChars: minChars, tokenizer: tokenizer}
}

func (c *PropositionChunker) Chunk(doc *domain.Document, content string) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for _, u := range SplitUnits(content) {
		if runeLen(u.Text) < c.minChars {
			continue
		}
		chunks = append(chunks, newChunk(doc, ChunkID(doc.ID, u.Offset), doc.Kind, u.Text, u.Offset, nil, c.tokenizer))
	}
	return chunks, nil
}

// Unit is a trimmed sentence or bullet with its byte offset in the source text.
type Unit struct {
	Text   string
	Offset int
}

// SplitUnits splits text at sentence terminators followed by whitespace,
// at newlines and at bullet markers. Leading list markers ("-", "*", "•",
// "1.") are dropped from each line.
func SplitUnits(text string) []Unit {
	var units []Unit
	lineStart := 0
	for {
		lineEnd := len(text)
		if idx := strings.IndexByte(text[lineStart:], '\n'); idx >= 0 {
			lineEnd = lineStart + idx
		}
		units = appendSentences(units, text[lineStart:lineEnd], lineStart)
		if lineEnd == len(text) {
			return units
		}
		lineStart = lineEnd + 1
	}
}

func appendSentences(units []Unit, line string, base int) []Unit {
	i := len(line) - len(strings.TrimLeftFunc(line, unicode.IsSpace))
	i += bulletLen(line[i:])

	start := i
	for pos := i; pos < len(line); {
		r, size := utf8.DecodeRuneInString(line[pos:])
		switch {
		case r == '•':
			units = appendUnit(units, line[start:pos], base+start)
			start = pos + size
		case r == '.' || r == '!' || r == '?':
			next := pos + size
			if next == len(line) || isBlank(line[next]) {
				units = appendUnit(units, line[start:next], base+start)
				start = next
			}
		}
		pos += size
	}
	return appendUnit(units, line[start:], base+start)
}

func appendUnit(units []Unit, seg string, segOffset int) []Unit {
	trimmed := strings.TrimSpace(seg)
	if trimmed == "" {
		return units
	}
	lead := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
	return append(units, Unit{Text: trimmed, Offset: segOffset + lead})
}

// bulletLen returns the byte length of a leading list marker and its space.
func bulletLen(s string) int {
	for _, marker := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(s, marker) {
			return len(marker)
		}
	}
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits+1 < len(s) && (s[digits] == '.' || s[digits] == ')') && isBlank(s[digits+1]) {
		return digits + 2
	}
	return 0
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r'
}
