package chunker

import (
	"encoding/csv"
	"fmt"
	"strings"

	"ragkb/internal/domain"
	"ragkb/internal/port"
)

// TabularChunker renders each data row of a delimited file as
// "key: value | key: value". The first row is the header.
type TabularChunker struct {
	delimiter rune
	minChars  int
	tokenizer port.Tokenizer
}

func NewTabularChunker(delimiter rune, minChars int, tokenizer port.Tokenizer) *TabularChunker {
	if delimiter == 0 {
		delimiter = ','
	}
	return &TabularChunker{delimiter: delimiter, minChars: minChars, tokenizer: tokenizer}
}

// MinRowChars is the shortest rendered row kept. Rows are terse, so the
// text threshold is relaxed to a quarter.
func (c *TabularChunker) MinRowChars() int {
	if m := c.minChars / 4; m > 1 {
		return m
	}
	return 1
}

// Chunk emits one csv-row chunk per data row; offset is the 0-based data row index.
func (c *TabularChunker) Chunk(doc *domain.Document, content string) ([]*domain.Chunk, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = c.delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s rows of %s: %w", doc.Kind, doc.ID, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	minChars := c.MinRowChars()

	var chunks []*domain.Chunk
	for row, record := range records[1:] {
		text := renderRow(header, record)
		if runeLen(text) < minChars {
			continue
		}
		meta := map[string]any{"row": row}
		chunks = append(chunks, newChunk(doc, ChunkID(doc.ID, row), domain.KindCSVRow, text, row, meta, c.tokenizer))
	}
	return chunks, nil
}

func renderRow(header, record []string) string {
	parts := make([]string, 0, len(record))
	for i, cell := range record {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		key := ""
		if i < len(header) {
			key = strings.TrimSpace(header[i])
		}
		if key == "" {
			key = fmt.Sprintf("column_%d", i+1)
		}
		parts = append(parts, key+": "+cell)
	}
	return strings.Join(parts, " | ")
}
