package port

import "ragkb/internal/domain"

// Chunker splits a document's content into scored-ready chunks.
type Chunker interface {
	Chunk(doc *domain.Document, content string) ([]*domain.Chunk, error)
}
