package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"ragkb/internal/port"
)

// FlatVectorStore keeps every vector in one JSON file, rewritten on Close.
type FlatVectorStore struct {
	path      string
	dimension int
	readOnly  bool
	dirty     bool
	mu        sync.RWMutex
	vectors   map[string]vectorEntry
}

type flatFile struct {
	Dim     int                     `json:"dim"`
	Vectors map[string]storedVector `json:"vectors"`
}

// OpenFlatVectorStore loads path if it exists. A read-only store requires the file.
func OpenFlatVectorStore(path string, dimension int, readOnly bool) (*FlatVectorStore, error) {
	s := &FlatVectorStore{
		path:      path,
		dimension: dimension,
		readOnly:  readOnly,
		vectors:   make(map[string]vectorEntry),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && !readOnly:
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to open dense index: %w", err)
	}

	var file flatFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode dense index: %w", err)
	}
	if file.Dim != 0 && file.Dim != dimension && readOnly {
		return nil, fmt.Errorf("dense index dimension mismatch: file has %d, expected %d", file.Dim, dimension)
	}
	// vectors of another dimension are dropped and rewritten on Close
	for id, v := range file.Vectors {
		if len(v.Vector) != dimension {
			s.dirty = !readOnly
			continue
		}
		s.vectors[id] = vectorEntry{vector: v.Vector, textHash: v.TextHash}
	}
	if file.Dim != dimension && !readOnly {
		s.dirty = true
	}
	return s, nil
}

func (s *FlatVectorStore) Upsert(items []port.VectorItem) error {
	if s.readOnly {
		return fmt.Errorf("dense index opened read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if len(item.Vector) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(item.Vector))
		}
	}
	for _, item := range items {
		s.vectors[item.ID] = vectorEntry{vector: item.Vector, textHash: item.TextHash}
	}
	s.dirty = s.dirty || len(items) > 0
	return nil
}

func (s *FlatVectorStore) Search(query []float32, k int) ([]port.VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}
	return searchEntries(s.vectors, query, k), nil
}

func (s *FlatVectorStore) Delete(ids []string) error {
	if s.readOnly {
		return fmt.Errorf("dense index opened read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.vectors[id]; ok {
			delete(s.vectors, id)
			s.dirty = true
		}
	}
	return nil
}

func (s *FlatVectorStore) Hashes() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryHashes(s.vectors), nil
}

func (s *FlatVectorStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

// Close writes pending changes atomically.
func (s *FlatVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	if s.readOnly || (!s.dirty && statErr == nil) {
		return nil
	}

	file := flatFile{Dim: s.dimension, Vectors: make(map[string]storedVector, len(s.vectors))}
	for id, e := range s.vectors {
		file.Vectors[id] = storedVector{Vector: e.vector, TextHash: e.textHash}
	}
	data, err := json.Marshal(file)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save dense index: %w", err)
	}
	s.dirty = false
	return nil
}
