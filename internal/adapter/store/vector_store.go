package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"ragkb/config"
	"ragkb/internal/port"
)

var (
	bucketVectors = []byte("vectors")
)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Uses brute-force search; vectors are cached in memory.
type BoltVectorStore struct {
	db        *bbolt.DB
	dimension int
	readOnly  bool
	mu        sync.RWMutex
	vectors   map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	textHash string
}

type storedVector struct {
	Vector   []float32 `json:"v"`
	TextHash string    `json:"h,omitempty"`
}

// OpenBoltVectorStore opens or creates the dense index at path. A read-only
// store takes a shared lock and fails if the file does not exist.
func OpenBoltVectorStore(path string, dimension int, readOnly bool) (*BoltVectorStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open dense index: %w", err)
	}

	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketVectors)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create vectors bucket: %w", err)
		}
	}

	store := &BoltVectorStore{
		db:        db,
		dimension: dimension,
		readOnly:  readOnly,
		vectors:   make(map[string]vectorEntry),
	}

	if err := store.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return store, nil
}

// loadVectors caches the stored vectors. Vectors of another dimension are
// skipped, and removed from the file when the store is writable.
func (s *BoltVectorStore) loadVectors() error {
	var mismatched [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // skip corrupted entries; they are re-embedded on the next ingest
			}
			if len(stored.Vector) != s.dimension {
				mismatched = append(mismatched, append([]byte(nil), k...))
				return nil
			}
			s.vectors[string(k)] = vectorEntry{vector: stored.Vector, textHash: stored.TextHash}
			return nil
		})
	})
	if err != nil || s.readOnly || len(mismatched) == 0 {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for _, k := range mismatched {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Upsert adds or updates vectors in the store.
func (s *BoltVectorStore) Upsert(items []port.VectorItem) error {
	if s.readOnly {
		return fmt.Errorf("dense index opened read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return fmt.Errorf("vectors bucket not found")
		}

		for _, item := range items {
			if len(item.Vector) != s.dimension {
				return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(item.Vector))
			}

			data, err := json.Marshal(storedVector{Vector: item.Vector, TextHash: item.TextHash})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}

			s.vectors[item.ID] = vectorEntry{vector: item.Vector, textHash: item.TextHash}
		}

		return nil
	})
}

// Search finds the k nearest vectors to the query using cosine similarity.
func (s *BoltVectorStore) Search(query []float32, k int) ([]port.VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}
	return searchEntries(s.vectors, query, k), nil
}

// Delete removes vectors by their IDs.
func (s *BoltVectorStore) Delete(ids []string) error {
	if s.readOnly {
		return fmt.Errorf("dense index opened read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}

		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			delete(s.vectors, id)
		}

		return nil
	})
}

func (s *BoltVectorStore) Hashes() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryHashes(s.vectors), nil
}

// Count returns the number of vectors in the store.
func (s *BoltVectorStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *BoltVectorStore) Close() error {
	return s.db.Close()
}

// OpenVectorStore opens the dense index for the configured backend.
func OpenVectorStore(backend config.DenseBackend, path string, dimension int, readOnly bool) (port.VectorStore, error) {
	switch backend {
	case config.BackendFlat:
		return OpenFlatVectorStore(path, dimension, readOnly)
	case config.BackendBolt:
		return OpenBoltVectorStore(path, dimension, readOnly)
	}
	return nil, fmt.Errorf("unknown dense backend %q", backend)
}

// searchEntries ranks entries by cosine similarity, ties broken by id.
func searchEntries(entries map[string]vectorEntry, query []float32, k int) []port.VectorResult {
	if len(entries) == 0 || k <= 0 {
		return nil
	}

	results := make([]port.VectorResult, 0, len(entries))
	for id, entry := range entries {
		results = append(results, port.VectorResult{ID: id, Score: cosineSimilarity(query, entry.vector)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

func entryHashes(entries map[string]vectorEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for id, e := range entries {
		out[id] = e.textHash
	}
	return out
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
