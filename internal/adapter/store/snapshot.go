package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"ragkb/internal/domain"
	"ragkb/internal/logging"
)

// SnapshotStore persists the whole knowledge base as one JSON document.
type SnapshotStore struct {
	path   string
	logger *zap.Logger
}

func NewSnapshotStore(path string, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		path:   path,
		logger: logging.Component(logger, "store"),
	}
}

func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads and migrates the snapshot. A missing or unreadable snapshot
// yields (nil, nil), as does one whose top-level structure cannot be
// decoded. Individual documents, chunks or graph entries that fail to
// decode are dropped and the rest of the snapshot is kept.
func (s *SnapshotStore) Load() (*domain.KnowledgeBase, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("snapshot unreadable, treating as absent", zap.String("path", s.path), zap.Error(err))
		}
		return nil, nil
	}

	kb, dropped, err := decodeSnapshot(data)
	if err != nil {
		s.logger.Warn("snapshot malformed, treating as absent", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}

	result := Migrate(kb)
	result.Repairs = append(dropped, result.Repairs...)
	if result.Changed() {
		s.logger.Info("snapshot migrated on load",
			zap.Int("from_version", result.OldVersion),
			zap.Int("to_version", result.NewVersion),
			zap.Strings("repairs", result.Repairs))
	}
	return kb, nil
}

// Exists reports whether a snapshot file is present, decodable or not.
func (s *SnapshotStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// CorruptPath is where Quarantine moves an undecodable snapshot.
func (s *SnapshotStore) CorruptPath() string {
	return s.path + ".corrupt"
}

// Quarantine moves the snapshot aside so that a fresh one can be written
// without destroying the old bytes.
func (s *SnapshotStore) Quarantine() (string, error) {
	target := s.CorruptPath()
	if err := os.Rename(s.path, target); err != nil {
		return "", fmt.Errorf("move snapshot aside: %w", err)
	}
	s.logger.Warn("undecodable snapshot moved aside", zap.String("path", s.path), zap.String("moved_to", target))
	return target, nil
}

type rawSnapshot struct {
	Version json.RawMessage            `json:"version"`
	Docs    map[string]json.RawMessage `json:"docs"`
	Chunks  map[string]json.RawMessage `json:"chunks"`
	BM25    json.RawMessage            `json:"bm25"`
	Graph   json.RawMessage            `json:"graph"`
}

type rawGraph struct {
	Adjacency map[string]json.RawMessage `json:"adjacency"`
	Dense     json.RawMessage            `json:"dense"`
}

// decodeSnapshot decodes record by record. It fails only when the
// top-level object or its tables are not JSON objects.
func decodeSnapshot(data []byte) (*domain.KnowledgeBase, []string, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	var dropped []string
	note := func(format string, args ...any) {
		dropped = append(dropped, fmt.Sprintf(format, args...))
	}

	kb := &domain.KnowledgeBase{
		Docs:   make(map[string]*domain.Document, len(raw.Docs)),
		Chunks: make(map[string]*domain.Chunk, len(raw.Chunks)),
	}
	if len(raw.Version) > 0 {
		if err := json.Unmarshal(raw.Version, &kb.Version); err != nil {
			note("ignored malformed version")
		}
	}

	for id, msg := range raw.Docs {
		var d domain.Document
		if err := json.Unmarshal(msg, &d); err != nil {
			note("dropped malformed document %s", id)
			continue
		}
		kb.Docs[id] = &d
	}
	for id, msg := range raw.Chunks {
		var c domain.Chunk
		if err := json.Unmarshal(msg, &c); err != nil {
			note("dropped malformed chunk %s", id)
			continue
		}
		kb.Chunks[id] = &c
	}

	if len(raw.BM25) > 0 {
		if err := json.Unmarshal(raw.BM25, &kb.BM25); err != nil {
			kb.BM25 = domain.BM25Stats{}
			note("ignored malformed bm25 statistics")
		}
	}

	if len(raw.Graph) > 0 {
		var g rawGraph
		if err := json.Unmarshal(raw.Graph, &g); err != nil {
			note("ignored malformed term graph")
			return kb, dropped, nil
		}
		kb.Graph.Adjacency = make(map[string][]domain.Neighbor, len(g.Adjacency))
		for term, msg := range g.Adjacency {
			var neighbors []domain.Neighbor
			if err := json.Unmarshal(msg, &neighbors); err != nil {
				note("dropped malformed graph entry %s", term)
				continue
			}
			kb.Graph.Adjacency[term] = neighbors
		}
		if len(g.Dense) > 0 && string(g.Dense) != "null" {
			var meta domain.DenseMeta
			if err := json.Unmarshal(g.Dense, &meta); err != nil {
				note("ignored malformed dense metadata")
			} else {
				kb.Graph.Dense = &meta
			}
		}
	}
	return kb, dropped, nil
}

// Save replaces the snapshot atomically. On failure the previous snapshot
// is left untouched.
func (s *SnapshotStore) Save(kb *domain.KnowledgeBase) error {
	data, err := json.Marshal(kb)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.path, err)
	}
	s.logger.Debug("snapshot saved",
		zap.String("path", s.path),
		zap.Int("docs", len(kb.Docs)),
		zap.Int("chunks", len(kb.Chunks)))
	return nil
}

// ModTime returns the snapshot's modification time in nanoseconds, or 0 when absent.
func (s *SnapshotStore) ModTime() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
