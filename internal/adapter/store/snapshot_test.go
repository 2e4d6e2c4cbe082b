package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/internal/domain"
)

func sampleKB() *domain.KnowledgeBase {
	kb := domain.NewKnowledgeBase()
	kb.Docs["d1"] = &domain.Document{
		ID:             "d1",
		Source:         "notes.txt",
		Kind:           domain.KindText,
		Meta:           map[string]any{"team": "infra"},
		ContentHash:    "abc",
		ChunkIDs:       []string{"d1::0"},
		SummaryChunkID: "d1::summary",
	}
	kb.Chunks["d1::0"] = &domain.Chunk{
		ID: "d1::0", DocID: "d1", Source: "notes.txt", Kind: domain.KindText,
		Content: "fox fox runs", Meta: map[string]any{}, Length: 3,
		TermFrequencies: map[string]int{"fox": 2, "runs": 1},
	}
	kb.Chunks["d1::summary"] = &domain.Chunk{
		ID: "d1::summary", DocID: "d1", Source: "notes.txt", Kind: domain.KindSummary,
		Content: "fox", Meta: map[string]any{"summary": true}, Length: 1,
		TermFrequencies: map[string]int{"fox": 1},
	}
	kb.RecomputeStats()
	return kb
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), ".rag", "kb.json"), nil)

	kb, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, kb)
	assert.Zero(t, s.ModTime())
}

func TestSnapshotStore_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	kb, err := NewSnapshotStore(path, nil).Load()
	require.NoError(t, err)
	assert.Nil(t, kb)
}

func TestSnapshotStore_LoadDropsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	snapshot := `{
  "version": "2",
  "docs": {
    "d1": {"doc_id": "d1", "source": "a.txt", "kind": "text", "content_hash": "h1",
           "chunk_ids": ["d1::0", "d1::40"]},
    "d2": {"doc_id": "d2", "source": "b.txt", "kind": "text", "content_hash": "h2",
           "chunk_ids": ["d2::0"]},
    "d3": {"doc_id": "d3", "chunk_ids": "not-a-list"}
  },
  "chunks": {
    "d1::0": {"chunk_id": "d1::0", "doc_id": "d1", "content": "alpha", "offset": 0,
              "length": 1, "term_frequencies": {"alpha": 1}},
    "d1::40": {"chunk_id": "d1::40", "doc_id": "d1", "content": "beta", "offset": "forty",
               "length": 1, "term_frequencies": {"beta": 1}},
    "d2::0": {"chunk_id": "d2::0", "doc_id": "d2", "content": "gamma", "offset": 0,
              "length": 1, "term_frequencies": {"gamma": 1}}
  },
  "bm25": {"document_frequencies": [], "chunk_count": 3},
  "graph": {"adjacency": {"alpha": [{"term": "gamma", "count": 1}], "beta": 7}}
}`
	require.NoError(t, os.WriteFile(path, []byte(snapshot), 0644))

	kb, err := NewSnapshotStore(path, nil).Load()
	require.NoError(t, err)
	require.NotNil(t, kb)

	assert.Len(t, kb.Docs, 2)
	assert.NotContains(t, kb.Docs, "d3")
	assert.Len(t, kb.Chunks, 2)
	assert.NotContains(t, kb.Chunks, "d1::40")

	assert.Equal(t, []string{"d1::0"}, kb.Docs["d1"].ChunkIDs)
	assert.Empty(t, kb.Docs["d1"].ContentHash, "partially lost documents are re-chunked on next ingest")
	assert.Equal(t, "h2", kb.Docs["d2"].ContentHash)

	assert.Equal(t, 2, kb.BM25.ChunkCount)
	assert.Equal(t, 1, kb.BM25.DocumentFrequencies["alpha"])
	assert.Contains(t, kb.Graph.Adjacency, "alpha")
	assert.NotContains(t, kb.Graph.Adjacency, "beta")
}

func TestSnapshotStore_Quarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	s := NewSnapshotStore(path, nil)
	assert.False(t, s.Exists())

	require.NoError(t, os.WriteFile(path, []byte("[1, 2"), 0644))
	assert.True(t, s.Exists())

	moved, err := s.Quarantine()
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt", moved)
	assert.False(t, s.Exists())
	assert.FileExists(t, moved)
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".rag", "kb.json")
	s := NewSnapshotStore(path, nil)

	require.NoError(t, s.Save(sampleKB()))

	kb, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, kb)

	assert.Equal(t, domain.CurrentVersion, kb.Version)
	assert.Len(t, kb.Chunks, 2)
	assert.Equal(t, 2, kb.BM25.ChunkCount)
	assert.Equal(t, 2, kb.BM25.DocumentFrequencies["fox"])
	assert.InDelta(t, 2.0, kb.BM25.AvgDL, 1e-9)
	assert.Equal(t, "d1::summary", kb.Docs["d1"].SummaryChunkID)
	assert.Equal(t, "infra", kb.Docs["d1"].Meta["team"])

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotStore_SaveIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	s := NewSnapshotStore(path, nil)

	require.NoError(t, s.Save(sampleKB()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	kb, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Save(kb))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSnapshotStore_SaveFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.json")
	s := NewSnapshotStore(path, nil)
	require.NoError(t, s.Save(sampleKB()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := sampleKB()
	bad.Chunks["d1::0"].Meta["fn"] = func() {} // not encodable
	assert.Error(t, s.Save(bad))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMigrate_V1Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	legacy := `{
  "docs": {
    "d1": {"doc_id": "d1", "source": "a.txt", "kind": "text", "content_hash": "h",
           "chunk_ids": ["d1::0", "d1::99"], "summary_chunk_id": "d1::summary"}
  },
  "chunks": {
    "d1::0": {"chunk_id": "d1::0", "doc_id": "d1", "content": "alpha beta beta",
              "term_frequencies": {"alpha": 1, "beta": 2}}
  },
  "bm25": {"chunk_count": 7}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	kb, err := NewSnapshotStore(path, nil).Load()
	require.NoError(t, err)
	require.NotNil(t, kb)

	assert.Equal(t, domain.CurrentVersion, kb.Version)
	assert.Equal(t, 3, kb.Chunks["d1::0"].Length)
	assert.NotNil(t, kb.Chunks["d1::0"].Meta)
	assert.Equal(t, []string{"d1::0"}, kb.Docs["d1"].ChunkIDs)
	assert.Empty(t, kb.Docs["d1"].SummaryChunkID)
	assert.Equal(t, 1, kb.BM25.ChunkCount)
	assert.Equal(t, 1, kb.BM25.DocumentFrequencies["beta"])
	assert.InDelta(t, 3.0, kb.BM25.AvgDL, 1e-9)
	assert.NotNil(t, kb.Graph.Adjacency)
}

func TestMigrate_CurrentIsNoop(t *testing.T) {
	kb := sampleKB()
	result := Migrate(kb)
	assert.False(t, result.Changed(), "repairs: %v", result.Repairs)
}

func TestMigrate_RepairsLengthAndStats(t *testing.T) {
	kb := sampleKB()
	kb.Chunks["d1::0"].Length = 10
	kb.Chunks["d1::0"].TermFrequencies["extra"] = 1

	result := Migrate(kb)

	assert.True(t, result.Changed())
	assert.Equal(t, 4, kb.Chunks["d1::0"].Length)
	assert.Equal(t, 1, kb.BM25.DocumentFrequencies["extra"])
}
