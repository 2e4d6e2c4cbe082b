package store

import (
	"fmt"
	"strconv"

	"ragkb/internal/domain"
)

// CurrentSchemaVersion is the snapshot format written by this build.
// Increment this when making breaking changes to the storage format.
var CurrentSchemaVersion, _ = strconv.Atoi(domain.CurrentVersion)

// MigrationResult describes what loading did to a snapshot.
type MigrationResult struct {
	OldVersion int
	NewVersion int
	Repairs    []string
}

// Changed reports whether the snapshot differs from what was on disk.
func (r *MigrationResult) Changed() bool {
	return r.OldVersion != r.NewVersion || len(r.Repairs) > 0
}

func (r *MigrationResult) note(format string, args ...any) {
	r.Repairs = append(r.Repairs, fmt.Sprintf(format, args...))
}

// Migrate upgrades kb in place to the current version and fills defaults
// so that every structural invariant holds afterwards.
func Migrate(kb *domain.KnowledgeBase) *MigrationResult {
	result := &MigrationResult{
		OldVersion: schemaVersion(kb.Version),
		NewVersion: CurrentSchemaVersion,
	}

	for v := result.OldVersion; v < CurrentSchemaVersion; v++ {
		runMigration(kb, v, v+1, result)
	}
	if result.OldVersion > CurrentSchemaVersion {
		result.note("snapshot written by newer version v%d", result.OldVersion)
	}

	repair(kb, result)
	kb.Version = domain.CurrentVersion
	return result
}

// schemaVersion maps the stored tag to a number. Untagged snapshots are v1.
func schemaVersion(tag string) int {
	if tag == "" {
		return 1
	}
	v, err := strconv.Atoi(tag)
	if err != nil || v < 1 {
		return 1
	}
	return v
}

func runMigration(kb *domain.KnowledgeBase, from, to int, result *MigrationResult) {
	switch {
	case from == 1 && to == 2:
		// v1 did not persist chunk lengths.
		for _, c := range kb.Chunks {
			if c != nil {
				c.Length = sumTF(c.TermFrequencies)
			}
		}
	}
}

func repair(kb *domain.KnowledgeBase, result *MigrationResult) {
	if kb.Docs == nil {
		kb.Docs = make(map[string]*domain.Document)
	}
	if kb.Chunks == nil {
		kb.Chunks = make(map[string]*domain.Chunk)
	}
	if kb.Graph.Adjacency == nil {
		kb.Graph.Adjacency = make(map[string][]domain.Neighbor)
	}

	for id, c := range kb.Chunks {
		if c == nil {
			delete(kb.Chunks, id)
			result.note("dropped empty chunk entry %s", id)
			continue
		}
		if c.ID == "" {
			c.ID = id
		}
		if c.Meta == nil {
			c.Meta = make(map[string]any)
		}
		if c.TermFrequencies == nil {
			c.TermFrequencies = make(map[string]int)
		}
		if n := sumTF(c.TermFrequencies); n != c.Length {
			c.Length = n
			result.note("recomputed length of %s", id)
		}
	}

	for id, d := range kb.Docs {
		if d == nil {
			delete(kb.Docs, id)
			result.note("dropped empty document entry %s", id)
			continue
		}
		if d.ID == "" {
			d.ID = id
		}
		if d.Meta == nil {
			d.Meta = make(map[string]any)
		}
		kept := d.ChunkIDs[:0]
		for _, cid := range d.ChunkIDs {
			if _, ok := kb.Chunks[cid]; ok {
				kept = append(kept, cid)
			} else {
				result.note("dropped dangling chunk id %s", cid)
			}
		}
		lost := len(kept) < len(d.ChunkIDs)
		d.ChunkIDs = kept
		if d.SummaryChunkID != "" {
			if _, ok := kb.Chunks[d.SummaryChunkID]; !ok {
				result.note("cleared dangling summary id %s", d.SummaryChunkID)
				d.SummaryChunkID = ""
				lost = true
			}
		}
		// a document missing chunks is re-chunked on its next ingestion
		if lost && d.ContentHash != "" {
			d.ContentHash = ""
			result.note("cleared content hash of %s", id)
		}
	}

	if statsStale(kb) {
		kb.RecomputeStats()
		result.note("recomputed bm25 statistics")
	}
}

func statsStale(kb *domain.KnowledgeBase) bool {
	if kb.BM25.DocumentFrequencies == nil || kb.BM25.ChunkCount != len(kb.Chunks) {
		return true
	}
	for _, c := range kb.Chunks {
		for term := range c.TermFrequencies {
			if kb.BM25.DocumentFrequencies[term] < 1 {
				return true
			}
		}
	}
	return false
}

func sumTF(tf map[string]int) int {
	n := 0
	for _, v := range tf {
		n += v
	}
	return n
}
