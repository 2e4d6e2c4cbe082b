package domain

import (
	"sort"
	"time"
)

// CurrentVersion is written into every snapshot saved by this build.
const CurrentVersion = "2"

const (
	KindText     = "text"
	KindMarkdown = "markdown"
	KindCSV      = "csv"
	KindTSV      = "tsv"
	KindCSVRow   = "csv-row"
	KindSummary  = "summary"
)

// SummarySuffix is appended to a document id to form its summary chunk id.
const SummarySuffix = "::summary"

type Chunk struct {
	ID              string         `json:"chunk_id"`
	DocID           string         `json:"doc_id"`
	Source          string         `json:"source"`
	Kind            string         `json:"kind"`
	Content         string         `json:"content"`
	Offset          int            `json:"offset"`
	Meta            map[string]any `json:"meta"`
	Length          int            `json:"length"`
	TermFrequencies map[string]int `json:"term_frequencies"`
}

// IsSummary reports whether the chunk is a document's synthetic summary.
func (c *Chunk) IsSummary() bool {
	return c.Kind == KindSummary
}

type Document struct {
	ID             string         `json:"doc_id"`
	Source         string         `json:"source"`
	Kind           string         `json:"kind"`
	Meta           map[string]any `json:"meta"`
	ContentHash    string         `json:"content_hash"`
	ChunkIDs       []string       `json:"chunk_ids"`
	SummaryChunkID string         `json:"summary_chunk_id,omitempty"`
}

type BM25Stats struct {
	DocumentFrequencies map[string]int `json:"document_frequencies"`
	ChunkCount          int            `json:"chunk_count"`
	AvgDL               float64        `json:"avgdl"`
}

type Neighbor struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

type DenseMeta struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dim       int    `json:"dim"`
	Backend   string `json:"backend"`
	IndexFile string `json:"index_file"`
	Vectors   int    `json:"vectors"`
}

type TermGraph struct {
	Adjacency map[string][]Neighbor `json:"adjacency"`
	Dense     *DenseMeta            `json:"dense,omitempty"`
}

type KnowledgeBase struct {
	Version string               `json:"version"`
	Docs    map[string]*Document `json:"docs"`
	Chunks  map[string]*Chunk    `json:"chunks"`
	BM25    BM25Stats            `json:"bm25"`
	Graph   TermGraph            `json:"graph"`
}

// NewKnowledgeBase returns an empty knowledge base at the current version.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		Version: CurrentVersion,
		Docs:    make(map[string]*Document),
		Chunks:  make(map[string]*Chunk),
		BM25: BM25Stats{
			DocumentFrequencies: make(map[string]int),
		},
		Graph: TermGraph{
			Adjacency: make(map[string][]Neighbor),
		},
	}
}

// RecomputeStats rebuilds document frequencies, chunk count and avgdl over
// the whole chunk table.
func (kb *KnowledgeBase) RecomputeStats() {
	df := make(map[string]int)
	total := 0
	for _, c := range kb.Chunks {
		total += c.Length
		for term := range c.TermFrequencies {
			df[term]++
		}
	}
	kb.BM25.DocumentFrequencies = df
	kb.BM25.ChunkCount = len(kb.Chunks)
	kb.BM25.AvgDL = 0
	if len(kb.Chunks) > 0 {
		kb.BM25.AvgDL = float64(total) / float64(len(kb.Chunks))
	}
}

// SortedChunkIDs returns every chunk id in ascending order.
func (kb *KnowledgeBase) SortedChunkIDs() []string {
	ids := make([]string, 0, len(kb.Chunks))
	for id := range kb.Chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasSummaries reports whether any document carries a summary chunk.
func (kb *KnowledgeBase) HasSummaries() bool {
	for _, d := range kb.Docs {
		if d.SummaryChunkID != "" {
			return true
		}
	}
	return false
}

// Source describes one input to ingestion: inline Text or a file Path.
type Source struct {
	ID     string
	Source string
	Kind   string
	Meta   map[string]any
	Text   string
	Path   string
}

type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// Evidence is the coarse grounding tier of a query result.
type Evidence string

const (
	EvidenceNoKnowledgeBase Evidence = "no_knowledge_base"
	EvidenceEmptyQuery      Evidence = "empty_query"
	EvidencePopulated       Evidence = "populated"
)

type SourceRef struct {
	Rank      int            `json:"rank"`
	ChunkID   string         `json:"chunk_id"`
	DocID     string         `json:"doc_id"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Offset    int            `json:"offset"`
	Score     float64        `json:"score"`
	Meta      map[string]any `json:"meta,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

type Trace struct {
	Queries          []string      `json:"queries"`
	Techniques       []string      `json:"techniques"`
	CorrectivePasses int           `json:"corrective_passes"`
	CRAGReason       string        `json:"crag_reason,omitempty"`
	CacheHit         bool          `json:"cache_hit,omitempty"`
	Elapsed          time.Duration `json:"elapsed_ns"`
}

// Fired records a technique once, preserving first-use order.
func (t *Trace) Fired(technique string) {
	for _, existing := range t.Techniques {
		if existing == technique {
			return
		}
	}
	t.Techniques = append(t.Techniques, technique)
}

type Result struct {
	QueryID  string      `json:"query_id"`
	Prompt   string      `json:"prompt"`
	Context  string      `json:"context"`
	Sources  []SourceRef `json:"sources"`
	Evidence Evidence    `json:"evidence"`
	Trace    Trace       `json:"trace"`
}

type IngestResult struct {
	Location    string `json:"location"`
	DocsIndexed int    `json:"docs_indexed"`
	DocsSkipped int    `json:"docs_skipped"`
	DocsEmpty   int    `json:"docs_empty"`
	DocsPruned  int    `json:"docs_pruned"`
	Chunks      int    `json:"chunks"`
	Vectors     int    `json:"vectors"`
}
