package retriever

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"ragkb/config"
	"ragkb/internal/domain"
)

func fusionKB() *domain.KnowledgeBase {
	return newKB().
		chunk("d1", "a", "alpha").
		chunk("d1", "b", "beta").
		chunk("d2", "c", "gamma").
		summary("d2", "gamma summary").
		build()
}

func TestFuseRRF(t *testing.T) {
	kb := fusionKB()
	lexical := scored(kb, "a", 5.0, "b", 1.0)
	dense := scored(kb, "b", 0.9, "c", 0.8)

	fused := Fuse(lexical, dense, FusionParams{Mode: config.FusionRRF, RRFK: 60, LexicalWeight: 1, DenseWeight: 1})

	if got := ids(fused); !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Fatalf("got order %v", got)
	}
	if want := 1.0/62 + 1.0/61; math.Abs(fused[0].Score-want) > 1e-12 {
		t.Errorf("b score = %v, want %v", fused[0].Score, want)
	}
	if want := 1.0 / 61; math.Abs(fused[1].Score-want) > 1e-12 {
		t.Errorf("a score = %v, want %v", fused[1].Score, want)
	}
}

func TestFuseWeighted(t *testing.T) {
	kb := fusionKB()
	lexical := scored(kb, "a", 2.0, "b", 1.0)
	dense := scored(kb, "b", 3.0)

	fused := Fuse(lexical, dense, FusionParams{Mode: config.FusionWeighted, LexicalWeight: 1, DenseWeight: 1})

	if got := ids(fused); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("got order %v", got)
	}
	if fused[0].Score != 4 || fused[1].Score != 2 {
		t.Errorf("unexpected scores %v", fused)
	}
}

func TestFuseNone(t *testing.T) {
	kb := fusionKB()
	lexical := scored(kb, "a", 2.0)
	dense := scored(kb, "c", 3.0)
	p := FusionParams{Mode: config.FusionNone}

	if got := ids(Fuse(lexical, dense, p)); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("lexical must win when present, got %v", got)
	}
	if got := ids(Fuse(nil, dense, p)); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("dense must be used without lexical results, got %v", got)
	}
}

func TestCandidates(t *testing.T) {
	kb := fusionKB()
	fused := scored(kb, "d2::summary", 9.0, "a", 5.0, "b", 4.0, "c", 3.0)

	if got := ids(Candidates(fused, 2, false)); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("got %v", got)
	}
	if got := ids(Candidates(fused, 2, true)); !reflect.DeepEqual(got, []string{"d2::summary", "a"}) {
		t.Errorf("got %v", got)
	}
	if got := Candidates(fused, 0, false); len(got) != 0 {
		t.Errorf("expected none, got %v", ids(got))
	}
}

// RRF only sees ranks, so rescaling scores without reordering them must
// leave the fused ranking untouched.
func TestProperty_RRFIgnoresScoreMagnitude(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fused order is invariant under rank-preserving rescaling", prop.ForAll(
		func(lexScores, denseScores []float64) bool {
			kb := domain.NewKnowledgeBase()
			build := func(prefix string, scores []float64, scale float64) []domain.ScoredChunk {
				out := make([]domain.ScoredChunk, len(scores))
				for i, s := range scores {
					id := fmt.Sprintf("%s%03d", prefix, i%7)
					if _, ok := kb.Chunks[id]; !ok {
						kb.Chunks[id] = &domain.Chunk{ID: id}
					}
					out[i] = domain.ScoredChunk{Chunk: kb.Chunks[id], Score: s * scale}
				}
				SortScored(out)
				return dedupe(out)
			}
			p := FusionParams{Mode: config.FusionRRF, RRFK: 60, LexicalWeight: 1, DenseWeight: 0.5}

			before := Fuse(build("c", lexScores, 1), build("c", denseScores, 1), p)
			after := Fuse(build("c", lexScores, 8), build("c", denseScores, 8), p)

			return reflect.DeepEqual(ids(before), ids(after)) && reflect.DeepEqual(scoresOf(before), scoresOf(after))
		},
		gen.SliceOf(gen.Float64Range(0.01, 100)),
		gen.SliceOf(gen.Float64Range(0.01, 100)),
	))

	properties.TestingRun(t)
}

// dedupe keeps the first occurrence of each chunk.
func dedupe(in []domain.ScoredChunk) []domain.ScoredChunk {
	seen := map[string]bool{}
	out := in[:0]
	for _, r := range in {
		if !seen[r.Chunk.ID] {
			seen[r.Chunk.ID] = true
			out = append(out, r)
		}
	}
	return out
}

func scoresOf(results []domain.ScoredChunk) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}
