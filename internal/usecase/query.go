package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragkb/internal/adapter/retriever"
	"ragkb/internal/domain"
)

// Technique names recorded in a result trace.
const (
	TechEnhance        = "query_enhance"
	TechGraphExpand    = "graph_expand"
	TechRaptor         = "raptor"
	TechCRAG           = "crag"
	TechDense          = "dense"
	TechDenseFailed    = "dense_failed"
	TechFusionPrefix   = "fusion_"
	TechOverlapRerank  = "overlap_rerank"
	TechExternalRerank = "external_rerank"
	TechRerankFailed   = "rerank_failed"
	TechCache          = "cache"
)

// Query answers prompt from the persisted knowledge base. A blank prompt
// or a missing knowledge base is reported through the result's evidence,
// not as an error; only cancellation of ctx fails the call.
func (e *Engine) Query(ctx context.Context, prompt string) (*domain.Result, error) {
	start := time.Now()
	res := &domain.Result{
		QueryID: uuid.NewString(),
		Prompt:  prompt,
		Sources: []domain.SourceRef{},
	}

	if strings.TrimSpace(prompt) == "" {
		res.Evidence = domain.EvidenceEmptyQuery
		return e.finish(res, start), nil
	}

	generation := e.snapshot.ModTime()
	if cached, ok := e.cache.Get(prompt, generation); ok {
		hit := cloneResult(cached)
		hit.QueryID = res.QueryID
		hit.Trace.CacheHit = true
		hit.Trace.Fired(TechCache)
		return e.finish(hit, start), nil
	}

	kb, err := e.snapshot.Load()
	if err != nil || kb == nil || len(kb.Chunks) == 0 {
		res.Evidence = domain.EvidenceNoKnowledgeBase
		return e.finish(res, start), nil
	}

	ranked, err := e.retrieve(ctx, kb, prompt, &res.Trace)
	if err != nil {
		return nil, err
	}

	res.Context, res.Sources = Assemble(ranked, e.cfg.Query.Limit, e.cfg.Query.MaxChars)
	res.Evidence = domain.EvidencePopulated
	e.cache.Put(prompt, generation, cloneResult(res))

	return e.finish(res, start), nil
}

func (e *Engine) finish(res *domain.Result, start time.Time) *domain.Result {
	res.Trace.Elapsed = time.Since(start)
	e.metrics.RecordQuery(string(res.Evidence), res.Trace.Techniques, res.Trace.Elapsed)
	e.logger.Debug("query answered",
		zap.String("query_id", res.QueryID),
		zap.String("evidence", string(res.Evidence)),
		zap.Int("sources", len(res.Sources)),
		zap.Strings("techniques", res.Trace.Techniques),
		zap.Duration("elapsed", res.Trace.Elapsed))
	return res
}

// retrieve runs the ranking pipeline: plan, score, boost, correct once,
// fuse with dense results, select candidates and rerank.
func (e *Engine) retrieve(ctx context.Context, kb *domain.KnowledgeBase, prompt string, trace *domain.Trace) ([]domain.ScoredChunk, error) {
	q := e.cfg.Query
	scorer := retriever.NewScorer(kb, retriever.BM25Params{K1: q.K1, B: q.B})

	queries := []string{strings.TrimSpace(prompt)}
	if q.Enhance {
		queries = retriever.Enhance(prompt)
		if len(queries) > 1 {
			trace.Fired(TechEnhance)
		}
	}
	if q.GraphExpand && len(kb.Graph.Adjacency) > 0 {
		if extra := retriever.GraphExpand(queries, kb.Graph.Adjacency, q.GraphTopK); len(extra) > 0 {
			queries = append(queries, extra...)
			trace.Fired(TechGraphExpand)
		}
	}

	scores, err := scorer.ScoreQueries(ctx, queries, 1, nil)
	if err != nil {
		return nil, err
	}
	if q.Raptor {
		if err := e.boost(ctx, scorer, kb, queries, scores, trace); err != nil {
			return nil, err
		}
	}

	if q.CRAG {
		current := retriever.Candidates(retriever.Ranked(kb, scores), len(scores), q.IncludeSummaries)
		if d := retriever.ShouldCorrect(scoreValues(current), q.Limit); d.Correct {
			trace.Fired(TechCRAG)
			trace.CorrectivePasses = 1
			trace.CRAGReason = d.Reason
			e.metrics.RecordCorrection(d.Reason)

			corrective := retriever.CorrectiveQueries(prompt)
			extra, err := scorer.ScoreQueries(ctx, corrective, retriever.CorrectiveMultiplier, nil)
			if err != nil {
				return nil, err
			}
			mergeMax(scores, extra)

			queries = appendUnique(queries, corrective)
			if q.Raptor {
				if err := e.boost(ctx, scorer, kb, queries, scores, trace); err != nil {
					return nil, err
				}
			}
		}
	}
	trace.Queries = queries

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fused := retriever.Ranked(kb, scores)
	if e.cfg.Dense.Enabled && kb.Graph.Dense != nil {
		dense, err := e.denseSearch(ctx, kb, prompt)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			e.logger.Warn("dense retrieval failed, using lexical ranking", zap.Error(err))
			e.metrics.RecordAdapterError("dense", err)
			trace.Fired(TechDenseFailed)
		case len(dense) > 0:
			trace.Fired(TechDense)
			fused = retriever.Fuse(fused, dense, retriever.FusionParams{
				Mode:          q.Fusion,
				RRFK:          q.RRFK,
				LexicalWeight: q.LexicalWeight,
				DenseWeight:   q.DenseWeight,
			})
			trace.Fired(TechFusionPrefix + string(q.Fusion))
		}
	}

	candidates := retriever.Candidates(fused, q.CandidateK, q.IncludeSummaries)
	if len(candidates) == 0 {
		return nil, nil
	}
	candidates = retriever.OverlapRerank(prompt, candidates)
	trace.Fired(TechOverlapRerank)

	if e.cfg.Rerank.Enabled && e.reranker != nil {
		reranked, err := retriever.ExternalRerank(ctx, e.reranker, prompt, candidates, e.cfg.Rerank.TopK)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			e.logger.Warn("external rerank failed, keeping overlap order", zap.Error(err))
			e.metrics.RecordAdapterError("rerank", err)
			trace.Fired(TechRerankFailed)
		default:
			candidates = reranked
			trace.Fired(TechExternalRerank)
		}
	}
	return candidates, nil
}

func (e *Engine) boost(ctx context.Context, scorer *retriever.Scorer, kb *domain.KnowledgeBase, queries []string, scores map[string]float64, trace *domain.Trace) error {
	fired, err := retriever.SummaryBoost(ctx, scorer, kb, queries, e.cfg.Query.RaptorTopK, scores)
	if err != nil {
		return err
	}
	if fired {
		trace.Fired(TechRaptor)
	}
	return nil
}

func mergeMax(dst, src map[string]float64) {
	for id, v := range src {
		if cur, ok := dst[id]; !ok || v > cur {
			dst[id] = v
		}
	}
}

func appendUnique(queries, extra []string) []string {
	out := append([]string(nil), queries...)
	seen := make(map[string]struct{}, len(out))
	for _, q := range out {
		seen[q] = struct{}{}
	}
	for _, q := range extra {
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}

func scoreValues(results []domain.ScoredChunk) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

// cloneResult copies the parts of a result a caller may mutate.
func cloneResult(r *domain.Result) *domain.Result {
	out := *r
	out.Sources = append([]domain.SourceRef{}, r.Sources...)
	out.Trace.Queries = append([]string(nil), r.Trace.Queries...)
	out.Trace.Techniques = append([]string(nil), r.Trace.Techniques...)
	return &out
}
