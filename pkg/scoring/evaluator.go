// Package scoring implements the surprise evaluator: it turns raw text into
// an admission decision by combining linguistic surprise (perplexity) with
// semantic novelty (cosine distance to the nearest active memory).
package scoring

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/oracle"
)

// Evaluator scores raw events against the live parameter set.
type Evaluator struct {
	perplexity oracle.Perplexity
	embedder   oracle.Embedder
	store      active.Store
	params     *ParamStore
	logger     *zap.Logger
}

// NewEvaluator creates a surprise evaluator. The active store is the novelty
// reference set; its nearest-neighbor view may lag concurrent inserts, which
// is acceptable for a heuristic signal.
func NewEvaluator(perplexity oracle.Perplexity, embedder oracle.Embedder, store active.Store, params *ParamStore, logger *zap.Logger) (*Evaluator, error) {
	if perplexity == nil {
		return nil, fmt.Errorf("perplexity oracle is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("active store is required")
	}
	if params == nil {
		return nil, fmt.Errorf("param store is required")
	}

	return &Evaluator{
		perplexity: perplexity,
		embedder:   embedder,
		store:      store,
		params:     params,
		logger:     logger,
	}, nil
}

// Evaluate scores one raw event. Both oracle calls must succeed for a
// candidate to be produced: a failed oracle fails toward not-storing, never
// toward persisting a zero-information entry. A failed nearest-neighbor
// lookup degrades to the fallback novelty and flags the candidate.
func (e *Evaluator) Evaluate(ctx context.Context, event memory.RawEvent) (memory.ScoredCandidate, error) {
	params := e.params.Load()

	ppl, err := e.perplexity.Score(ctx, event.Text)
	if err != nil {
		return memory.ScoredCandidate{}, fmt.Errorf("scoring perplexity for event %d: %w", event.ID, err)
	}

	embedding, err := e.embedder.Embed(ctx, event.Text)
	if err != nil {
		return memory.ScoredCandidate{}, fmt.Errorf("embedding event %d: %w", event.ID, err)
	}

	novelty, degraded := e.noveltyOf(ctx, event.ID, embedding, params)

	candidate := memory.ScoredCandidate{
		Event:      event,
		Embedding:  embedding,
		Perplexity: ppl,
		Novelty:    novelty,
		Surprise:   Combine(ppl, novelty, params),
		Degraded:   degraded,
	}

	e.logger.Debug("evaluated event",
		zap.Uint64("event_id", event.ID),
		zap.Float64("perplexity", ppl),
		zap.Float64("novelty", novelty),
		zap.Float64("surprise", candidate.Surprise),
		zap.Bool("degraded", degraded),
		zap.Uint64("params_version", params.Version),
	)

	return candidate, nil
}

// noveltyOf looks up the nearest active memory. An empty store means maximum
// novelty: there is nothing to compare against, so the first memories seed
// the reference set. A lookup failure falls back to the configured default.
func (e *Evaluator) noveltyOf(ctx context.Context, eventID uint64, embedding []float32, params Params) (novelty float64, degraded bool) {
	nearest, distance, err := e.store.NearestNeighbor(ctx, embedding)
	if err != nil {
		e.logger.Warn("nearest-neighbor lookup failed, using fallback novelty",
			zap.Uint64("event_id", eventID),
			zap.Float64("fallback", params.FallbackNovelty),
			zap.Error(err),
		)
		return params.FallbackNovelty, true
	}

	if nearest == nil {
		return 1.0, false
	}

	return clamp01(distance), false
}

// Admit applies the admission rule to a scored candidate.
func (e *Evaluator) Admit(candidate memory.ScoredCandidate) bool {
	return candidate.Surprise >= e.params.Load().AdmissionThreshold
}

// Combine computes the surprise score from raw perplexity and novelty. Pure:
// fixed inputs and params always yield the same score.
func Combine(perplexity, novelty float64, params Params) float64 {
	return params.PerplexityWeight*NormalizePerplexity(perplexity, params.PerplexityScale) +
		params.NoveltyWeight*clamp01(novelty)
}

// NormalizePerplexity maps raw perplexity (>= 1) into [0,1] via
// min(1, ln(p+1)/K).
func NormalizePerplexity(p, scale float64) float64 {
	if p < 1 {
		p = 1
	}
	return math.Min(1.0, math.Log(p+1)/scale)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
