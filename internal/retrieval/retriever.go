// Package retrieval turns a user query into relevant context chunks by
// embedding the query and running a similarity search against the knowledge
// store.
package retrieval

import (
	"context"
	"sort"
	"time"

	"raggate-api/internal/knowledge"
	"raggate-api/internal/metrics"

	"go.uber.org/zap"
)

// Chunk is one retrieved unit of context. Sequences handed to the composer
// are always ordered by descending Score.
type Chunk struct {
	Text     string
	SourceID string
	Score    float64
}

// Embedder is the embedding capability consumed by the retriever.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the knowledge store's similarity-search capability.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]knowledge.Candidate, error)
}

type Retriever struct {
	embedder Embedder
	store    Searcher
	log      *zap.SugaredLogger
}

func New(embedder Embedder, store Searcher, log *zap.SugaredLogger) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		log:      log,
	}
}

// Retrieve returns at most topK chunks with score >= minScore, ordered by
// descending score. An unreachable store or embedder surfaces as
// shared.ErrRetrievalUnavailable so the caller can apply its policy; zero
// chunks past the threshold is a success with an empty result. The read has
// no side effects.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]Chunk, error) {
	if query == "" {
		return nil, nil
	}
	start := time.Now()

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := r.store.Search(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}

	// The store already orders by similarity, but the descending-score
	// invariant is ours to uphold.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	chunks := make([]Chunk, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Score < minScore {
			continue
		}
		if len(chunks) == topK {
			break
		}
		chunks = append(chunks, Chunk{
			Text:     cand.Document,
			SourceID: cand.ID,
			Score:    cand.Score,
		})
	}

	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	metrics.RetrievedChunks.Observe(float64(len(chunks)))
	r.log.Debugw("retrieval complete",
		"candidates", len(candidates),
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())

	return chunks, nil
}
