// Package rerank provides cross-encoder relevance scoring for retrieval
// candidates.
package rerank

import "context"

// Reranker scores (query, text) pairs with an absolute relevance score.
// Unlike vector similarity, the scale is comparable across queries, so a
// rejection threshold is meaningful.
type Reranker interface {
	// Score returns one score per text, in input order.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Close() error
}
