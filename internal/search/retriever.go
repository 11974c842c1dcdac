// Package search runs the retrieval pipeline: embed the query, pull
// nearest-neighbor candidates, hydrate them from the metadata store, and
// optionally rerank with a cross-encoder.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/embedding"
	"github.com/fieldwise/kura/internal/keyword"
	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/rerank"
	"github.com/fieldwise/kura/internal/storage"
	"github.com/fieldwise/kura/internal/vector"
)

// Options control a single retrieval call. Zero values fall back to the
// retriever's configured defaults.
type Options struct {
	TopK           int
	RerankTopN     int
	ScoreThreshold float64
	UseReranker    bool
}

// Retriever answers queries against the chunk store.
type Retriever struct {
	store    storage.Storage
	embedder embedding.Embedder
	index    vector.VectorIndex
	keyword  *keyword.BleveIndex
	reranker rerank.Reranker
	logger   *zap.Logger

	defaults Options

	// readDrift counts candidate ids the vector index returned that had
	// no metadata row. They are dropped, not fatal.
	readDrift atomic.Int64
}

// RetrieverOption configures optional collaborators.
type RetrieverOption func(*Retriever)

func WithKeywordFallback(kw *keyword.BleveIndex) RetrieverOption {
	return func(r *Retriever) { r.keyword = kw }
}

func WithReranker(rr rerank.Reranker) RetrieverOption {
	return func(r *Retriever) { r.reranker = rr }
}

func WithLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever builds a retriever. embedder may be nil, in which case
// every query is served by the keyword fallback.
func NewRetriever(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.VectorIndex,
	defaults Options,
	opts ...RetrieverOption,
) *Retriever {
	r := &Retriever{
		store:    store,
		embedder: embedder,
		index:    index,
		defaults: defaults,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DriftCount returns the number of dangling vector ids observed at
// search time since startup.
func (r *Retriever) DriftCount() int64 {
	return r.readDrift.Load()
}

// Retrieve runs the full pipeline and returns chunks in final rank
// order, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]models.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptyQuery
	}
	if opts.TopK <= 0 {
		opts.TopK = r.defaults.TopK
	}
	if opts.RerankTopN <= 0 {
		opts.RerankTopN = r.defaults.RerankTopN
	}
	if opts.ScoreThreshold == 0 {
		opts.ScoreThreshold = r.defaults.ScoreThreshold
	}

	if r.embedder == nil {
		return r.retrieveKeyword(ctx, query, opts.TopK)
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	ids, scores, err := r.index.Search(ctx, queryVec, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	candidates, err := r.hydrate(ctx, ids, scores)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []models.RetrievedChunk{}, nil
	}

	if opts.UseReranker && r.reranker != nil {
		return r.rerankCandidates(ctx, query, candidates, opts)
	}

	// Without a reranker the inner-product scores stand as-is and no
	// threshold applies, since vector similarity has no absolute scale.
	// The result is still cut to the final window size.
	return rankTop(candidates, opts.RerankTopN), nil
}

// rankTop truncates candidates to n (when n > 0) and assigns final
// ranks, best first.
func rankTop(candidates []models.RetrievedChunk, n int) []models.RetrievedChunk {
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}

// hydrate resolves candidate ids to chunk records, preserving the
// similarity order. Ids without a metadata row are counted and dropped.
func (r *Retriever) hydrate(ctx context.Context, ids []int64, scores []float32) ([]models.RetrievedChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	valid := make([]int64, 0, len(ids))
	validScores := make([]float32, 0, len(ids))
	for i, id := range ids {
		if id < 0 {
			continue
		}
		valid = append(valid, id)
		validScores = append(validScores, scores[i])
	}

	records, err := r.store.FetchByIDs(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("chunk lookup failed: %w", err)
	}
	byID := make(map[int64]models.ChunkRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	chunks := make([]models.RetrievedChunk, 0, len(valid))
	for i, id := range valid {
		rec, ok := byID[id]
		if !ok {
			r.readDrift.Add(1)
			r.logger.Warn("dangling vector id dropped from results", zap.Int64("id", id))
			continue
		}
		chunks = append(chunks, models.RetrievedChunk{
			ID:       rec.ID,
			Score:    float64(validScores[i]),
			Text:     rec.Text,
			Source:   rec.Source,
			RepType:  rec.RepType,
			FullPath: rec.FullPath,
		})
	}
	return chunks, nil
}

// rerankCandidates rescores the hydrated candidates with the
// cross-encoder, then filters and truncates.
func (r *Retriever) rerankCandidates(ctx context.Context, query string, candidates []models.RetrievedChunk, opts Options) ([]models.RetrievedChunk, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	scores, err := r.reranker.Score(ctx, query, texts)
	if err != nil {
		// Degrade to similarity order rather than failing the query.
		r.logger.Warn("reranker unavailable, returning similarity order", zap.Error(err))
		return rankTop(candidates, opts.RerankTopN), nil
	}
	for i := range candidates {
		candidates[i].Score = scores[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	kept := make([]models.RetrievedChunk, 0, opts.RerankTopN)
	for _, c := range candidates {
		if c.Score < opts.ScoreThreshold {
			continue
		}
		kept = append(kept, c)
		if len(kept) == opts.RerankTopN {
			break
		}
	}
	for i := range kept {
		kept[i].Rank = i + 1
	}
	return kept, nil
}

// retrieveKeyword serves a query from the bleve index when no embedder
// is configured.
func (r *Retriever) retrieveKeyword(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error) {
	if r.keyword == nil {
		return nil, fmt.Errorf("%w: no embedder and no keyword index", models.ErrIndexUnavailable)
	}
	hits, err := r.keyword.Search(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	if len(hits) == 0 {
		return []models.RetrievedChunk{}, nil
	}
	ids := make([]int64, len(hits))
	scores := make([]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[i] = float32(h.Score)
	}
	chunks, err := r.hydrate(ctx, ids, scores)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Rank = i + 1
	}
	return chunks, nil
}
