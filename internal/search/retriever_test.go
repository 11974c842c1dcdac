package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fieldwise/kura/internal/chunker"
	"github.com/fieldwise/kura/internal/embedding"
	"github.com/fieldwise/kura/internal/ingest"
	"github.com/fieldwise/kura/internal/keyword"
	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/rerank"
	"github.com/fieldwise/kura/internal/storage"
	"github.com/fieldwise/kura/internal/vector"
)

var testDefaults = Options{TopK: 30, RerankTopN: 5}

func seededRetriever(t *testing.T, docs map[string]string, opts ...RetrieverOption) (*Retriever, storage.Storage, *vector.FlatIndex) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	idx, err := vector.NewFlatIndex(16)
	if err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(16)
	eng, err := ingest.NewEngine(store, emb, idx, chunker.New(1000, 200, 1200), filepath.Join(dir, "vectors.idx"))
	if err != nil {
		t.Fatal(err)
	}
	for path, text := range docs {
		if _, err := eng.Ingest(context.Background(), models.SourceDoc{
			FullPath:    path,
			DisplayName: filepath.Base(path),
			Text:        text,
			RepType:     models.RepTypeFile,
		}, false); err != nil {
			t.Fatal(err)
		}
	}
	return NewRetriever(store, emb, idx, testDefaults, opts...), store, idx
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r, _, _ := seededRetriever(t, nil)
	_, err := r.Retrieve(context.Background(), "   ", Options{})
	if !errors.Is(err, models.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRetrieve_ExactTextRanksFirst(t *testing.T) {
	r, _, _ := seededRetriever(t, map[string]string{
		"doc://rice":  "rice cultivation in flooded paddies",
		"doc://wheat": "wheat harvesting on dry plains",
		"doc://fish":  "fish farming in coastal ponds",
	})
	// The mock embedder is deterministic per text, so querying with the
	// exact chunk text yields similarity 1.0 for that chunk.
	got, err := r.Retrieve(context.Background(), "rice cultivation in flooded paddies", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if got[0].FullPath != "doc://rice" {
		t.Errorf("top hit = %q, want doc://rice", got[0].FullPath)
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Errorf("ranks = %d,%d, want 1,2", got[0].Rank, got[1].Rank)
	}
	if got[0].Score < got[1].Score {
		t.Error("scores not descending")
	}
}

func TestRetrieve_TopKLimits(t *testing.T) {
	docs := map[string]string{}
	for _, s := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		docs["doc://"+s] = "content about " + s
	}
	r, _, _ := seededRetriever(t, docs)
	got, err := r.Retrieve(context.Background(), "content", Options{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d chunks, want 2", len(got))
	}
}

func TestRetrieve_WithoutRerankerTruncatesToTopN(t *testing.T) {
	docs := map[string]string{}
	for _, s := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"} {
		docs["doc://"+s] = "content about " + s
	}
	r, _, _ := seededRetriever(t, docs)
	got, err := r.Retrieve(context.Background(), "content", Options{TopK: 8, RerankTopN: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, c := range got {
		if c.Rank != i+1 {
			t.Errorf("rank[%d] = %d, want %d", i, c.Rank, i+1)
		}
	}
}

func TestRetrieve_DanglingIDDroppedAndCounted(t *testing.T) {
	r, _, idx := seededRetriever(t, map[string]string{
		"doc://rice": "rice cultivation",
	})
	// Plant an orphan vector that has no metadata row.
	emb := embedding.NewMockEmbedder(16)
	orphan, _ := emb.EmbedDocument(context.Background(), "orphan content")
	if err := idx.Add(context.Background(), []int64{999}, [][]float32{orphan}); err != nil {
		t.Fatal(err)
	}

	got, err := r.Retrieve(context.Background(), "orphan content", Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range got {
		if c.ID == 999 {
			t.Error("dangling id surfaced in results")
		}
	}
	if r.DriftCount() != 1 {
		t.Errorf("DriftCount = %d, want 1", r.DriftCount())
	}
}

func TestRetrieve_RerankerOrdersFiltersTruncates(t *testing.T) {
	docs := map[string]string{
		"doc://rice":  "rice grows in paddies",
		"doc://wheat": "wheat grows in fields",
		"doc://fish":  "fish swim in water",
	}
	r, _, _ := seededRetriever(t, docs, WithReranker(rerank.NewMockReranker()))

	got, err := r.Retrieve(context.Background(), "rice paddies", Options{
		UseReranker:    true,
		RerankTopN:     2,
		ScoreThreshold: 0.01,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > 2 {
		t.Fatalf("got %d chunks, want at most 2", len(got))
	}
	if len(got) == 0 {
		t.Fatal("expected at least the overlapping chunk to pass the threshold")
	}
	if got[0].FullPath != "doc://rice" {
		t.Errorf("reranked top hit = %q, want doc://rice", got[0].FullPath)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Error("reranked scores not descending")
		}
		if got[i].Rank != got[i-1].Rank+1 {
			t.Error("ranks not consecutive after rerank")
		}
	}
}

type failReranker struct{}

func (failReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return nil, errors.New("rerank endpoint down")
}

func (failReranker) Close() error { return nil }

func TestRetrieve_RerankerFailureDegradesToSimilarity(t *testing.T) {
	r, _, _ := seededRetriever(t, map[string]string{
		"doc://rice": "rice cultivation",
	}, WithReranker(failReranker{}))

	got, err := r.Retrieve(context.Background(), "rice cultivation", Options{UseReranker: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FullPath != "doc://rice" {
		t.Fatalf("degraded results = %v", got)
	}
}

func TestRetrieve_RerankerFailureStillTruncates(t *testing.T) {
	docs := map[string]string{}
	for _, s := range []string{"alpha", "beta", "gamma", "delta"} {
		docs["doc://"+s] = "content about " + s
	}
	r, _, _ := seededRetriever(t, docs, WithReranker(failReranker{}))

	got, err := r.Retrieve(context.Background(), "content", Options{UseReranker: true, TopK: 4, RerankTopN: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
}

func TestRetrieve_KeywordFallbackWithoutEmbedder(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	idx, _ := vector.NewFlatIndex(16)

	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "keyword.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	ctx := context.Background()
	if err := store.InsertBatch(ctx, []models.ChunkRecord{
		{ID: 0, DocUUID: "u0", Text: "rice cultivation in paddies", Source: "rice", RepType: models.RepTypeFile, FullPath: "doc://rice"},
		{ID: 1, DocUUID: "u1", Text: "wheat on dry plains", Source: "wheat", RepType: models.RepTypeFile, FullPath: "doc://wheat"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := kw.Index(ctx, 0, "rice cultivation in paddies", "rice"); err != nil {
		t.Fatal(err)
	}
	if err := kw.Index(ctx, 1, "wheat on dry plains", "wheat"); err != nil {
		t.Fatal(err)
	}

	r := NewRetriever(store, nil, idx, testDefaults, WithKeywordFallback(kw))
	got, err := r.Retrieve(ctx, "rice", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FullPath != "doc://rice" {
		t.Fatalf("keyword fallback results = %v", got)
	}
	if got[0].Rank != 1 {
		t.Errorf("rank = %d, want 1", got[0].Rank)
	}
}

func TestRetrieve_NoEmbedderNoKeywordIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	idx, _ := vector.NewFlatIndex(16)

	r := NewRetriever(store, nil, idx, testDefaults)
	_, err = r.Retrieve(context.Background(), "anything", Options{})
	if !errors.Is(err, models.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}
