package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/chunker"
	"github.com/fieldwise/kura/internal/config"
	"github.com/fieldwise/kura/internal/embedding"
	"github.com/fieldwise/kura/internal/ingest"
	"github.com/fieldwise/kura/internal/llm"
	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/search"
	"github.com/fieldwise/kura/internal/storage"
	"github.com/fieldwise/kura/internal/vector"
)

type cannedGenerator struct{ answer string }

func (g cannedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.answer, nil
}

func (g cannedGenerator) Close() error { return nil }

func testServer(t *testing.T) (*Server, *ingest.Engine) {
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
	retriever := search.NewRetriever(store, emb, idx, search.Options{TopK: 30, RerankTopN: 5})
	ask := llm.NewAskService(retriever, cannedGenerator{answer: "a canned answer"}, search.Options{}, nil)
	srv := NewServer(eng, retriever, ask, store, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
	return srv, eng
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/ingest", models.IngestRequest{
		Title:   "Rice",
		Content: "Rice grows in flooded paddies.",
		URL:     "doc://rice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Chunks != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleIngest_WikiProvenance(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ingest", models.IngestRequest{
		Title:   "Rice",
		Content: "Rice grows in flooded paddies.",
		URL:     "wiki://Rice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	recs, err := srv.store.FetchByIDs(context.Background(), []int64{0})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].RepType != models.RepTypeWiki {
		t.Errorf("rep_type = %q, want %q", recs[0].RepType, models.RepTypeWiki)
	}
	if recs[0].Source != "Wiki: Rice" {
		t.Errorf("source = %q, want \"Wiki: Rice\"", recs[0].Source)
	}
}

func TestHandleIngest_MissingURL(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ingest", models.IngestRequest{
		Title:   "No source",
		Content: "text",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleIngest_ResendReplaces(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	for _, content := range []string{"first version", "second version"} {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/ingest", models.IngestRequest{
			Title: "Doc", Content: content, URL: "doc://a",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/status", nil)
	var status models.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.ChunkCount != 1 || status.SourceCount != 1 {
		t.Errorf("status = %+v, want 1 chunk 1 source", status)
	}
}

func TestHandleAsk(t *testing.T) {
	srv, eng := testServer(t)
	if _, err := eng.Ingest(context.Background(), models.SourceDoc{
		FullPath: "doc://rice", DisplayName: "rice", Text: "Rice grows in paddies.", RepType: models.RepTypeFile,
	}, false); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ask", models.AskRequest{Query: "Rice grows in paddies."})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "a canned answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) == 0 {
		t.Error("expected sources")
	}
}

func TestHandleAsk_EmptyQuery(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ask", models.AskRequest{Query: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	srv, eng := testServer(t)
	if _, err := eng.Ingest(context.Background(), models.SourceDoc{
		FullPath: "doc://rice", DisplayName: "rice", Text: "Rice grows in paddies.", RepType: models.RepTypeFile,
	}, false); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search", searchRequest{Query: "Rice grows in paddies."})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "doc://rice") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	srv, eng := testServer(t)
	if _, err := eng.Ingest(context.Background(), models.SourceDoc{
		FullPath: "doc://rice", DisplayName: "rice", Text: "Rice grows in paddies.", RepType: models.RepTypeFile,
	}, false); err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/documents?path=doc%3A%2F%2Frice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if eng.HasSource("doc://rice") {
		t.Error("source still present after delete")
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/documents", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing path: status = %d, want 400", rec.Code)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status models.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.ChunkCount != 0 || status.DriftCount != 0 {
		t.Errorf("fresh status = %+v", status)
	}
}

func TestHandleAsk_NoModelConfigured(t *testing.T) {
	srv, _ := testServer(t)
	srv.ask = nil
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ask", models.AskRequest{Query: "anything"})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
