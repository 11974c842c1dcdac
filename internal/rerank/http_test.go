package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldwise/kura/internal/config"
)

func TestHTTPReranker_ScoresInInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Respond out of order to prove the client maps by index.
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 1, Score: 0.9},
			{Index: 0, Score: 0.2},
		}})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(config.RerankConfig{Endpoint: srv.URL, Model: "m", Timeout: 5 * time.Second})
	scores, err := rr.Score(context.Background(), "q", []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] != 0.2 || scores[1] != 0.9 {
		t.Errorf("scores = %v, want [0.2 0.9]", scores)
	}
}

func TestHTTPReranker_EmptyInput(t *testing.T) {
	rr := NewHTTPReranker(config.RerankConfig{Endpoint: "http://unused", Timeout: time.Second})
	scores, err := rr.Score(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if scores != nil {
		t.Errorf("empty input should not call the endpoint, got %v", scores)
	}
}

func TestHTTPReranker_BadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{{Index: 5, Score: 1}}})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(config.RerankConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	if _, err := rr.Score(context.Background(), "q", []string{"only"}); err == nil {
		t.Fatal("out of range index should fail")
	}
}

func TestMockReranker_Overlap(t *testing.T) {
	m := NewMockReranker()
	scores, err := m.Score(context.Background(), "rice paddy", []string{
		"rice grows in a paddy",
		"wheat fields",
	})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] <= scores[1] {
		t.Errorf("overlap scoring wrong: %v", scores)
	}
}
