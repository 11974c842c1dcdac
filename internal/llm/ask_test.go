package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/search"
)

type stubRetriever struct {
	chunks []models.RetrievedChunk
	err    error
}

func (s stubRetriever) Retrieve(ctx context.Context, query string, opts search.Options) ([]models.RetrievedChunk, error) {
	return s.chunks, s.err
}

type stubGenerator struct {
	answer string
	err    error
	prompt string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.answer, s.err
}

func (s *stubGenerator) Close() error { return nil }

func TestAsk_AnswersWithSources(t *testing.T) {
	chunks := []models.RetrievedChunk{
		{Rank: 1, ID: 0, Text: "Rice grows in paddies.", Source: "rice.txt"},
		{Rank: 2, ID: 3, Text: "Wheat grows in fields.", Source: "wheat.txt"},
	}
	gen := &stubGenerator{answer: "In flooded paddies."}
	svc := NewAskService(stubRetriever{chunks: chunks}, gen, search.Options{}, nil)

	got, err := svc.Ask(context.Background(), "Where does rice grow?")
	if err != nil {
		t.Fatal(err)
	}
	if got.Answer != "In flooded paddies." {
		t.Errorf("answer = %q", got.Answer)
	}
	if len(got.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(got.Sources))
	}
	if !strings.Contains(gen.prompt, "[1] (rice.txt) Rice grows in paddies.") {
		t.Errorf("prompt missing numbered context:\n%s", gen.prompt)
	}
	if !strings.Contains(gen.prompt, "Question: Where does rice grow?") {
		t.Errorf("prompt missing question:\n%s", gen.prompt)
	}
}

func TestAsk_NoContextShortCircuits(t *testing.T) {
	gen := &stubGenerator{answer: "should not be called"}
	svc := NewAskService(stubRetriever{}, gen, search.Options{}, nil)

	got, err := svc.Ask(context.Background(), "unknown topic")
	if err != nil {
		t.Fatal(err)
	}
	if gen.prompt != "" {
		t.Error("generator was called with no context")
	}
	if len(got.Sources) != 0 {
		t.Errorf("sources = %v, want empty", got.Sources)
	}
	if got.Answer == "" {
		t.Error("expected a fallback answer")
	}
}

func TestAsk_GeneratorFailureWrapped(t *testing.T) {
	chunks := []models.RetrievedChunk{{Rank: 1, Text: "context"}}
	gen := &stubGenerator{err: errors.New("model offline")}
	svc := NewAskService(stubRetriever{chunks: chunks}, gen, search.Options{}, nil)

	_, err := svc.Ask(context.Background(), "anything")
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestAsk_RetrieverErrorPassesThrough(t *testing.T) {
	svc := NewAskService(stubRetriever{err: models.ErrEmptyQuery}, &stubGenerator{}, search.Options{}, nil)
	_, err := svc.Ask(context.Background(), "")
	if !errors.Is(err, models.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestOllamaClient_Generate(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "  the answer \n", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "qwen2.5:7b", 10*time.Second)
	got, err := c.Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Errorf("got %q", got)
	}
	if gotReq.Model != "qwen2.5:7b" || gotReq.Prompt != "prompt text" || gotReq.Stream {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestOllamaClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing", 10*time.Second)
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
