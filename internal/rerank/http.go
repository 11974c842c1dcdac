package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fieldwise/kura/internal/config"
)

// HTTPReranker calls a cross-encoder serving endpoint (TEI-style /rerank).
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPReranker creates a reranker backed by the endpoint in cfg.
func NewHTTPReranker(cfg config.RerankConfig) *HTTPReranker {
	return &HTTPReranker{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Score posts the query and candidate texts and returns one score per text
// in input order. Missing indices in the response score zero.
func (r *HTTPReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(texts))
	for _, res := range out.Results {
		if res.Index < 0 || res.Index >= len(texts) {
			return nil, fmt.Errorf("rerank response index %d out of range", res.Index)
		}
		scores[res.Index] = res.Score
	}
	return scores, nil
}

// Close is a no-op for the HTTP reranker.
func (r *HTTPReranker) Close() error {
	return nil
}
