package rerank

import (
	"context"
	"strings"
)

// MockReranker is a deterministic reranker for tests. The default scoring is
// query-word overlap; ScoreFunc overrides it.
type MockReranker struct {
	ScoreFunc func(query, text string) float64
}

// NewMockReranker returns a reranker scoring by word overlap.
func NewMockReranker() *MockReranker {
	return &MockReranker{}
}

// Score returns one score per text.
func (m *MockReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i, text := range texts {
		if m.ScoreFunc != nil {
			scores[i] = m.ScoreFunc(query, text)
			continue
		}
		scores[i] = overlap(query, text)
	}
	return scores, nil
}

func overlap(query, text string) float64 {
	qWords := strings.Fields(strings.ToLower(query))
	tWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		tWords[w] = struct{}{}
	}
	var n float64
	for _, w := range qWords {
		if _, ok := tWords[w]; ok {
			n++
		}
	}
	return n
}

// Close is a no-op.
func (m *MockReranker) Close() error {
	return nil
}
