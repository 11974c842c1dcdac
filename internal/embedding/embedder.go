// Package embedding provides text embedding backends and caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/fieldwise/kura/internal/config"
)

// Asymmetric input markers used by e5-family models. Documents and queries
// are embedded into the same space but formatted differently.
const (
	DocPrefix   = "passage: "
	QueryPrefix = "query: "
)

// Embedder produces unit-normalized vector embeddings. Document-side and
// query-side calls are separate so asymmetric models can format each
// differently; symmetric backends treat them identically.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg.Provider and wraps it in an LRU
// cache. Provider "none" returns nil: retrieval degrades to keyword search.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder
	var err error
	switch cfg.Provider {
	case "ollama":
		inner = NewOllamaEmbedder(cfg)
	case "onnx":
		inner, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
	case "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
