package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8600
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kura/data/db/chunks.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/kura/data/indices/vectors.idx"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kura/data/indices/keyword"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kura/data/docs"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "intfloat/multilingual-e5-base"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 512
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.Provider == "ollama" {
		// e5 models are asymmetric; queries and passages carry distinct markers.
		cfg.Embedding.AsymmetricPrefixes = true
	}
	if cfg.Rerank.Endpoint == "" {
		cfg.Rerank.Endpoint = "http://localhost:8601"
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "BAAI/bge-reranker-base"
	}
	if cfg.Rerank.TopN == 0 {
		cfg.Rerank.TopN = 5
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 60 * time.Second
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 30
	}
	if cfg.Retrieval.IndexType == "" {
		cfg.Retrieval.IndexType = "flat"
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}
	if cfg.Chunking.SingleChunkMax == 0 {
		cfg.Chunking.SingleChunkMax = 1200
	}
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen2.5:7b"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.Wiki.PageLimit == 0 {
		cfg.Wiki.PageLimit = 500
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".rtf", ".odt"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
