// Package config provides configuration loading and structs for the Kura server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	LLM       LLMConfig       `yaml:"llm"`
	Wiki      WikiConfig      `yaml:"wiki"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the metadata database and the indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	DataDir          string `yaml:"data_dir"`
}

// EmbeddingConfig holds embedder settings. Provider is one of "ollama",
// "onnx", "mock", or "none" (keyword-only retrieval).
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
	// AsymmetricPrefixes enables the e5-style "passage: " / "query: "
	// input markers for models trained with them.
	AsymmetricPrefixes bool `yaml:"asymmetric_prefixes"`
}

// RerankConfig holds cross-encoder reranker settings.
type RerankConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	TopN           int           `yaml:"top_n"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds vector search settings.
type RetrievalConfig struct {
	TopK      int    `yaml:"top_k"`
	IndexType string `yaml:"index_type"`
	// RequireIndex makes a missing vector index file fatal at startup.
	// Serving processes set this; ingestion paths create a fresh index.
	RequireIndex bool `yaml:"require_index"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	Size           int `yaml:"size"`
	Overlap        int `yaml:"overlap"`
	SingleChunkMax int `yaml:"single_chunk_max"`
}

// LLMConfig holds answer generation settings.
type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WikiConfig holds MediaWiki crawl settings.
type WikiConfig struct {
	APIURL    string `yaml:"api_url"`
	PageLimit int    `yaml:"page_limit"`
}

// WatchConfig holds data directory watch settings.
type WatchConfig struct {
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
