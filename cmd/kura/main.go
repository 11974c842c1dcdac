// Package main is the Kura CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/chunker"
	"github.com/fieldwise/kura/internal/cli"
	"github.com/fieldwise/kura/internal/config"
	"github.com/fieldwise/kura/internal/embedding"
	"github.com/fieldwise/kura/internal/extract"
	"github.com/fieldwise/kura/internal/ingest"
	"github.com/fieldwise/kura/internal/keyword"
	"github.com/fieldwise/kura/internal/llm"
	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/rerank"
	"github.com/fieldwise/kura/internal/search"
	"github.com/fieldwise/kura/internal/server"
	"github.com/fieldwise/kura/internal/storage"
	"github.com/fieldwise/kura/internal/vector"
	"github.com/fieldwise/kura/internal/watcher"
	"github.com/fieldwise/kura/internal/wiki"
	"github.com/fieldwise/kura/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kura/config.yaml"

// loadConfig loads config from path. When path is the default, a
// config.yaml in the current directory takes precedence so running from
// the project directory picks up the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "ingest":
		runIngest()
	case "watch":
		runWatch()
	case "delete":
		runDelete()
	case "crawl":
		runCrawl()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kura version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex *keyword.BleveIndex
	Reranker     rerank.Reranker
	Engine       *ingest.Engine
	Retriever    *search.Retriever
	Ask          *llm.AskService
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Reranker != nil {
		_ = c.Reranker.Close()
	}
}

// serving toggles the missing-index policy: a serving process with
// require_index set refuses to start without a persisted vector index,
// while ingestion starts from an empty one.
func initializeComponents(cfg *config.Config, logger *zap.Logger, serving bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorIndex, err := vector.New(cfg.Retrieval.IndexType, cfg.Embedding.Dimensions)
	if err != nil {
		if cfg.Retrieval.IndexType != string(vector.IndexTypeFlat) && cfg.Retrieval.IndexType != "" {
			logger.Warn("failed to create vector index, falling back to flat",
				zap.String("requested_type", cfg.Retrieval.IndexType),
				zap.Error(err))
			vectorIndex, err = vector.New(string(vector.IndexTypeFlat), cfg.Embedding.Dimensions)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}
	if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
		if serving && cfg.Retrieval.RequireIndex && errors.Is(loadErr, models.ErrIndexUnavailable) {
			return nil, fmt.Errorf("require_index is set: %w", loadErr)
		}
		logger.Warn("vector index not loaded, starting empty",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
	}
	logger.Info("vector index initialized",
		zap.String("type", cfg.Retrieval.IndexType),
		zap.Int("size", vectorIndex.Size()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	ch := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.SingleChunkMax)
	engine, err := ingest.NewEngine(store, embedder, vectorIndex, ch, cfg.Storage.VectorIndexPath,
		ingest.WithKeywordIndex(keywordIndex),
		ingest.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingest engine: %w", err)
	}

	var reranker rerank.Reranker
	retrieverOpts := []search.RetrieverOption{
		search.WithKeywordFallback(keywordIndex),
		search.WithLogger(logger),
	}
	if cfg.Rerank.Enabled {
		reranker = rerank.NewHTTPReranker(cfg.Rerank)
		retrieverOpts = append(retrieverOpts, search.WithReranker(reranker))
	}
	retrieveDefaults := search.Options{
		TopK:           cfg.Retrieval.TopK,
		RerankTopN:     cfg.Rerank.TopN,
		ScoreThreshold: cfg.Rerank.ScoreThreshold,
	}
	retriever := search.NewRetriever(store, embedder, vectorIndex, retrieveDefaults, retrieverOpts...)

	var ask *llm.AskService
	if cfg.LLM.Endpoint != "" {
		gen := llm.NewOllamaClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.Timeout)
		askOpts := retrieveDefaults
		askOpts.UseReranker = cfg.Rerank.Enabled
		ask = llm.NewAskService(retriever, gen, askOpts, logger)
	}

	return &Components{
		Storage:      store,
		Embedder:     embedder,
		VectorIndex:  vectorIndex,
		KeywordIndex: keywordIndex,
		Reranker:     reranker,
		Engine:       engine,
		Retriever:    retriever,
		Ask:          ask,
	}, nil
}

func setup(configPath string, serving bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("config loaded", zap.String("config_path", resolvedPath), zap.Bool("debug", cfg.Debug))
	components, err := initializeComponents(cfg, logger, serving)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	flags := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	_ = flags.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, true)
	defer logger.Sync()
	defer components.Close()

	var watchSvc *watcher.Watcher
	if cfg.Storage.DataDir != "" {
		watchSvc = newDataDirWatcher(cfg, logger, components.Engine)
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go watchSvc.SyncExisting()
	}

	srv := server.NewServer(components.Engine, components.Retriever, components.Ask, components.Storage, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// newDataDirWatcher builds a watcher that mirrors data_dir file events
// into the ingest engine.
func newDataDirWatcher(cfg *config.Config, logger *zap.Logger, engine *ingest.Engine) *watcher.Watcher {
	extractor := extract.NewExtractor()
	return watcher.New(
		cfg.Storage.DataDir,
		cfg.Watch.Extensions,
		func(path string) {
			if err := ingestFile(context.Background(), engine, extractor, path); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			abs, _ := filepath.Abs(path)
			if _, err := engine.Delete(context.Background(), abs); err != nil {
				logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithLogger(logger),
	)
}

func runWatch() {
	flags := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	_ = flags.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	if cfg.Storage.DataDir == "" {
		fmt.Fprintln(os.Stderr, "storage.data_dir is not configured")
		os.Exit(1)
	}

	watchSvc := newDataDirWatcher(cfg, logger, components.Engine)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExisting()
	logger.Info("watching", zap.String("dir", cfg.Storage.DataDir))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	watchSvc.Stop()
	if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
}

// ingestFile extracts a document file and replaces its chunks.
func ingestFile(ctx context.Context, engine *ingest.Engine, extractor *extract.Extractor, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	text, err := extractor.Extract(abs)
	if err != nil {
		return err
	}
	_, err = engine.Reingest(ctx, models.SourceDoc{
		FullPath:    abs,
		DisplayName: filepath.Base(abs),
		Text:        text,
		RepType:     models.RepTypeFile,
	})
	return err
}

func runAsk() {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	serverURL := flags.String("server", "http://localhost:8600", "server URL (empty = answer locally)")
	outputFormat := flags.String("output", "text", "output format: text or json")
	_ = flags.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if flags.NArg() < 1 {
		fmt.Println("Usage: kura ask [flags] <question>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(flags.Args(), " "))
	if query == "" {
		fmt.Println("Usage: kura ask [flags] <question>")
		os.Exit(1)
	}

	var resp *models.AskResponse
	if *serverURL != "" {
		var err error
		resp, err = askViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, true)
		defer logger.Sync()
		defer components.Close()
		if components.Ask == nil {
			fmt.Fprintln(os.Stderr, "No answer model configured (llm.endpoint is empty)")
			os.Exit(1)
		}
		var err error
		resp, err = components.Ask.Ask(context.Background(), query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, query string) (*models.AskResponse, error) {
	body, err := json.Marshal(models.AskRequest{Query: query})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out models.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runSearch() {
	flags := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	topK := flags.Int("top-k", 0, "number of candidates (0 = config default)")
	useRerank := flags.Bool("rerank", false, "rerank candidates with the cross-encoder")
	outputFormat := flags.String("output", "text", "output format: text or json")
	_ = flags.Parse(os.Args[2:])

	if flags.NArg() < 1 {
		fmt.Println("Usage: kura search [flags] <query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(flags.Args(), " "))
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, logger, components := setup(*configPath, true)
	defer logger.Sync()
	defer components.Close()

	chunks, err := components.Retriever.Retrieve(context.Background(), query, search.Options{
		TopK:        *topK,
		UseReranker: *useRerank,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteChunks(os.Stdout, chunks, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runIngest() {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	_ = flags.Parse(os.Args[2:])

	if flags.NArg() < 1 {
		fmt.Println("Usage: kura ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := flags.Arg(0)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	extractor := extract.NewExtractor()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		files := 0
		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !extract.Supported(filepath.Ext(p)) {
				return nil
			}
			if err := ingestFile(ctx, components.Engine, extractor, p); err != nil {
				logger.Warn("ingest failed", zap.String("path", p), zap.Error(err))
				return nil
			}
			files++
			return nil
		})
		if walkErr != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", walkErr)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", files, path)
		return
	}
	if err := ingestFile(ctx, components.Engine, extractor, path); err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(path)
	fmt.Printf("Ingested: %s\n", abs)
}

func runDelete() {
	flags := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	serverURL := flags.String("server", "", "server URL (empty = delete locally)")
	_ = flags.Parse(os.Args[2:])

	if flags.NArg() < 1 {
		fmt.Println("Usage: kura delete [flags] <full-path>")
		fmt.Println("  full-path is the source identifier: an absolute file path or wiki://Title")
		os.Exit(1)
	}
	fullPath := flags.Arg(0)

	if *serverURL != "" {
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/documents?path="+url.QueryEscape(fullPath), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Deleted: %s\n", fullPath)
		return
	}

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ids, err := components.Engine.Delete(context.Background(), fullPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d chunk(s): %s\n", len(ids), fullPath)
}

func runCrawl() {
	flags := flag.NewFlagSet("crawl", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	_ = flags.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	if cfg.Wiki.APIURL == "" {
		fmt.Fprintln(os.Stderr, "wiki.api_url is not configured")
		os.Exit(1)
	}
	crawler := wiki.NewCrawler(cfg.Wiki.APIURL, cfg.Wiki.PageLimit, components.Engine, wiki.WithLogger(logger))
	stats, err := crawler.Crawl(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crawl failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Crawled %d page(s), %d chunk(s), %d skipped\n", stats.Pages, stats.Chunks, stats.Skipped)
}

func runStatus() {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "config file path")
	serverURL := flags.String("server", "http://localhost:8600", "server URL (empty = read storage directly)")
	sweep := flags.Bool("sweep", false, "remove vector entries with no metadata row (direct mode only)")
	outputFormat := flags.String("output", "text", "output format: text or json")
	_ = flags.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status models.StatusResponse
	if *serverURL != "" && !*sweep {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		ctx := context.Background()

		if *sweep {
			removed, err := components.Engine.Sweep(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Sweep removed %d orphan vector(s)\n", removed)
		}
		chunks, err := components.Storage.Count(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count failed: %v\n", err)
			os.Exit(1)
		}
		status = models.StatusResponse{
			ChunkCount:  chunks,
			SourceCount: components.Engine.SourceCount(),
			IndexSize:   components.Engine.IndexSize(),
			DriftCount:  components.Engine.DriftCount(),
		}
	}

	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*models.StatusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`kura - document question answering over a local chunk store

Usage:
  kura server [flags]            Start the HTTP server (and data-dir watcher)
  kura ask [flags] <question>    Ask a question against the stored documents
  kura search [flags] <query>    Retrieve chunks without generating an answer
  kura ingest [flags] <path>     Ingest a file or directory
  kura watch [flags]             Watch the data directory and sync changes
  kura delete [flags] <path>     Delete all chunks of a source
  kura crawl [flags]             Crawl the configured wiki into the store
  kura status [flags]            Show store and index state
  kura version                   Show version
  kura help                      Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kura/config.yaml;
                     a config.yaml in the current directory takes precedence)
  --server string    Server URL for ask/delete/status (empty = work on local storage)

Examples:
  kura server
  kura ask "How is rice planted?"
  kura search --rerank --top-k 10 rice planting
  kura ingest ./docs
  kura delete wiki://Rice
  kura crawl
  kura status --sweep --server ""`)
}
