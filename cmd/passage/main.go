// Package main is the Passage CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/embedding"
	"github.com/passagehq/passage/internal/extract"
	"github.com/passagehq/passage/internal/fileid"
	"github.com/passagehq/passage/internal/generate"
	"github.com/passagehq/passage/internal/ingest"
	"github.com/passagehq/passage/internal/rag"
	"github.com/passagehq/passage/internal/registry"
	"github.com/passagehq/passage/internal/server"
	"github.com/passagehq/passage/internal/vector"
	"github.com/passagehq/passage/internal/watcher"
	"github.com/passagehq/passage/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/passage/config.yaml"

// snippetLen bounds source snippets printed by ask.
const snippetLen = 220

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "passage server" from the project dir uses the
// project's config.
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
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "ingest":
		runIngest()
	case "delete":
		runDelete()
	case "clear":
		runClear()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("passage version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("backend", cfg.Index.Backend),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		w := watcher.NewWatcher(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			components.Pipeline,
			watchOpts...,
		)
		go func() {
			if err := w.Run(watchCtx); err != nil && watchCtx.Err() == nil {
				logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(components.Service, components.Pipeline, components.Registry, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// askArgsReorder moves flags appearing after the question to the front so
// flag.Parse() sees them. Go's flag package stops at the first non-flag
// argument, so "passage ask what is X -k 8" would otherwise ignore -k.
func askArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	askArgs := askArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	k := fs.Int("k", 0, "number of passages to retrieve (0 = config default)")
	noGenerate := fs.Bool("no-generate", false, "retrieve passages only, skip answer generation")
	maxTokens := fs.Int("max-tokens", 0, "generation token limit (0 = config default)")
	showSnippets := fs.Bool("show-snippets", true, "print source snippets")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: passage ask [flags] <question>\n\n")
		fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(askArgs)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	result, err := components.Service.Answer(context.Background(), question, rag.QueryOptions{
		K:         *k,
		Generate:  !*noGenerate,
		MaxTokens: *maxTokens,
	})
	if err != nil && result == nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		// Generation failed; the retrieved sources are still worth showing.
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if result.Answer != nil {
		fmt.Println("=== ANSWER ===")
		fmt.Println(*result.Answer)
		fmt.Println()
	}
	fmt.Println("=== SOURCES ===")
	for i, src := range result.Sources {
		marker := " "
		if i < result.UsedSources {
			marker = "*"
		}
		fmt.Printf("%s [%d] %s (chunk %d, score %.4f)\n", marker, i+1, src.DocumentID, src.ChunkIndex, src.Score)
		if *showSnippets {
			fmt.Printf("      %s\n", utils.Truncate(utils.Flatten(src.Text), snippetLen))
		}
	}
	if result.ContextTruncated {
		fmt.Printf("\n(%d of %d sources fit the context budget; * marks sources used)\n",
			result.UsedSources, len(result.Sources))
	}
	fmt.Printf("\nquery_time_ms: %d\n", result.QueryTimeMS)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: passage ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("Failed to stat %s: %v\n", path, err)
			os.Exit(1)
		}
		if info.IsDir() {
			n, err := components.Pipeline.IngestDirectory(ctx, path, cfg.Watch.Extensions)
			if err != nil {
				fmt.Printf("Ingesting directory %s failed: %v\n", path, err)
				os.Exit(1)
			}
			fmt.Printf("Ingested %d file(s) from %s\n", n, path)
			continue
		}
		res, err := components.Pipeline.IngestFile(ctx, path)
		if err != nil {
			fmt.Printf("Ingesting %s failed: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %s: %d chunk(s) as %s\n", path, res.ChunksProcessed, res.DocumentID)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	byPath := fs.Bool("path", false, "treat the argument as a file path instead of a document id")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: passage delete [flags] <document-id>")
		os.Exit(1)
	}
	target := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	docID := target
	if *byPath {
		abs, absErr := filepath.Abs(target)
		if absErr != nil {
			fmt.Printf("Invalid path: %v\n", absErr)
			os.Exit(1)
		}
		docID = fileid.FileDocID(abs)
	}
	if err := components.Pipeline.DeleteDocument(context.Background(), docID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	yes := fs.Bool("yes", false, "skip confirmation")
	_ = fs.Parse(os.Args[2:])

	if !*yes {
		fmt.Print("This removes every indexed document. Continue? [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	res, err := components.Service.Clear(context.Background())
	if err != nil {
		fmt.Printf("Clear failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cleared %s backend (reset: %t)\n", res.Backend, res.Reset)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = direct access)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var (
		health    map[string]interface{}
		documents int64
	)
	if *serverURL != "" {
		h, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		health = h
		if docs, err := documentsViaHTTP(*serverURL); err == nil {
			documents = docs
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		hs := components.Service.Health(ctx)
		raw, _ := json.Marshal(hs)
		_ = json.Unmarshal(raw, &health)
		documents, _ = components.Registry.Count(ctx)
	}

	switch *outputFormat {
	case "json":
		out := map[string]interface{}{"health": health, "documents": documents}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("backend:     %v\n", health["backend"])
		fmt.Printf("alive:       %v\n", health["alive"])
		if pc, ok := health["point_count"]; ok && pc != nil {
			fmt.Printf("points:      %v\n", pc)
		}
		fmt.Printf("dimensions:  %v\n", health["dimensions"])
		fmt.Printf("latency_ms:  %v\n", health["latency_ms"])
		fmt.Printf("documents:   %d\n", documents)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// /health answers 503 with a body when the backend is down; both are status.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func documentsViaHTTP(serverURL string) (int64, error) {
	resp, err := http.Get(serverURL + "/api/v1/documents?limit=1")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var out struct {
		Total int64 `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Total, nil
}

// Components holds initialized services.
type Components struct {
	Registry *registry.Registry
	Embedder embedding.Embedder
	Index    vector.Index
	Pipeline *ingest.Pipeline
	Service  *rag.Service
}

func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	reg, err := registry.Open(cfg.Registry.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document registry: %w", err)
	}

	index, err := vector.New(cfg.Index)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if logger != nil {
		logger.Info("vector index initialized",
			zap.String("backend", cfg.Index.Backend),
			zap.Int("dimensions", cfg.Index.Dimensions))
	}

	embedder := embedding.WithCache(embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKeyEnv:  cfg.Embedding.APIKeyEnv,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Index.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	}), cfg.Embedding.CacheSize)

	generator := generate.NewOpenAIGenerator(generate.OpenAIConfig{
		BaseURL:   cfg.Generator.BaseURL,
		APIKeyEnv: cfg.Generator.APIKeyEnv,
		Model:     cfg.Generator.Model,
		Timeout:   cfg.Generator.Timeout,
	})

	pipelineOpts := []ingest.Option{ingest.WithExtractor(extract.NewExtractor())}
	serviceOpts := []rag.Option{}
	if debug && logger != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithLogger(logger))
		serviceOpts = append(serviceOpts, rag.WithLogger(logger))
	}
	pipeline := ingest.NewPipeline(index, embedder, reg, cfg.Chunking, pipelineOpts...)
	service := rag.NewService(index, embedder, generator, reg, cfg.Retrieval, cfg.Generator, serviceOpts...)

	return &Components{
		Registry: reg,
		Embedder: embedder,
		Index:    index,
		Pipeline: pipeline,
		Service:  service,
	}, nil
}

func printUsage() {
	fmt.Println(`passage - Local retrieval-augmented question answering

Usage:
  passage server [flags]           Start the HTTP server
  passage ask [flags] <question>   Ask a question over the indexed documents
  passage ingest [flags] <path>    Ingest a file or directory
  passage delete [flags] <id>      Delete a document
  passage clear [flags]            Remove all indexed documents
  passage status [flags]           Show backend health and document count
  passage version                  Show version
  passage help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/passage/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --config string    Config file path
  --k int            Passages to retrieve (default from config)
  --no-generate      Retrieve only, skip answer generation
  --max-tokens int   Generation token limit (default from config)
  --show-snippets    Print source snippets (default: true)
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path

Delete Flags:
  --config string    Config file path
  --path             Treat the argument as a file path instead of a document id

Clear Flags:
  --config string    Config file path
  --yes              Skip confirmation

Status Flags:
  --config string    Config file path (for direct access mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct access.
  --output string    Output format: text or json (default: text)

Examples:
  passage server
  passage ingest ./docs
  passage ask what does the architecture chapter say about caching
  passage ask --k 8 --no-generate vector snapshots
  passage delete file:57ab21f309c2a1de
  passage clear --yes
  passage status --output json`)
}
