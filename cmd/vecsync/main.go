// Package main is the vecsync CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/hyperjump/vecsync/internal/chunkstore"
	"github.com/hyperjump/vecsync/internal/cli"
	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/embedding"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/persist"
	"github.com/hyperjump/vecsync/internal/pipeline"
	"github.com/hyperjump/vecsync/internal/search"
	"github.com/hyperjump/vecsync/internal/server"
	"github.com/hyperjump/vecsync/internal/syncer"
	"github.com/hyperjump/vecsync/internal/tracker"
	"github.com/hyperjump/vecsync/internal/watcher"
	"github.com/hyperjump/vecsync/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vecsync/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development). When neither exists, the
// built-in defaults are used with paths relative to the current directory.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		fallback := filepath.Join(cwd, "config.yaml")
		if _, statErr := os.Stat(fallback); statErr == nil {
			path = fallback
		} else if _, statErr := os.Stat(defaultConfigPath); errors.Is(statErr, os.ErrNotExist) {
			cfg := config.DefaultConfig()
			config.ExpandPaths(cfg, cwd)
			if err := cfg.Validate(); err != nil {
				return nil, "", fmt.Errorf("invalid config: %w", err)
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// loadEnv reads .env from the config directory and the current directory. Variables
// already set in the environment win; missing files are ignored.
func loadEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "run":
		runPipeline()
	case "sync":
		runSync()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "server":
		runServer()
	case "version", "--version", "-v":
		fmt.Printf("vecsync version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`vecsync keeps a persisted vector index in step with a chunk store.

Usage: vecsync <command> [flags]

Commands:
  run       run the pipeline stages (crawl, download, clean, chunk), then embed
  sync      embed chunks not yet in the index and persist the result
  search    nearest-neighbor search over the persisted index
  status    show index, store and tracker status
  watch     sync whenever the chunk store changes
  server    start the HTTP API
  version   print the version
  help      show this help

Every command accepts -config <path> (default ` + defaultConfigPath + `,
or ./config.yaml when present). Run "vecsync <command> -h" for command flags.
`)
}

// setup loads config, .env and the logger shared by every local command.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := loadEnv(resolved); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPipeline() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	output := fs.String("output", "text", "output format: text, compact or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	result, err := components.Runner.Run(ctx)
	if result != nil {
		if format == cli.OutputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
		} else {
			for _, st := range result.Stages {
				fmt.Printf("stage %-10s %s", st.Name, st.Status)
				if st.Error != "" {
					fmt.Printf(" (%s)", st.Error)
				}
				fmt.Println()
			}
			_ = cli.WriteSyncReport(os.Stdout, result.Sync, format)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline failed: %v\n", err)
		os.Exit(1)
	}
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "trigger the sync on a running server instead of locally")
	output := fs.String("output", "text", "output format: text, compact or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	if *serverURL != "" {
		report, err := syncViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteSyncReport(os.Stdout, report, format)
		return
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	report, err := components.Runner.Embed(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSyncReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: vecsync search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  vecsync search machine learning
  vecsync search "machine learning" -limit 20
  vecsync search -server http://localhost:8080 -output json neural networks
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchLimitDefaultFromConfig returns the configured default result limit, or 10 when
// the config cannot be loaded.
func searchLimitDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.Search.DefaultLimit <= 0 {
		return 10
	}
	return cfg.Search.DefaultLimit
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
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

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	defaultLimit := searchLimitDefaultFromConfig(searchConfigPathFromArgs(searchArgs, defaultConfigPath))

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the persisted index directly)")
	limit := fs.Int("limit", defaultLimit, "number of results")
	output := fs.String("output", "text", "output format: text, compact or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*output)
	searchQuery := &models.SearchQuery{Query: queryStr, Limit: *limit}

	var response *models.SearchResponse
	var err error
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, searchQuery)
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(cfg, logger)
		if initErr != nil {
			logger.Fatal("Failed to initialize", zap.Error(initErr))
		}
		defer components.Close()
		response, err = components.Engine.Search(context.Background(), searchQuery)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the persisted state directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	var status map[string]interface{}
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		status, err = server.CollectStatus(context.Background(), components.Engine, components.Store, components.Tracker, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	w := newChunkWatcher(cfg, logger, components, nil)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer w.Stop()
	if _, err := components.Runner.Embed(ctx); err != nil {
		logger.Error("initial sync failed", zap.Error(err))
	}
	logger.Info("watching chunk store", zap.String("path", w.Path()))
	<-ctx.Done()
	logger.Info("Shutting down...")
}

// newChunkWatcher returns a watcher that syncs on every chunk store change and then
// calls after, if set.
func newChunkWatcher(cfg *config.Config, logger *zap.Logger, c *Components, after func()) *watcher.Watcher {
	return watcher.NewWatcher(cfg.Chunks.WatchedPath(), func(ctx context.Context) {
		report, err := c.Runner.Embed(ctx)
		if err != nil {
			logger.Error("sync after chunk store change failed", zap.Error(err))
		} else if report != nil {
			logger.Info("sync completed", zap.String("run_id", report.RunID), zap.Int("embedded", report.Embedded))
		}
		if after != nil && report != nil && report.Persisted {
			after()
		}
	}, watcher.WithDebounce(cfg.Watch.Debounce), watcher.WithLogger(logger))
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	if cfg.Watch.Enabled {
		w := newChunkWatcher(cfg, logger, components, components.Engine.Invalidate)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Engine, components.Runner, components.Store, components.Tracker, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	var response models.SearchResponse
	if err := postJSON(serverURL+"/api/v1/search", query, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// syncViaHTTP triggers a sync on the server. A nil report means the server skipped
// the run because there were no chunks.
func syncViaHTTP(serverURL string) (*syncer.Report, error) {
	var raw json.RawMessage
	if err := postJSON(serverURL+"/api/v1/sync", nil, &raw); err != nil {
		return nil, err
	}
	var skipped struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &skipped); err == nil && skipped.Status == "skipped" {
		return nil, nil
	}
	var report syncer.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &report, nil
}

func postJSON(url string, in, out interface{}) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := http.Post(url, "application/json", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Reader     chunkstore.Reader
	Embedder   embedding.Embedder
	Store      persist.Store
	Tracker    *tracker.Tracker
	Controller *syncer.Controller
	Runner     *pipeline.Runner
	Engine     *search.Engine
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	reader, err := chunkstore.New(cfg.Chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunk store: %w", err)
	}
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	store, err := persist.New(cfg.Index,
		persist.WithLogger(logger),
		persist.WithLockStaleAfter(cfg.Index.LockStaleAfter),
		persist.WithBusyTimeout(cfg.Index.BusyTimeout),
	)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize index store: %w", err)
	}
	tr := tracker.New(cfg.Tracker.Path)

	controller := syncer.NewController(store, embedder, tr,
		syncer.WithLogger(logger),
		syncer.WithIndexType(cfg.Index.Type),
		syncer.WithDuplicatePolicy(cfg.Sync.DuplicatePolicy),
	)
	runner := pipeline.NewRunner(reader, controller,
		pipeline.WithLogger(logger),
		pipeline.WithStages(pipeline.StagesFromConfig(cfg.Pipeline.Stages, logger)...),
	)
	engine := search.NewEngine(store, embedder, &cfg.Search, search.WithLogger(logger))

	logger.Info("components initialized",
		zap.String("chunk_source", cfg.Chunks.Source),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("index_backend", cfg.Index.Backend),
	)
	return &Components{
		Reader:     reader,
		Embedder:   embedder,
		Store:      store,
		Tracker:    tr,
		Controller: controller,
		Runner:     runner,
		Engine:     engine,
	}, nil
}
