// Package main is the manabu CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/annotation"
	"github.com/hyperjump/manabu/internal/attempt"
	"github.com/hyperjump/manabu/internal/blob"
	"github.com/hyperjump/manabu/internal/cli"
	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/document"
	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/parser"
	"github.com/hyperjump/manabu/internal/provider"
	"github.com/hyperjump/manabu/internal/quiz"
	"github.com/hyperjump/manabu/internal/server"
	"github.com/hyperjump/manabu/internal/storage"
	"github.com/hyperjump/manabu/internal/watcher"
	"github.com/hyperjump/manabu/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/manabu/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	defaultUser       = "local"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
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
	case "parse":
		runParse()
	case "search":
		runSearch()
	case "ingest":
		runIngest()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("manabu version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// mustSetup loads config and builds a logger and the components, exiting on failure.
func mustSetup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := mustSetup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	watchSvc := watcher.New(
		components.Documents,
		cfg.Watch.UserID,
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(components.Services(), &cfg.Server, cfg.Storage.MaxUploadBytes, logger,
		watchSvc, resolvedConfigPath, cfg)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runParse() {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: manabu parse [--output text|json] <file>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	res, err := parseFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteParseResult(os.Stdout, filepath.Base(fs.Arg(0)), res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// parseFile runs the document parser on a local file, detecting the format from its
// extension.
func parseFile(path string) (*parser.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return parser.NewParser().Parse(data, mime.TypeByExtension(filepath.Ext(path)), filepath.Base(path))
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
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

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: manabu search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
An exact search with no hits on the first page is retried with typo tolerance.

Examples:
  manabu search photosynthesis
  manabu search --fuzzy mitochondira
  manabu search --server "" --user alice cell biology   # direct storage
`)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	user := fs.String("user", defaultUser, "user whose documents to search")
	page := fs.Int("page", 1, "result page")
	limit := fs.Int("limit", 10, "results per page")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	q := models.SearchQuery{Query: queryStr, Page: *page, Limit: *limit, Fuzzy: *fuzzy}

	var response *models.SearchResponse
	if *serverURL != "" {
		// The HTTP API avoids the Bleve and SQLite locks a running server holds.
		response, err = newAPIClient(*serverURL, *user).search(q)
	} else {
		_, _, logger, components := mustSetup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		response, err = components.Documents.Search(context.Background(), *user, q)
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
	configPath := fs.String("config", defaultConfigPath, "config file path (direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	user := fs.String("user", defaultUser, "user to report on")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	status := &cli.Status{User: *user}
	if *serverURL != "" {
		status.Stats, err = newAPIClient(*serverURL, *user).stats()
	} else {
		cfg, _, logger, components := mustSetup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		status, err = components.status(context.Background(), cfg, *user)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// runIngest uploads local files directly into storage, as the inbox watcher does. Run it
// while the server is stopped.
func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	user := fs.String("user", "", "owner of the documents (default: watch.user_id)")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: manabu ingest [flags] <file-or-directory>")
		os.Exit(1)
	}

	cfg, _, logger, components := mustSetup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	owner := *user
	if owner == "" {
		owner = cfg.Watch.UserID
	}

	n, err := components.ingest(context.Background(), owner, fs.Arg(0), cfg.Watch.Extensions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d file(s) for %s\n", n, owner)
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: manabu watch <add|remove|list> [path]")
		fmt.Println("  manabu watch add <path>     Add an inbox directory")
		fmt.Println("  manabu watch remove <path>  Remove an inbox directory")
		fmt.Println("  manabu watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	user := fs.String("user", defaultUser, "caller user id")
	_ = fs.Parse(os.Args[3:])
	client := newAPIClient(*serverURL, *user)

	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			fmt.Printf("Usage: manabu watch %s <path>\n", sub)
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		var err error
		if sub == "add" {
			err = client.addWatchDirectory(path)
		} else {
			err = client.removeWatchDirectory(path)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Watch %s failed: %v\n", sub, err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s\n", map[string]string{"add": "Added", "remove": "Removed"}[sub], path)
	case "list":
		dirs, err := client.watchDirectories()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Watch list failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage     *storage.SQLStorage
	Blobs       *blob.Store
	Index       *keyword.BleveIndex
	Runner      *jobs.Runner
	Factory     *provider.Factory
	Documents   *document.Service
	Annotations *annotation.Service
	Quizzes     *quiz.Service
	Attempts    *attempt.Service
	Providers   *provider.Service
}

// Services returns the services the HTTP API exposes.
func (c *Components) Services() server.Services {
	return server.Services{
		Documents:   c.Documents,
		Annotations: c.Annotations,
		Quizzes:     c.Quizzes,
		Attempts:    c.Attempts,
		Providers:   c.Providers,
	}
}

// Close drains queued jobs, releases cached provider clients, then closes the index
// and the database.
func (c *Components) Close() {
	if c.Runner != nil {
		c.Runner.Stop()
	}
	if c.Factory != nil {
		c.Factory.RefreshAll()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	var err error
	if c.Storage, err = storage.Open(cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c.Blobs, err = blob.NewStore(cfg.Storage.UploadDir); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize upload storage: %w", err)
	}
	if c.Index, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Runner = jobs.NewRunner(
		jobs.WithWorkers(cfg.Pipeline.Workers),
		jobs.WithQueueSize(cfg.Pipeline.QueueSize),
		jobs.WithTimeout(cfg.Pipeline.JobTimeout),
		jobs.WithLogger(logger),
	)
	c.Factory = provider.NewFactory(c.Storage, cfg.Provider, provider.WithLogger(logger))
	c.Documents = document.NewService(c.Storage, c.Blobs, c.Runner,
		document.WithIndex(c.Index),
		document.WithMaxUploadBytes(cfg.Storage.MaxUploadBytes),
		document.WithLogger(logger))
	c.Quizzes = quiz.NewService(c.Storage, c.Factory, c.Runner,
		quiz.WithPointsPerQuestion(cfg.Pipeline.PointsPerQuestion),
		quiz.WithMaxQuestions(cfg.Pipeline.MaxQuestions),
		quiz.WithLogger(logger))
	c.Annotations = annotation.NewService(c.Storage, c.Factory, annotation.WithLogger(logger))
	c.Attempts = attempt.NewService(c.Storage, attempt.WithLogger(logger))
	c.Providers = provider.NewService(c.Storage, c.Factory, logger)

	for _, h := range []jobs.Handler{c.Documents.Handler(), c.Quizzes.Handler()} {
		if err := c.Runner.Register(h); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to register job handler: %w", err)
		}
	}
	c.Runner.Start()
	return c, nil
}

// ingest ingests a file or every supported file under a directory, then waits for the
// queued parse jobs to finish.
func (c *Components) ingest(ctx context.Context, userID, path string, exts []string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	var n int
	if info.IsDir() {
		n, err = c.Documents.IngestDirectory(ctx, userID, path, exts)
	} else if _, err = c.Documents.Ingest(ctx, userID, path); err == nil {
		n = 1
	}
	c.Runner.Stop()
	return n, err
}

func (c *Components) status(ctx context.Context, cfg *config.Config, userID string) (*cli.Status, error) {
	stats, err := c.Documents.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	indexed, err := c.Index.DocCount()
	if err != nil {
		return nil, err
	}
	return &cli.Status{
		User:           userID,
		Stats:          stats,
		DatabasePath:   cfg.Storage.DatabasePath,
		BleveIndexPath: cfg.Storage.BleveIndexPath,
		UploadDir:      cfg.Storage.UploadDir,
		IndexedDocs:    indexed,
	}, nil
}

func printUsage() {
	fmt.Println(`manabu - documents, annotations and generated quizzes

Usage:
  manabu server [flags]            Start the HTTP server
  manabu parse [flags] <file>      Parse a file and print its canonical text blocks
  manabu search [flags] <query>    Search documents
  manabu ingest [flags] <path>     Ingest a file or directory into storage
  manabu status [flags]            Show document counts and storage locations
  manabu watch <add|remove|list>   Manage inbox directories
  manabu version                   Show version
  manabu help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/manabu/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --user string      User id (default: local)
  --page int         Result page (default: 1)
  --limit int        Results per page (default: 10)
  --fuzzy            Enable typo tolerance
  --output string    text or json

Examples:
  manabu server
  manabu parse notes.docx
  manabu search --user alice "cell biology"
  manabu ingest --user alice ~/Documents/lectures
  manabu status --output json
  manabu watch add ~/inbox`)
}
