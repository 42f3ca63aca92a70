package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kbcrawl/kbcrawl/internal/config"
	"github.com/kbcrawl/kbcrawl/internal/confluence"
	"github.com/kbcrawl/kbcrawl/internal/crawl"
	"github.com/kbcrawl/kbcrawl/internal/drive"
	"github.com/kbcrawl/kbcrawl/internal/jira"
	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/logging"
	"github.com/kbcrawl/kbcrawl/internal/metrics"
	"github.com/kbcrawl/kbcrawl/internal/output"
	"github.com/kbcrawl/kbcrawl/internal/rag"
	"github.com/kbcrawl/kbcrawl/internal/remote"
	"github.com/kbcrawl/kbcrawl/internal/resolver"
	"github.com/kbcrawl/kbcrawl/internal/server"
)

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+-\d+$`)

type crawlFlags struct {
	mode       string
	jql        string
	project    string
	skipRemote bool
	outputDir  string
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [seeds...]",
		Short: "Crawls the knowledge base from the given seeds",
		Long: `Runs one crawl. Seeds come from the selected mode:

  item     explicit items, given as arguments: bare issue keys (KB-12)
           or service-qualified ids (confluence:5252907051, drive:1AbC)
  query    every issue matching the --jql query
  project  every issue in the --project tracker project

The crawl follows references between items until nothing new is found,
then flattens the results and writes them to the configured sinks.`,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.mode, "mode", "item", "seed mode: item, query or project")
	cmd.Flags().StringVar(&flags.jql, "jql", "", "JQL query for query mode")
	cmd.Flags().StringVar(&flags.project, "project", "", "project key for project mode")
	cmd.Flags().BoolVar(&flags.skipRemote, "skip-remote", false, "record cross-service links without fetching them")
	cmd.Flags().StringVar(&flags.outputDir, "output", "", "override the export directory")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, flags *crawlFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flags.skipRemote {
		cfg.Crawl.SkipRemoteContent = true
	}
	if flags.outputDir != "" {
		cfg.Output.Dir = flags.outputDir
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	fetchers, jiraFetcher, err := buildFetchers(cfg, logger)
	if err != nil {
		return err
	}

	engine := crawl.New(fetchers, crawl.NewMemoryQueue(), crawl.Options{
		Workers:           cfg.Crawl.Concurrency,
		SkipRemoteContent: cfg.Crawl.SkipRemoteContent,
		SettleDelay:       cfg.Crawl.SettleDelay(),
		Resolver:          resolver.New(logger),
	}, logger)

	stopServer := startStatusServer(cfg, runID, engine, logger)
	defer stopServer()

	seeds, err := buildSeeds(ctx, flags, args, jiraFetcher)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return errors.New("no seeds to crawl")
	}

	logger.Info("starting crawl",
		zap.String("mode", flags.mode),
		zap.Int("seeds", len(seeds)),
		zap.Int("workers", cfg.Crawl.Concurrency))

	records, runErr := engine.Run(ctx, seeds)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run crawl: %w", runErr)
	}

	return exportResults(ctx, cfg, runID, seeds, records, logger)
}

// buildFetchers constructs a fetcher per enabled source. The tracker fetcher
// is returned separately because the query and project seed modes need it.
func buildFetchers(cfg config.Config, logger *zap.Logger) ([]kb.Fetcher, *jira.Fetcher, error) {
	var fetchers []kb.Fetcher
	var jiraFetcher *jira.Fetcher

	if cfg.Jira.Enabled {
		client, err := newRemoteClient("jira", cfg.Jira, logger)
		if err != nil {
			return nil, nil, err
		}
		jiraFetcher = jira.New(client, jira.Options{PageSize: cfg.Crawl.PageSize}, logger)
		fetchers = append(fetchers, jiraFetcher)
	}
	if cfg.Confluence.Enabled {
		client, err := newRemoteClient("confluence", cfg.Confluence, logger)
		if err != nil {
			return nil, nil, err
		}
		fetchers = append(fetchers, confluence.New(client, confluence.Options{PageSize: cfg.Crawl.PageSize}, logger))
	}
	if cfg.Drive.Enabled {
		client, err := newRemoteClient("drive", cfg.Drive, logger)
		if err != nil {
			return nil, nil, err
		}
		fetchers = append(fetchers, drive.New(client, drive.Options{PageSize: cfg.Crawl.PageSize}, logger))
	}
	return fetchers, jiraFetcher, nil
}

func newRemoteClient(name string, src config.SourceConfig, logger *zap.Logger) (*remote.Client, error) {
	client, err := remote.New(remote.Config{
		Service:        name,
		BaseURL:        src.BaseURL,
		Username:       src.Username,
		APIToken:       src.APIToken,
		MaxConcurrent:  src.MaxConcurrent,
		CallDelay:      src.CallDelay(),
		RequestTimeout: src.Timeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", name, err)
	}
	return client, nil
}

// buildSeeds resolves the seed mode into initial work items. Query and
// project mode search results arrive with their payloads already fetched, so
// the workers only resolve their references.
func buildSeeds(ctx context.Context, flags *crawlFlags, args []string, jiraFetcher *jira.Fetcher) ([]kb.WorkItem, error) {
	switch flags.mode {
	case "item":
		return parseItemSeeds(args)

	case "query":
		if flags.jql == "" {
			return nil, errors.New("query mode requires --jql")
		}
		return searchSeeds(ctx, jiraFetcher, flags.jql)

	case "project":
		if flags.project == "" {
			return nil, errors.New("project mode requires --project")
		}
		jql := fmt.Sprintf("project = %s ORDER BY created DESC", flags.project)
		return searchSeeds(ctx, jiraFetcher, jql)

	default:
		return nil, fmt.Errorf("unknown mode %q (want item, query or project)", flags.mode)
	}
}

func parseItemSeeds(args []string) ([]kb.WorkItem, error) {
	if len(args) == 0 {
		return nil, errors.New("item mode requires at least one seed argument")
	}
	seeds := make([]kb.WorkItem, 0, len(args))
	for _, arg := range args {
		ref, err := parseSeedRef(arg)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, kb.WorkItem{Ref: ref})
	}
	return seeds, nil
}

func parseSeedRef(arg string) (kb.ItemRef, error) {
	if issueKeyPattern.MatchString(arg) {
		return kb.ItemRef{Service: kb.ServiceJira, ID: arg}, nil
	}
	service, id, found := strings.Cut(arg, ":")
	if !found || id == "" {
		return kb.ItemRef{}, fmt.Errorf("seed %q is neither an issue key nor service:id", arg)
	}
	switch kb.Service(service) {
	case kb.ServiceJira, kb.ServiceConfluence, kb.ServiceDrive:
		return kb.ItemRef{Service: kb.Service(service), ID: id}, nil
	default:
		return kb.ItemRef{}, fmt.Errorf("unknown service %q in seed %q", service, arg)
	}
}

func searchSeeds(ctx context.Context, jiraFetcher *jira.Fetcher, jql string) ([]kb.WorkItem, error) {
	if jiraFetcher == nil {
		return nil, errors.New("tracker source is not enabled")
	}
	records, err := jiraFetcher.SearchIssues(ctx, jql)
	if err != nil {
		return nil, err
	}
	seeds := make([]kb.WorkItem, 0, len(records))
	for _, rec := range records {
		seeds = append(seeds, kb.WorkItem{Ref: rec.Ref, Record: rec})
	}
	return seeds, nil
}

// startStatusServer serves /healthz, /status and /metrics while the crawl
// runs. The returned function shuts it down.
func startStatusServer(cfg config.Config, runID string, engine *crawl.Engine, logger *zap.Logger) func() {
	srv := server.New(runID, engine.Stats, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
}

// exportResults flattens the crawl output and writes it to every configured
// sink: the local export directory always, then GCS, Postgres and Pub/Sub
// when configured.
func exportResults(ctx context.Context, cfg config.Config, runID string, seeds []kb.WorkItem, records []*kb.Record, logger *zap.Logger) error {
	docs := rag.Flatten(records)
	failures := 0
	for _, rec := range records {
		if rec.Failed {
			failures++
		}
	}

	writer, err := output.NewFSWriter(output.FSConfig{BaseDir: cfg.Output.Dir})
	if err != nil {
		return fmt.Errorf("init export writer: %w", err)
	}
	docsURI, err := writer.WriteDocuments(ctx, path.Join(runID, "documents.jsonl"), docs)
	if err != nil {
		return fmt.Errorf("write documents: %w", err)
	}
	if _, err := writer.WriteRecords(ctx, path.Join(runID, "records.json"), records); err != nil {
		return fmt.Errorf("write records: %w", err)
	}

	exportURI := docsURI
	if cfg.Output.GCSBucket != "" {
		uri, err := uploadExport(ctx, cfg, runID, docsURI, logger)
		if err != nil {
			return err
		}
		exportURI = uri
	}

	if cfg.DB.DSN != "" {
		if err := storeDocuments(ctx, cfg, runID, docs); err != nil {
			return err
		}
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		if err := publishSummary(ctx, cfg, runID, seeds, records, docs, failures, exportURI); err != nil {
			return err
		}
	}

	logger.Info("crawl exported",
		zap.Int("records", len(records)),
		zap.Int("documents", len(docs)),
		zap.Int("failures", failures),
		zap.String("export_uri", exportURI))
	return nil
}

func uploadExport(ctx context.Context, cfg config.Config, runID, docsURI string, logger *zap.Logger) (string, error) {
	gcs, err := output.NewGCSWriter(ctx, cfg.Output.GCSBucket, logger)
	if err != nil {
		return "", fmt.Errorf("init GCS writer: %w", err)
	}
	defer func() {
		if cerr := gcs.Close(); cerr != nil {
			logger.Warn("failed to close GCS writer", zap.Error(cerr))
		}
	}()

	data, err := os.ReadFile(strings.TrimPrefix(docsURI, "file://"))
	if err != nil {
		return "", fmt.Errorf("read export for upload: %w", err)
	}
	objectName := path.Join(cfg.Output.Prefix, runID, "documents.jsonl")
	uri, err := gcs.Save(ctx, objectName, data)
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return uri, nil
}

func storeDocuments(ctx context.Context, cfg config.Config, runID string, docs []rag.Document) error {
	store, err := output.NewDocumentStore(ctx, output.DocumentStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}
	defer store.Close()

	if err := store.StoreAll(ctx, runID, docs); err != nil {
		return fmt.Errorf("store documents: %w", err)
	}
	return nil
}

func publishSummary(ctx context.Context, cfg config.Config, runID string, seeds []kb.WorkItem, records []*kb.Record, docs []rag.Document, failures int, exportURI string) error {
	publisher, err := output.NewPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer publisher.Stop()

	seedKeys := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		seedKeys = append(seedKeys, seed.Ref.Key())
	}
	summary := output.CrawlSummary{
		RunID:      runID,
		Seeds:      seedKeys,
		Records:    len(records),
		Documents:  len(docs),
		Failures:   failures,
		FinishedAt: time.Now().UTC(),
		ExportURI:  exportURI,
	}
	if _, err := publisher.Publish(ctx, summary); err != nil {
		return fmt.Errorf("publish crawl summary: %w", err)
	}
	return nil
}
