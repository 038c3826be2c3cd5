// Package main wires together the pricewatch service binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/api"
	"github.com/elberrd/pricewatch/internal/artifact"
	"github.com/elberrd/pricewatch/internal/batch"
	"github.com/elberrd/pricewatch/internal/clock/system"
	"github.com/elberrd/pricewatch/internal/config"
	"github.com/elberrd/pricewatch/internal/extract"
	"github.com/elberrd/pricewatch/internal/id/uuid"
	"github.com/elberrd/pricewatch/internal/ingest"
	"github.com/elberrd/pricewatch/internal/job"
	"github.com/elberrd/pricewatch/internal/logging"
	"github.com/elberrd/pricewatch/internal/metrics"
	"github.com/elberrd/pricewatch/internal/provider"
	"github.com/elberrd/pricewatch/internal/provider/firecrawl"
	"github.com/elberrd/pricewatch/internal/provider/headless"
	"github.com/elberrd/pricewatch/internal/provider/unlocker"
	pubsubpublisher "github.com/elberrd/pricewatch/internal/publisher/pubsub"
	"github.com/elberrd/pricewatch/internal/scraper"
	"github.com/elberrd/pricewatch/internal/search"
	"github.com/elberrd/pricewatch/internal/storage/gcs"
	"github.com/elberrd/pricewatch/internal/storage/ingestsnapshots"
	"github.com/elberrd/pricewatch/internal/storage/local"
	"github.com/elberrd/pricewatch/internal/storage/memory"
	"github.com/elberrd/pricewatch/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	discover := flag.String("discover", "", "Search term: print discovered listings as JSON and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *discover != "" {
		if err := runDiscover(ctx, cfg, logger, *discover); err != nil {
			logger.Error("discovery failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	metrics.Init()

	clock := system.New()
	idGen := uuid.New()

	profiles, cleanup, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	if len(profiles) == 0 {
		return errors.New("no scrape providers configured")
	}

	extractor, err := extract.NewGeminiExtractor(ctx, extract.GeminiConfig{
		APIKey:      cfg.Extract.APIKey,
		Model:       cfg.Extract.Model,
		Temperature: float32(cfg.Extract.Temperature),
		Timeout:     time.Duration(cfg.Extract.TimeoutSeconds) * time.Second,
		MaxChars:    cfg.Extract.MaxChars,
	}, logger.Named("extract"))
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}

	blobStore, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	artifacts := artifact.NewProcessor(blobStore, clock, cfg.Storage.MaxEncodes, logger.Named("artifact"))

	router := scraper.Router{
		Primary:      cfg.Scrape.PrimaryProvider,
		DomainPolicy: cfg.Scrape.DomainPolicy,
	}
	orch := scraper.NewOrchestrator(profiles, router, extractor, artifacts, clock, logger.Named("scraper"))
	scheduler := batch.NewScheduler(orch, cfg.Scrape.Concurrency, logger.Named("batch"))

	store, err := buildSnapshotStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cfg.Ingest.BaseURL != "" && cfg.Ingest.Token != "" && cfg.Ingest.JobsDatasource != "" {
		jobsClient := ingest.NewClient(cfg.Ingest.BaseURL, cfg.Ingest.Token, cfg.Ingest.JobsDatasource, nil)
		store = ingestsnapshots.New(store, jobsClient, logger.Named("snapshots"))
	}

	var sink job.TelemetrySink
	if cfg.Ingest.BaseURL != "" && cfg.Ingest.Token != "" {
		client := ingest.NewClient(cfg.Ingest.BaseURL, cfg.Ingest.Token, cfg.Ingest.Datasource, nil)
		batcher := ingest.NewBatcher(client, ingest.BatcherConfig{
			BatchSize:     cfg.Ingest.BatchSize,
			FlushInterval: cfg.Ingest.FlushInterval(),
			MaxRetries:    cfg.Ingest.MaxRetries,
			Backoff:       scraper.DefaultBackoff(),
		}, logger.Named("ingest"))
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			stats := batcher.Close(closeCtx)
			logger.Info("ingest batcher closed",
				zap.Int("rows_accepted", stats.RowsAccepted),
				zap.Int("rows_quarantined", stats.RowsQuarantined),
				zap.Int("batches_sent", stats.BatchesSent),
				zap.Int("batches_dropped", stats.BatchesDropped),
				zap.Int("retries", stats.Retries),
			)
		}()
		sink = batcher
	}

	notifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	manager := job.NewManager(store, scheduler, sink, notifier, clock, idGen, logger.Named("job"))
	apiServer := api.NewServer(manager, idGen, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildProviders(cfg config.Config, logger *zap.Logger) ([]scraper.Profile, func(), error) {
	var profiles []scraper.Profile
	cleanup := func() {}

	if fc := cfg.Providers.Firecrawl; fc.APIKey != "" && fc.RetryBudget > 0 {
		var p scraper.Provider = firecrawl.New(firecrawl.Config{
			APIKey:          fc.APIKey,
			BaseURL:         fc.BaseURL,
			Timeout:         time.Duration(fc.TimeoutSeconds) * time.Second,
			MinContentBytes: cfg.Scrape.MinContentBytes,
			Screenshots:     cfg.Scrape.Screenshots,
		}, nil, logger.Named("firecrawl"))
		if fc.RequestsPerSec > 0 {
			p = provider.NewPaced(p, fc.RequestsPerSec, 1)
		}
		profiles = append(profiles, scraper.Profile{
			Name:        scraper.ProviderFirecrawl,
			RetryBudget: fc.RetryBudget,
			Provider:    p,
		})
	}

	if ul := cfg.Providers.Unlocker; ul.APIToken != "" && ul.RetryBudget > 0 {
		var p scraper.Provider = unlocker.New(unlocker.Config{
			APIToken:        ul.APIToken,
			Zone:            ul.Zone,
			BaseURL:         ul.BaseURL,
			Timeout:         time.Duration(ul.TimeoutSeconds) * time.Second,
			MinContentBytes: cfg.Scrape.MinContentBytes,
			Screenshots:     cfg.Scrape.Screenshots,
		}, nil, logger.Named("unlocker"))
		if ul.RequestsPerSec > 0 {
			p = provider.NewPaced(p, ul.RequestsPerSec, 1)
		}
		profiles = append(profiles, scraper.Profile{
			Name:        scraper.ProviderUnlocker,
			RetryBudget: ul.RetryBudget,
			Provider:    p,
		})
	}

	if hl := cfg.Providers.Headless; hl.Enabled && hl.RetryBudget > 0 {
		fetcher, err := headless.New(headless.Config{
			MaxParallel:       hl.MaxParallel,
			UserAgent:         hl.UserAgent,
			NavigationTimeout: time.Duration(hl.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(hl.SettleDelayMs) * time.Millisecond,
			MinContentBytes:   cfg.Scrape.MinContentBytes,
			Screenshots:       cfg.Scrape.Screenshots,
		}, logger.Named("headless"))
		if err != nil {
			logger.Warn("headless provider init failed", zap.Error(err))
		} else {
			cleanup = fetcher.Close
			profiles = append(profiles, scraper.Profile{
				Name:        scraper.ProviderHeadless,
				RetryBudget: hl.RetryBudget,
				Provider:    fetcher,
			})
		}
	}
	return profiles, cleanup, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket:        cfg.Storage.GCSBucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs store init failed: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalBaseDir})
		if err != nil {
			return nil, fmt.Errorf("local store init failed: %w", err)
		}
		return store, nil
	default:
		logger.Warn("screenshot storage is in-memory; artifacts will not survive restarts")
		return memory.NewBlobStore(), nil
	}
}

func buildSnapshotStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (job.SnapshotStore, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("job store is in-memory; snapshots will not survive restarts")
		return memory.NewSnapshotStore(), nil
	}
	store, err := postgres.NewSnapshotStore(ctx, postgres.SnapshotStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	return store, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (job.Notifier, error) {
	var notifiers job.MultiNotifier
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, job.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, nil, logger.Named("webhook")))
	}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := pubsubpublisher.New(client, map[string]string{"source": "pricewatch"})
		notifiers = append(notifiers, job.NewPublisherNotifier(pub, cfg.PubSub.TopicName))
	}
	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	default:
		return notifiers, nil
	}
}

func runDiscover(ctx context.Context, cfg config.Config, logger *zap.Logger, term string) error {
	discoverer := search.New(search.Config{
		UserAgent:  cfg.Search.UserAgent,
		MaxResults: cfg.Search.MaxResults,
	}, logger.Named("search"))
	listings, err := discoverer.Search(ctx, term)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"searchTerm": term,
		"total":      len(listings),
		"listings":   listings,
	})
}
