package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/api"
	"github.com/sshtomar/llm-txt/internal/clock/system"
	"github.com/sshtomar/llm-txt/internal/config"
	"github.com/sshtomar/llm-txt/internal/events"
	"github.com/sshtomar/llm-txt/internal/fetch"
	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/id/uuid"
	"github.com/sshtomar/llm-txt/internal/jobs"
	"github.com/sshtomar/llm-txt/internal/logging"
	"github.com/sshtomar/llm-txt/internal/pipeline"
	storegcs "github.com/sshtomar/llm-txt/internal/store/gcs"
	storelocal "github.com/sshtomar/llm-txt/internal/store/local"
	storememory "github.com/sshtomar/llm-txt/internal/store/memory"
	"github.com/sshtomar/llm-txt/internal/summarize"
)

const sweepInterval = 12 * time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the asynchronous generation HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, gcsStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	clock := system.New()
	manager := jobs.NewManager(st, clock, uuid.New(), cfg.Jobs.LogRingLines, logger)

	var renderer generator.Renderer
	if cfg.Headless.Enabled {
		chromeRenderer, rendErr := fetch.NewChromedpRenderer(fetch.RendererConfig{
			UserAgent:   cfg.Crawler.UserAgent,
			MaxParallel: cfg.Headless.MaxParallel,
			NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			DomainQPS:   cfg.Headless.DomainQPS,
		}, logger)
		if rendErr != nil {
			logger.Warn("headless renderer unavailable; rendering fallback disabled", zap.Error(rendErr))
		} else {
			renderer = chromeRenderer
			defer chromeRenderer.Close()
		}
	}

	summarizer := buildSummarizer(cfg, logger)

	orch := pipeline.New(manager, st, summarizer, publisher, clock, renderer, pipeline.Config{
		Concurrency:  cfg.Crawler.Concurrency,
		PerHostMax:   cfg.Crawler.PerHostMax,
		FetchTimeout: cfg.FetchTimeout(),
		JobBudget:    cfg.JobBudget(),
		MinTextChars: cfg.Headless.MinTextChars,
	}, logger)

	if gcsStore != nil && cfg.Jobs.TTLDays > 0 {
		go sweepLoop(ctx, gcsStore, time.Duration(cfg.Jobs.TTLDays)*24*time.Hour, clock, logger)
	}

	server := api.NewServer(ctx, manager, orch, cfg, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// buildStore selects the artifact store backend. The GCS store is returned
// separately so the TTL sweeper can reach its backend-specific method.
func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (generator.ArtifactStore, *storegcs.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Info("using in-memory artifact store")
		return storememory.New(), nil, nil
	case "local":
		logger.Info("using local filesystem artifact store", zap.String("dir", cfg.Storage.BaseDir))
		st, err := storelocal.New(storelocal.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local store: %w", err)
		}
		return st, nil, nil
	case "object_store":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init storage client: %w", err)
		}
		st, err := storegcs.New(client, storegcs.Config{
			Bucket: cfg.Storage.Bucket,
			Prefix: cfg.Storage.Prefix,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init object store: %w", err)
		}
		logger.Info("using object-store artifact store", zap.String("bucket", cfg.Storage.Bucket))
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (generator.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return events.Noop{}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := events.NewPubSub(client, cfg.PubSub.TopicName, logger)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	logger.Info("publishing job events", zap.String("topic", cfg.PubSub.TopicName))
	return pub, nil
}

func buildSummarizer(cfg config.Config, logger *zap.Logger) generator.Summarizer {
	if cfg.Summarizer.APIKey == "" {
		logger.Warn("no LLM API key configured; sections will be truncated, not summarized")
		return summarize.NoopSummarizer{}
	}
	client := summarize.NewAnthropicClient(cfg.Summarizer.APIKey, cfg.Summarizer.Model, cfg.Summarizer.BaseURL)
	return summarize.New(client, summarize.Config{
		RPS:       cfg.Summarizer.RPS,
		Burst:     cfg.Summarizer.Burst,
		MaxTokens: cfg.Summarizer.MaxTokens,
	}, logger)
}

func sweepLoop(ctx context.Context, st *storegcs.Store, ttl time.Duration, clock generator.Clock, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.SweepExpired(ctx, ttl, clock.Now()); err != nil {
				logger.Warn("ttl sweep failed", zap.Error(err))
			}
		}
	}
}
