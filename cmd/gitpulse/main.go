package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/rivetlabs/gitpulse/internal/adapters/driven/embedding/openai"
	"github.com/rivetlabs/gitpulse/internal/adapters/driven/storage/sqlite"
	"github.com/rivetlabs/gitpulse/internal/adapters/driving/cli"
	"github.com/rivetlabs/gitpulse/internal/config"
	"github.com/rivetlabs/gitpulse/internal/connectors/github"
	"github.com/rivetlabs/gitpulse/internal/core/services"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger.SetVerbose(cfg.Verbose)

	if cfg.GitHub.Token == "" {
		return fmt.Errorf("GitHub token missing: set github.token in %s or GITHUB_TOKEN", cfgPath)
	}

	store, err := sqlite.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	tracker := github.NewTracker()
	gql := github.NewGraphQLClient(ctx, cfg.GitHub.Token, tracker)
	rest := github.NewRESTClient(ctx, cfg.GitHub.Token, tracker)
	strategy := github.NewFetchStrategy(gql, rest, tracker)

	// The embedding pipeline is optional; capture works without a key.
	var pipeline *services.EmbeddingPipeline
	if cfg.Embedding.APIKey != "" {
		embedder, err := openai.NewEmbeddingService(openai.Config{
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			BaseURL: cfg.Embedding.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("configuring embeddings: %w", err)
		}
		defer embedder.Close()

		pipeline = services.NewEmbeddingPipeline(
			services.DefaultPipelineConfig(),
			store.ItemStore(), store.EmbeddingJobStore(),
			store.SimilarityCacheStore(), embedder,
		)
	} else {
		logger.Debug("no embedding API key configured; embeddings disabled")
	}

	throttleCfg := services.DefaultThrottleConfig()
	throttleCfg.WebhookWindow = cfg.Throttle.WebhookWindowOr(throttleCfg.WebhookWindow)
	throttleCfg.DependencyWindow = cfg.Throttle.DependencyWindowOr(throttleCfg.DependencyWindow)
	throttleCfg.ScheduledWindow = cfg.Throttle.ScheduledWindowOr(throttleCfg.ScheduledWindow)
	policy := services.NewThrottlePolicy(throttleCfg)

	queueCfg := services.DefaultQueueConfig()
	if cfg.Queue.MaxRetries > 0 {
		queueCfg.MaxRetries = cfg.Queue.MaxRetries
	}
	queue := services.NewQueueManager(queueCfg, policy, store.RepositoryStore(), store.BackfillStore())

	capture := services.NewCaptureService(
		strategy,
		store.RepositoryStore(),
		store.ItemStore(),
		store.BackfillStore(),
		services.NewSyncLogger(store.SyncLogStore()),
		policy,
		pipeline,
	)
	capture.RegisterHandlers(queue)

	schedCfg := services.DefaultSchedulerConfig()
	schedCfg.SyncInterval = cfg.Scheduler.SyncIntervalOr(schedCfg.SyncInterval)
	schedCfg.EmbeddingInterval = cfg.Scheduler.EmbeddingIntervalOr(schedCfg.EmbeddingInterval)
	scheduler := services.NewScheduler(schedCfg, store.RepositoryStore(), queue, pipeline)

	return cli.Execute(&cli.App{
		Repos:     store.RepositoryStore(),
		Queue:     queue,
		Capture:   capture,
		Scheduler: scheduler,
		Strategy:  strategy,
	})
}
