// Command server starts the meeting-recording ingest pipeline: the Intake
// HTTP front door, the Ingest Engine's broker consumer and reaper, and the
// Catalog Cache that backs both.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetingsync/internal/catalog"
	"meetingsync/internal/config"
	"meetingsync/internal/engine"
	"meetingsync/internal/intake"
	"meetingsync/internal/observability/logging"
	"meetingsync/internal/observability/metrics"
	"meetingsync/internal/queue"
	"meetingsync/internal/server"
	"meetingsync/internal/serverutil"
	"meetingsync/internal/sink"
	"meetingsync/internal/source"
	"meetingsync/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "meetingsync:", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel})
	recorder := metrics.Default()

	if err := cfg.ValidateForBoot(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.UsingDefaultDatabase() {
		logger.Warn("using default database DSN; set -database or MEETINGSYNC_DATABASE in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewPostgresRepository(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	broker, err := newBroker(cfg.Queue, logging.WithComponent(logger, "queue"))
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	if _, ok := broker.(*queue.MemoryQueue); ok {
		logger.Warn("no broker address configured; falling back to an in-process queue")
	}

	sourceClient := source.New(source.Config{
		JWTKey:          cfg.Source.JWTKey,
		JWTSecret:       cfg.Source.JWTSecret,
		GDPR:            cfg.Source.GDPR,
		Logger:          logging.WithComponent(logger, "source"),
		UserCache:       repo,
		Timeout:         cfg.Source.Timeout,
		DownloadTimeout: cfg.Source.DownloadTimeout,
	})

	sinkClient := sink.New(sink.Config{
		BaseURL:       cfg.Sink.URL,
		User:          cfg.Sink.User,
		Password:      cfg.Sink.Password,
		Logger:        logging.WithComponent(logger, "sink"),
		Timeout:       cfg.Sink.Timeout,
		UploadTimeout: cfg.Sink.UploadTimeout,
	})

	catalogs := catalog.New(catalog.Config{
		Fetcher:        sinkClient,
		WorkflowFilter: cfg.Sink.WorkflowFilter,
		SeriesFilter:   cfg.Sink.SeriesFilter,
		Logger:         logging.WithComponent(logger, "catalog"),
	})

	in, err := intake.New(intake.Config{
		Store:              repo,
		Queue:              broker,
		Source:             sourceClient,
		Logger:             logging.WithComponent(logger, "intake"),
		MinDurationMinutes: cfg.Webhook.MinDuration,
		TopicRegex:         cfg.Filter.TopicRegex,
		WebhookSecret:      cfg.Webhook.Secret,
		DefaultSeriesID:    cfg.Webhook.DefaultSeriesID,
		DefaultACLID:       cfg.Webhook.DefaultACLID,
		DefaultWorkflowID:  cfg.Webhook.DefaultWorkflow,
	})
	if err != nil {
		logger.Error("failed to configure intake", "error", err)
		os.Exit(1)
	}
	if in.WebhookDisabled() {
		logger.Warn("webhook ingest is disabled: no default workflow or series/acl configured")
	}

	eng := engine.New(engine.Config{
		Store:            repo,
		Queue:            broker,
		Source:           engine.SourceAdapter{Client: sourceClient},
		Sink:             engine.SinkAdapter{Client: sinkClient, Catalogs: catalogs},
		DownloadRoot:     cfg.DownloadRoot,
		UploadWorkers:    int64(cfg.UploadWorkers),
		ReaperInterval:   cfg.ReaperInterval,
		ReaperStaleAfter: cfg.ReaperStaleAfter,
		Logger:           logging.WithComponent(logger, "engine"),
		Metrics:          recorder,
	})

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	srv, err := server.New(intake.NewHandler(in), server.Config{
		Addr: cfg.Addr,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     50,
			GlobalBurst:   100,
			WebhookLimit:  120,
			WebhookWindow: time.Minute,
		},
		Logger:  logging.WithComponent(logger, "server"),
		Metrics: recorder,
		Store:   repo,
		Queue:   broker,
		Catalog: catalogs,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	certFile, keyFile := srv.TLSFiles()
	logger.Info("intake server listening", "addr", cfg.Addr)
	if err := serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS:    serverutil.TLSConfig{CertFile: certFile, KeyFile: keyFile},
	}); err != nil {
		logger.Error("server error", "error", err)
	}

	stop()
	<-engineDone
	logger.Info("server stopped")
}

// newBroker picks the Redis-backed broker when an address is configured,
// falling back to an in-process queue otherwise. Extracted from main so the
// selection logic can be exercised without a running broker.
func newBroker(cfg config.Queue, logger *slog.Logger) (queue.Queue, error) {
	if cfg.Addr == "" {
		return queue.NewMemoryQueue(), nil
	}
	return queue.NewRedisQueue(queue.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		Stream:   config.QueueName,
		Group:    config.QueueName + "-workers",
		Logger:   logger,
	})
}
