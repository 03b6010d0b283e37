package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"dispatchd/internal/config"
	"dispatchd/internal/dedup"
	"dispatchd/internal/dispatch"
	"dispatchd/internal/executor"
	"dispatchd/internal/logging"
	"dispatchd/internal/notify"
	"dispatchd/internal/policy"
	"dispatchd/internal/pool"
	"dispatchd/internal/report"
	"dispatchd/internal/server"
	"dispatchd/internal/shutdown"
	"dispatchd/internal/source"
	"dispatchd/internal/tracing"
)

func main() {
	// Bootstrap logger until the config tells us the real level/format.
	logger := logging.NewLogger("info", "json", "dispatchd")
	slog.SetDefault(logger)

	configPath := os.Getenv("DISPATCHD_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger = logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "dispatchd")
	slog.SetDefault(logger)

	shutdownManager := shutdown.NewManager(cfg.ShutdownTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	shutdownManager.Add(func(context.Context) error {
		cancel()
		return nil
	})

	// Initialize tracing
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.TracerConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "dispatchd",
		Environment: cfg.Tracing.Environment,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "err", err)
		os.Exit(1)
	}
	shutdownManager.Add(func(ctx context.Context) error {
		slog.Info("shutting down tracer")
		return tracerShutdown(ctx)
	})

	// Dedup window: Redis when configured, otherwise in-process.
	var admitter dedup.Admitter
	if cfg.DedupRedisAddr != "" {
		rw, err := dedup.NewRedisWindow(ctx, cfg.DedupRedisAddr, cfg.DedupWindow())
		if err != nil {
			slog.Error("failed to connect to Redis", "addr", cfg.DedupRedisAddr, "err", err)
			os.Exit(1)
		}
		shutdownManager.Add(func(context.Context) error {
			slog.Info("closing Redis connection")
			return rw.Close()
		})
		admitter = rw
	} else {
		admitter = dedup.NewWindow(cfg.DedupWindow())
	}

	pol := policy.New(cfg)
	builder := source.NewBuilder(cfg.GitHub.MentionedUser, pol)
	slots := pool.New(cfg.Slots)
	runner := executor.NewSubprocess(cfg.Worker.Command, cfg.TaskTimeout())

	var notifier notify.Notifier
	if cfg.Ntfy.ServerURL != "" {
		notifier = notify.NewNtfyClient(cfg.Ntfy.ServerURL, cfg.Ntfy.Topic)
	}
	sink := report.NewGitHubSink(cfg.GitHub.Token, notifier, logger)

	dispatcher := dispatch.New(logger, admitter, slots, runner, sink)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		dispatcher.Run(groupCtx)
		return nil
	})

	if cfg.SQS.QueueURL != "" {
		sqsSource, err := source.NewSQSSource(ctx, cfg.SQS, cfg.GitHub.WebhookSecret, builder, dispatcher, logger)
		if err != nil {
			slog.Error("failed to initialize SQS source", "err", err)
			os.Exit(1)
		}
		group.Go(func() error {
			return sqsSource.Run(groupCtx)
		})
		slog.Info("SQS poll source enabled", "queue_url", cfg.SQS.QueueURL)
	}

	if cfg.Kafka.Topic != "" {
		kafkaSource := source.NewKafkaSource(cfg.Kafka, cfg.GitHub.WebhookSecret, builder, dispatcher, logger)
		group.Go(func() error {
			return kafkaSource.Run(groupCtx)
		})
		slog.Info("Kafka poll source enabled", "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)
	}

	hook := source.NewWebhookHandler(cfg.GitHub.WebhookSecret, builder, dispatcher, logger)

	// Start servers
	webhookErrChan := make(chan error, 1)
	webhookServer := server.StartServer(cfg, hook, dispatcher, builder, logger, webhookErrChan)
	shutdownManager.Add(func(ctx context.Context) error {
		slog.Info("shutting down webhook server")
		return webhookServer.Shutdown(ctx)
	})

	metricsErrChan := make(chan error, 1)
	metricsServer := server.StartMetricsServer(cfg.MetricsPort, logger, metricsErrChan)
	shutdownManager.Add(func(ctx context.Context) error {
		slog.Info("shutting down metrics server")
		return metricsServer.Shutdown(ctx)
	})

	go func() {
		select {
		case err := <-webhookErrChan:
			if err != nil && err != http.ErrServerClosed {
				slog.Error("webhook server error", "err", err)
			}
		case err := <-metricsErrChan:
			if err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "err", err)
			}
		}
	}()

	slog.Info("dispatchd started",
		"slots", cfg.Slots,
		"webhook_port", cfg.WebhookPort,
		"task_timeout", cfg.TaskTimeout())

	shutdownManager.Wait()

	// The dispatcher drains in-flight tasks once its context is cancelled.
	if err := group.Wait(); err != nil && err != context.Canceled {
		slog.Error("source error during shutdown", "err", err)
	}
}
