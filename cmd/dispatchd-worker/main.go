package main

import (
	"context"
	"log/slog"
	"os"

	"dispatchd/internal/config"
	"dispatchd/internal/logging"
	"dispatchd/internal/worker"
)

// The worker handles a single task: request on stdin, outcome record on
// stdout. The coordinator owns our lifetime and kills the whole process
// group on timeout.
func main() {
	logger := logging.NewLogger(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "json"), "dispatchd-worker")
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

	opts := worker.Options{
		AgentCommand: cfg.Worker.AgentCommand,
		WorkspaceDir: cfg.Worker.WorkspaceDir,
	}

	os.Exit(worker.Run(context.Background(), os.Stdin, os.Stdout, opts, logger))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
