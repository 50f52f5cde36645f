package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/denticheck-screening-server/internal/api"
	"github.com/denticheck-screening-server/internal/app"
	"github.com/denticheck-screening-server/internal/config"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := app.NewLogger(cfg.Logging, os.Stdout)
	if file := configManager.ConfigFileUsed(); file != "" {
		logger.WithField("file", file).Info("Configuration file loaded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	screening, err := app.New(ctx, cfg, app.Options{StatusEvents: true}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to assemble screening pipeline")
	}
	defer func() {
		if err := screening.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release resources")
		}
	}()

	opts := api.Options{
		Screener: screening.Orchestrator,
		Sessions: screening.Ledger,
		Events:   screening.Events,
		Breakers: screening.BreakerStats,
		Checks:   map[string]api.HealthCheck{},
	}
	if storage := strings.ToLower(cfg.Report.StorageType); storage == "" || storage == "local" {
		opts.ReportDir = cfg.Report.LocalDir
	}
	if screening.Records != nil {
		opts.Records = screening.Records
	}
	for name, check := range screening.HealthChecks() {
		opts.Checks[name] = check
	}

	server := api.NewServer(cfg, opts, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down server...")
		cancel()
	}()

	logger.WithField("environment", cfg.Environment).Info("Starting DentiCheck screening server")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}

	logger.Info("DentiCheck screening server stopped")
}
