// Package main provides the Model Context Protocol entry point. It needs no external
// databases: sessions go to SQLite and reports to the local data directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/denticheck-screening-server/internal/app"
	"github.com/denticheck-screening-server/internal/config"
	"github.com/denticheck-screening-server/internal/mcp"
	"github.com/denticheck-screening-server/internal/setup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mcp-server",
		Short:        "DentiCheck screening tools over the Model Context Protocol (stdio)",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(setup.NewCommand())
	return root
}

func serve(ctx context.Context) error {
	liteCfg := config.LoadLiteConfig()
	if err := liteCfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to prepare data directory: %w", err)
	}
	cfg := liteCfg.ToConfig()

	// stdout carries the protocol; logs go to stderr.
	logger := app.NewLogger(cfg.Logging, os.Stderr)
	logger.WithField("data_dir", liteCfg.DataDir).Info("Starting DentiCheck MCP server")

	screening, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return fmt.Errorf("failed to assemble screening pipeline: %w", err)
	}
	defer func() {
		if err := screening.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release resources")
		}
	}()

	server, err := mcp.NewServer(screening.Orchestrator, cfg.Server.MaxUploadBytes, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("DentiCheck MCP server stopped")
	return nil
}
