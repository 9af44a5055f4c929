// Package main provides the issue search service entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mike-a-ellis/issue-search/internal/api"
	"github.com/mike-a-ellis/issue-search/internal/app"
	"github.com/mike-a-ellis/issue-search/internal/config"
	mcpserver "github.com/mike-a-ellis/issue-search/internal/mcp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	envErr := godotenv.Load()

	cfg, err := config.Load(config.FilesFromEnv()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// Stdout carries MCP frames in stdio mode, so logs always go to stderr.
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if loaded, err := a.Service.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	} else if loaded {
		logger.Info("Index bootstrapped from CSV", "dir", cfg.Sources.CSVDir)
	}

	mcp := mcpserver.NewServer(a.Service)
	handler := api.NewServer(a.Service, api.Options{
		Labels:     a.Labels,
		Classifier: a.IssueClassifier(),
		MCP:        mcpserver.NewHTTPHandler(mcp, &mcpserver.HTTPHandlerOptions{Stateless: true}),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr, "collection", a.Service.Collection(), "mcp", "/mcp")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if !cfg.InServerMode() {
		// Stdio mode: run MCP over stdin/stdout for local clients, keep HTTP for health checks.
		logger.Info("Starting issue search MCP server (stdio mode)")
		if err := mcp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stdio server error", "error", err)
		}
	} else {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("HTTP server: %w", err)
			}
		}
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
