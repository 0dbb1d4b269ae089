// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/leseb/storybridge/pkg/adapters/http"
	"github.com/leseb/storybridge/pkg/app"
	"github.com/leseb/storybridge/pkg/core/config"
	"github.com/leseb/storybridge/pkg/observability/logging"
)

var (
	// Version is set via ldflags during build
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	seed := flag.Bool("seed", false, "Load the sample stories before serving")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Print version
	if *version {
		fmt.Printf("storybridge server\nVersion: %s\nBuild Time: %s\n", Version, BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	loadErr := err
	if err != nil {
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Initialize logger
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info("Starting storybridge server",
		"version", Version,
		"build_time", BuildTime)
	if loadErr != nil {
		// If config file doesn't exist, defaults and environment apply
		logger.Warn("Failed to load config, using defaults", "error", loadErr)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(initCtx, cfg, logger)
	cancelInit()
	if err != nil {
		logger.Error("Failed to initialize backends", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	if *seed {
		res, err := a.Ingestion.Seed(context.Background())
		if err != nil {
			logger.Error("Failed to load sample data", "error", err)
			os.Exit(1)
		}
		logger.Info("Loaded sample data", "story_ids", res.StoryIDs)
	}

	// Initialize HTTP adapter
	handler := httpAdapter.New(a.Engine, a.Ingestion, a.Exports, logger.With("component", "http"))
	logger.Info("Initialized HTTP adapter")

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		logger.Error("Server error", "error", err)
		return
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		return
	}

	logger.Info("Server stopped gracefully")
}
