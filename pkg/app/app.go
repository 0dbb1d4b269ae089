// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package app assembles the configured backends into the engine and
// services shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/leseb/storybridge/pkg/core/config"
	"github.com/leseb/storybridge/pkg/core/engine"
	"github.com/leseb/storybridge/pkg/core/services"
	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/embedding"
	"github.com/leseb/storybridge/pkg/filestore"
	"github.com/leseb/storybridge/pkg/observability/logging"
	"github.com/leseb/storybridge/pkg/vectorstore"

	// Register backends.
	_ "github.com/leseb/storybridge/pkg/filestore/filesystem"
	_ "github.com/leseb/storybridge/pkg/filestore/memory"
	_ "github.com/leseb/storybridge/pkg/filestore/s3"
	_ "github.com/leseb/storybridge/pkg/storage/memory"
	_ "github.com/leseb/storybridge/pkg/storage/postgres"
	_ "github.com/leseb/storybridge/pkg/storage/sqlite"
	_ "github.com/leseb/storybridge/pkg/vectorstore/milvus"
)

// App holds the wired components. Close releases every backend.
type App struct {
	Artifacts state.ArtifactStore
	Stories   vectorstore.Backend
	Embedder  embedding.Client
	Files     filestore.Store

	Engine    *engine.Engine
	Ingestion *services.IngestionService
	Exports   *services.ExportService

	closers []func(context.Context) error
}

// Build creates every backend named in cfg and wires the engine and
// services on top of them. On error, backends created so far are closed.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	a := &App{}
	built := false
	defer func() {
		if !built {
			a.Close(context.Background())
		}
	}()

	var err error

	a.Artifacts, err = state.Providers.New(ctx, cfg.Relational.Type, cfg.Relational.Params())
	if err != nil {
		return nil, fmt.Errorf("init relational store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Artifacts.Close() })
	logger.Info("Initialized relational store", "type", cfg.Relational.Type)

	a.Embedder, err = embedding.Providers.New(ctx, cfg.Embedding.Type, cfg.Embedding.Params())
	if err != nil {
		return nil, fmt.Errorf("init embedding client: %w", err)
	}
	logger.Info("Initialized embedding client", "type", cfg.Embedding.Type, "dimensions", a.Embedder.Dimensions())

	a.Stories, err = vectorstore.Providers.New(ctx, cfg.VectorStore.Type, cfg.VectorStore.Params())
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	a.closers = append(a.closers, a.Stories.Close)
	if err = a.Stories.EnsureCollection(ctx, a.Embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("prepare vector collection: %w", err)
	}
	logger.Info("Initialized vector store", "type", cfg.VectorStore.Type, "collection", cfg.VectorStore.Collection)

	a.Files, err = filestore.Providers.New(ctx, cfg.FileStore.Type, cfg.FileStore.Params())
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	a.closers = append(a.closers, a.Files.Close)
	logger.Info("Initialized file store", "type", cfg.FileStore.Type)

	a.Engine, err = engine.New(&cfg.Engine, a.Stories, a.Artifacts, a.Embedder, logger.With("component", "engine"))
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	a.Ingestion, err = services.NewIngestionService(a.Artifacts, a.Stories, a.Embedder, logger.With("component", "ingestion"))
	if err != nil {
		return nil, fmt.Errorf("init ingestion: %w", err)
	}
	a.Exports, err = services.NewExportService(a.Engine, a.Files, logger.With("component", "export"))
	if err != nil {
		return nil, fmt.Errorf("init export: %w", err)
	}
	built = true
	return a, nil
}

// Close releases backends in reverse creation order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
