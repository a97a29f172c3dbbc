package cmd

import (
	"context"
	"errors"

	"github.com/kyleking/fedquery/internal/cache"
	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/documents"
	"github.com/kyleking/fedquery/internal/embedding"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/executor"
	"github.com/kyleking/fedquery/internal/llm"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/monitor"
	"github.com/kyleking/fedquery/internal/query"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/search"
	"github.com/kyleking/fedquery/internal/storage"
)

// app is the fully wired engine shared by the commands
type app struct {
	cfg       *config.Config
	exec      *executor.SQLExecutor
	repo      *storage.DuckDBRepository
	embedder  embedding.Provider
	schemas   *schema.Index
	generator *query.Generator
	documents *documents.Index
	cache     *cache.ResultCache
	metrics   *monitor.Metrics
	orch      *search.Orchestrator
	logger    *logging.Logger
}

// newApp opens every source and the descriptor store, loads the persisted
// schema index and wires the orchestrator
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: monitor.NewMetrics(),
		logger:  logging.GetLogger().WithField("component", "cli"),
	}

	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) open(ctx context.Context) error {
	var err error

	if err := a.cfg.EnsureDirectories(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to create directories")
	}

	a.repo, err = storage.NewDuckDBRepositoryFromConfig(a.cfg.Database, a.cfg.Database.Path)
	if err != nil {
		return err
	}

	if err := a.repo.Initialize(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to initialize storage")
	}

	a.exec, err = executor.NewFromConfig(a.cfg)
	if err != nil {
		return err
	}

	a.embedder, err = embedding.NewProvider(ctx, a.cfg.Embedding)
	if err != nil {
		return apperrors.Unavailable(err, "embedding provider")
	}

	a.schemas = schema.NewIndex(a.embedder,
		schema.WithStore(a.repo),
		schema.WithSampleRows(a.cfg.Generator.SampleRows),
	)

	n, err := a.schemas.Load(ctx)
	if err != nil {
		return err
	}

	a.logger.WithField("descriptors", n).Debug("Loaded schema index")

	a.generator = query.NewGeneratorFromConfig(a.schemas, a.cfg.Generator, a.languageModel(ctx))
	a.documents = documents.NewIndex(a.repo, a.embedder)

	if a.cfg.Cache.Enabled {
		a.cache, err = cache.NewFromConfig(ctx, a.cfg.Cache, cache.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
	}

	a.orch = search.NewFromConfig(a.cfg, a.generator, a.exec, a.documents, a.cache,
		search.WithMetrics(a.metrics))

	return nil
}

// languageModel returns nil unless the model pass is enabled and its provider
// could be built
func (a *app) languageModel(ctx context.Context) llm.Service {
	if !a.cfg.Generator.UseModel {
		return nil
	}

	manager, err := llm.NewServiceFromConfig(ctx, a.cfg.LLM)
	if err != nil {
		a.logger.WithError(err).Warn("Language model unavailable, using rule-based generation only")
		return nil
	}

	return manager
}

// Close releases every resource opened by newApp
func (a *app) Close() error {
	var errs []error

	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}

	if a.exec != nil {
		errs = append(errs, a.exec.Close())
	}

	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}

	return errors.Join(errs...)
}

// tableCounts reports the indexed table count of each configured source
func (a *app) tableCounts() map[string]int {
	counts := make(map[string]int)
	for _, name := range a.exec.Sources() {
		counts[name] = len(a.schemas.Descriptors(name))
	}

	return counts
}
