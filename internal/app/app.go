// Package app assembles the pipeline from configuration. Every binary builds
// its runner through Build so they all share one wiring.
package app

import (
	"context"
	"fmt"

	"paperdigest/internal/archive"
	"paperdigest/internal/arxiv"
	"paperdigest/internal/config"
	"paperdigest/internal/extract"
	"paperdigest/internal/feed"
	"paperdigest/internal/pipeline"
	"paperdigest/internal/providers"
	"paperdigest/internal/questions"
	"paperdigest/internal/storage"
	"paperdigest/internal/util"
	"paperdigest/internal/vector"

	"go.uber.org/zap"
)

type App struct {
	Config  config.Config
	Backend *storage.Backend
	Models  *providers.Manager
	Runner  *pipeline.Runner
	Log     *zap.Logger
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := util.EnsureDir(cfg.DownloadDir); err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	mgr, err := providers.NewManager(ctx, cfg,
		providers.WithRecorder(backend.Audit),
		providers.WithLogger(log.Named("providers")))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("build providers: %w", err)
	}

	arx := arxiv.NewClient(cfg.ArxivAPIURL, cfg.ArxivMinInterval, cfg.HTTPTimeout)
	deps := pipeline.Deps{
		Feed:        feed.NewClient(cfg.FeedURL, cfg.HFToken, cfg.HTTPTimeout),
		Resolver:    arx,
		Fetcher:     arx,
		Extractor:   extract.New(log.Named("extract")),
		Chunker:     util.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		Synthesizer: questions.New(mgr, cfg.QuestionConcurrency, log.Named("questions")),
		Indexer: vector.NewIndexer(mgr, backend.Chunks, vector.Options{
			Index:       cfg.IndexName,
			BatchSize:   cfg.EmbedBatchSize,
			Concurrency: cfg.EmbedConcurrency,
		}, log.Named("vector")),
		Status: backend.Status,
		Logger: log.Named("pipeline"),
	}
	arc, err := archive.NewS3Archiver(ctx, cfg)
	if err != nil {
		_ = mgr.Close()
		backend.Close()
		return nil, fmt.Errorf("build pdf archiver: %w", err)
	}
	if arc != nil {
		deps.Archiver = arc
	}

	runner := pipeline.NewRunner(deps, pipeline.Settings{
		FeedURL:      cfg.FeedURL,
		DownloadDir:  cfg.DownloadDir,
		Workers:      cfg.Workers,
		PaperTimeout: cfg.PaperTimeout,
	})
	log.Info("pipeline ready",
		zap.String("store", cfg.StoreBackend),
		zap.String("index", cfg.IndexName),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
		zap.Int("workers", cfg.Workers),
		zap.Bool("archive", arc != nil))
	return &App{Config: cfg, Backend: backend, Models: mgr, Runner: runner, Log: log}, nil
}

func (a *App) Close() {
	if err := a.Models.Close(); err != nil {
		a.Log.Warn("close providers", zap.Error(err))
	}
	a.Backend.Close()
}
