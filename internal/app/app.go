// Package app assembles the assistant from configuration. The API server,
// the Temporal worker and the CLI all start here.
package app

import (
	"context"
	"fmt"
	"time"

	"litagent/internal/arxiv"
	"litagent/internal/assistant"
	"litagent/internal/config"
	"litagent/internal/embedding"
	"litagent/internal/extract"
	"litagent/internal/ingest"
	"litagent/internal/logging"
	"litagent/internal/observability"
	"litagent/internal/providers"
	"litagent/internal/reasoning"
	"litagent/internal/storage"

	"go.uber.org/zap"
)

// Store is everything the assembled service needs from persistence.
type Store interface {
	assistant.Store
	assistant.Retriever
	ingest.PaperStore
}

type Options struct {
	// Memory keeps the library in process instead of Postgres.
	Memory bool
	// Logger overrides the configured logger.
	Logger *zap.Logger
}

type App struct {
	Cfg      config.Config
	Logger   *zap.Logger
	Store    Store
	Arxiv    *arxiv.Client
	Pipeline *ingest.Pipeline
	Service  *assistant.Service

	closers []func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(cfg.LogLevel, cfg.LogJSON)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	a := &App{Cfg: cfg, Logger: logger}

	tcfg := observability.DefaultTracingConfig()
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tp.Shutdown)

	var sink providers.AuditSink = logSink{logger: logger}
	if opts.Memory {
		a.Store = storage.NewMemoryStore()
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err := storage.NewDB(dialCtx, cfg.PostgresURL)
		cancel()
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			db.Close()
			return nil
		})
		pg := storage.NewPostgresStore(db)
		a.Store = pg
		if cfg.ProviderAuditable {
			sink = pg
		}
	}

	pm, err := providers.NewManager(cfg)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("build providers: %w", err)
	}
	llm := providers.NewAuditedLLM(pm, sink)
	retry := providers.RetryPolicy{
		MaxAttempts:     cfg.StageMaxAttempts,
		InitialInterval: cfg.RetryInitial,
		MaxInterval:     cfg.RetryMax,
		AttemptTimeout:  cfg.CallTimeout,
	}
	gateway := embedding.NewGateway(pm, cfg.EmbedDim,
		embedding.WithRetryPolicy(retry),
		embedding.WithLogger(logger.Named("embedding")),
	)
	a.Arxiv = arxiv.NewClient(cfg.ArxivBaseURL, cfg.ArxivPDFBaseURL, arxiv.WithLogger(logger.Named("arxiv")))

	a.Pipeline = ingest.NewPipeline(ingest.Deps{
		Repository:   a.Arxiv,
		Extractor:    extract.NewPDFExtractor(),
		Embedder:     gateway,
		Store:        a.Store,
		LLM:          llm,
		Canonicalize: arxiv.Canonical,
	}, ingest.Config{
		ChunkSize:            cfg.ChunkSize,
		ChunkOverlapFraction: cfg.ChunkOverlapFraction,
		PersistTimeout:       cfg.PersistTimeout,
		RunTimeout:           cfg.IngestTimeout,
		Retry:                retry,
	}, logger.Named("ingest"))

	scfg := assistant.DefaultConfig()
	scfg.TopK = cfg.TopK
	scfg.MaxCandidatesPerTurn = cfg.MaxCandidatesPerTurn
	scfg.PersistTimeout = cfg.PersistTimeout
	a.Service = assistant.NewService(assistant.Deps{
		Embedder:  gateway,
		Retriever: a.Store,
		Store:     a.Store,
		Ingester:  a.Pipeline,
		Uploader:  a.Pipeline,
		Papers:    a.Arxiv,
		Engine:    reasoning.NewEngine(llm, retry, logger.Named("reasoning")),
	}, scfg, logger.Named("assistant"))

	logger.Info("assistant ready",
		zap.Bool("memory", opts.Memory),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
		zap.Int("embed_dim", cfg.EmbedDim),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return first
}

// logSink records generation calls in the log when there is no database to
// hold them.
type logSink struct {
	logger *zap.Logger
}

func (s logSink) RecordLLMCall(_ context.Context, rec providers.CallRecord) error {
	s.logger.Debug("llm call",
		zap.String("operation", rec.Operation),
		zap.String("user_id", rec.UserID),
		zap.String("provider", rec.Provider),
		zap.String("model", rec.Model),
		zap.String("status", rec.Status),
		zap.String("error_type", rec.ErrorType),
		zap.Duration("latency", rec.Latency),
	)
	return nil
}
