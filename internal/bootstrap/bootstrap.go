package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/pricewatch/internal/config"
	"github.com/kirillkom/pricewatch/internal/core/ports"
	"github.com/kirillkom/pricewatch/internal/core/usecase"
	"github.com/kirillkom/pricewatch/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/pricewatch/internal/infrastructure/matching"
	"github.com/kirillkom/pricewatch/internal/infrastructure/queue/nats"
	"github.com/kirillkom/pricewatch/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/pricewatch/internal/infrastructure/resilience"
	"github.com/kirillkom/pricewatch/internal/infrastructure/staging/localfs"
)

// Options carries the per-process parts of the wiring.
type Options struct {
	Service  string
	Logger   *slog.Logger
	Observer ports.PipelineObserver
	// OnRetry feeds retries of the resilience executor into metrics.
	OnRetry resilience.RetryHook
	// Events connects to NATS when the config enables it.
	Events bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	DB       *sql.DB
	Staging  *localfs.Store
	Events   ports.CollectionEvents
	Exporter ports.ReportExporter

	StageUC  *usecase.StageUseCase
	LoadUC   *usecase.LoadUseCase
	TagUC    *usecase.TagUseCase
	CycleUC  *usecase.CycleUseCase
	ReportUC *usecase.ReportUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := resilience.NewExecutor(resilience.Policy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		BreakerEnabled: true,
	}, logger)
	if opts.OnRetry != nil {
		executor.OnRetry(opts.OnRetry)
	}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN, executor)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	staging, err := localfs.New(cfg.StagingPath, localfs.Options{
		ShardRecords: cfg.StagingShardRecords,
		Logger:       logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init staging: %w", err)
	}

	var (
		events    ports.CollectionEvents
		natsConns *nats.Events
	)
	if opts.Events && cfg.NATSEnabled {
		natsConns, err = nats.Connect(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			Name:     "pricewatch-" + opts.Service,
			Executor: executor,
			Logger:   logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init events: %w", err)
		}
		events = natsConns
	}

	locker := postgres.NewAdvisoryLocker(db, logger)
	catalog := postgres.NewCatalogRepository(db)
	tags := postgres.NewTagRepository(db)
	reports := postgres.NewReportRepository(db)

	loadUC := usecase.NewLoadUseCase(staging, catalog, locker, opts.Observer, logger)
	tagUC := usecase.NewTagUseCase(
		tags,
		matching.NewFileDictionary(cfg.TagDictionaryPath),
		matching.NewScorer(),
		cfg.Thresholds(),
		locker,
		opts.Observer,
		logger,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		DB:       db,
		Staging:  staging,
		Events:   events,
		Exporter: xlsx.Exporter{},

		StageUC:  usecase.NewStageUseCase(staging, events, logger),
		LoadUC:   loadUC,
		TagUC:    tagUC,
		CycleUC:  usecase.NewCycleUseCase(loadUC, tagUC),
		ReportUC: usecase.NewReportUseCase(reports),

		closeFn: func() {
			if natsConns != nil {
				natsConns.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
