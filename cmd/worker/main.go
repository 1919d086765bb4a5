package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kirillkom/pricewatch/internal/bootstrap"
	"github.com/kirillkom/pricewatch/internal/config"
	"github.com/kirillkom/pricewatch/internal/infrastructure/scheduler"
	"github.com/kirillkom/pricewatch/internal/observability/logging"
	"github.com/kirillkom/pricewatch/internal/observability/metrics"
)

const (
	serviceName  = "worker"
	cycleTimeout = 30 * time.Minute
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipelineMetrics := metrics.NewPipelineMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:  serviceName,
		Logger:   logger,
		Observer: pipelineMetrics,
		OnRetry:  pipelineMetrics.ObserveRetry,
		Events:   true,
	})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	pipelineMetrics.Registry().MustRegister(collectors.NewDBStatsCollector(app.DB, "pricewatch"))

	metricsServer := startMetricsServer(logger, cfg.WorkerMetricsPort, pipelineMetrics.Handler())

	r := &runner{
		cycle:   app.CycleUC.Run,
		metrics: pipelineMetrics,
		timeout: cycleTimeout,
		logger:  logger.With("component", "worker"),
	}

	sched := scheduler.New(logger)
	if err := sched.Add("cycle", cfg.WorkerSchedule, func(ctx context.Context) { r.run(ctx, "cron") }); err != nil {
		logger.Error("schedule_error", "error", err)
		os.Exit(1)
	}

	if app.Events != nil {
		go func() {
			logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
			err := app.Events.SubscribeCollectionSealed(ctx, func(handlerCtx context.Context, key string) error {
				logger.Info("collection_sealed_received", "collection", key)
				r.run(handlerCtx, "event")
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker_subscribe_error", "error", err)
			}
		}()
	}

	// Drain whatever accumulated while the worker was down.
	go r.run(ctx, "startup")

	sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics_shutdown_error", "error", err)
	}
}

func startMetricsServer(logger *slog.Logger, port string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_error", "error", err)
		}
	}()
	return server
}
