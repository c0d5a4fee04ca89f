package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/norwood-labs/marginalia/internal/bootstrap"
	"github.com/norwood-labs/marginalia/internal/config"
	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/observability/logging"
	"github.com/norwood-labs/marginalia/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("usage-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("usage-worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSUsageSubject)
	err = app.Queue.SubscribeUsage(ctx, func(handlerCtx context.Context, record domain.UsageRecord) error {
		start := time.Now()
		workerMetrics.StartRecord()
		workerMetrics.ObserveQueueLag("usage-worker", start.Sub(record.CreatedAt))

		writeCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Second)
		defer cancel()
		appendErr := app.UsageStore.AppendUsage(writeCtx, record)
		workerMetrics.FinishRecord("usage-worker", time.Since(start), appendErr)
		if appendErr != nil {
			logger.Error("usage record append failed",
				"fingerprint", record.Fingerprint,
				"tenant_id", record.TenantID,
				"error", appendErr,
			)
		}
		return appendErr
	})
	if err != nil {
		logger.Error("worker subscribe failed", "error", err)
		os.Exit(1)
	}
}
