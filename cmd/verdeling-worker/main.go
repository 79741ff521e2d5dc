package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"verdeling/internal/amqp"
	"verdeling/internal/cli"
	"verdeling/internal/export/google"
	applog "verdeling/internal/log"
	"verdeling/internal/metrics"
	"verdeling/internal/services"
	"verdeling/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateWorker(); err != nil {
		cli.Fatal(logger, "Worker configuration invalid", err)
	}
	logger.Info("Starting verdeling-worker", "backend", cfg.DataBackend)

	sheets, err := google.NewFromEnv(context.Background())
	if err != nil {
		cli.Fatal(logger, "Failed to initialize Google Sheets client", err)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	be := cli.InitBackend(context.Background(), logger, cfg)
	if be.AMQP == nil {
		_ = be.Cleanup()
		cli.Fatal(logger, "AMQP connection required", errors.New("broker unreachable"))
	}

	m := metrics.Default()
	// recomputes only; the worker never publishes
	distributions := services.NewDistributionService(be.Store, nil, cfg.CacheTTL)
	distributions.ObserveCompute(m.ObserveComputation)
	exporter := worker.NewExportWorker(distributions, sheets, m)
	reconciler := worker.NewReconciler(exporter, worker.ReconcilerConfig{Interval: cfg.ReconcileInterval})

	metricsSrv := &http.Server{
		Addr:              ":" + metricsPort(),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := reconciler.Stop(ctx); err != nil {
			logger.Warn("Reconciler stop error", "error", err)
		}
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown error", "error", err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	// the first reconcile pass runs immediately and catches up on anything
	// changed while the worker was down
	if err := reconciler.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start reconciler", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := be.AMQP.ConsumeDistributionChanged(gctx, func(ctx context.Context, msg *amqp.DistributionChangedMessage) error {
			return exporter.HandleDistributionChanged(ctx, msg)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("Serving worker metrics", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		cli.Fatal(logger, "Worker stopped", err)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

func metricsPort() string {
	if p := os.Getenv("WORKER_METRICS_PORT"); p != "" {
		return p
	}
	return "9091"
}
