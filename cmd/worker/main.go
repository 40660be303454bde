package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genorch/internal/adapter/redisstore"
	"genorch/internal/bootstrap"
	"genorch/internal/infra"
	"genorch/internal/obs"
	"genorch/internal/orchestrator"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")
	obs.SetAppInfo("worker")

	if cfg.StoreBackend != infra.StoreBackendPostgres {
		logger.Fatal().Msg("worker: STORE_BACKEND=postgres is required; the API sweeps in-process for the memory backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, "worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error().Err(err).Msg("worker: tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}

	comps, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{Service: "worker"})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer comps.Close()

	// Several workers may run side by side; the lock keeps them off the same job.
	var locker orchestrator.JobLocker
	if comps.Redis != nil {
		locker = redisstore.NewLocker(comps.Redis, "genorch:sweep:")
	} else {
		logger.Warn().Msg("worker: REDIS_ADDR not set, running without job locks")
	}

	metrics := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           obs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("worker: metrics server failed")
		}
	}()

	sweeper := orchestrator.NewSweeper(comps.Orchestrator, locker, cfg.SweepInterval, cfg.SweepBatchSize)
	logger.Info().
		Dur("interval", cfg.SweepInterval).
		Int("batch", cfg.SweepBatchSize).
		Strs("providers", comps.Providers.Names()).
		Msg("worker started")
	if err := sweeper.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: sweeper stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)
	logger.Info().Msg("worker stopped")
}
