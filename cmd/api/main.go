package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"genorch/internal/adapter/redisstore"
	"genorch/internal/bootstrap"
	"genorch/internal/http/handlers"
	httpapi "genorch/internal/http/httpapi"
	"genorch/internal/infra"
	"genorch/internal/obs"
	"genorch/internal/orchestrator"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")
	obs.SetAppInfo("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, "api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error().Err(err).Msg("tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}

	comps, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{Service: "api", Migrate: cfg.StoreBackend == infra.StoreBackendPostgres})
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer comps.Close()

	app := &handlers.App{
		Orchestrator:         comps.Orchestrator,
		Ledger:               comps.Ledger,
		Providers:            comps.Providers,
		Assets:               comps.Stores.Assets,
		Files:                comps.Files,
		Checks:               comps.HealthChecks(),
		Logger:               logger,
		PaymentWebhookSecret: cfg.PaymentWebhookSecret,
		PaymentCallbackURL:   paymentCallbackURL(cfg),
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:     cfg.JWTSecret,
		Limiter:       comps.Limiter(),
		CORSOrigins:   cfg.CORSOrigins,
		DefaultLocale: cfg.DefaultLocale,
		StaticDir:     comps.FileStore.BasePath(),
		Logger:        logger,
	})

	// The in-memory backend is invisible to a separate worker process, so sweep here.
	if cfg.StoreBackend == infra.StoreBackendMemory {
		var locker orchestrator.JobLocker
		if comps.Redis != nil {
			locker = redisstore.NewLocker(comps.Redis, "genorch:sweep:")
		}
		sweeper := orchestrator.NewSweeper(comps.Orchestrator, locker, cfg.SweepInterval, cfg.SweepBatchSize)
		go func() {
			_ = sweeper.Run(ctx)
		}()
		logger.Info().Dur("interval", cfg.SweepInterval).Msg("in-process sweeper started")
	}

	server := infra.NewHTTPServer(cfg, obs.WrapHTTP("api", router))
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
	logger.Info().Msg("server stopped")
}

func paymentCallbackURL(cfg *infra.Config) string {
	if cfg.WebhookBaseURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.WebhookBaseURL, "/") + "/v1/webhooks/payments"
}
