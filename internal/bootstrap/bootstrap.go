// Package bootstrap assembles the service graph from configuration. Every binary builds its
// components here so the API, the sweeper worker and the admin CLI share one wiring.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genorch/internal/adapter/memory"
	"genorch/internal/adapter/redisstore"
	"genorch/internal/adapter/repo"
	"genorch/internal/domain"
	"genorch/internal/engine"
	"genorch/internal/events"
	"genorch/internal/infra"
	"genorch/internal/ledger"
	"genorch/internal/middleware"
	"genorch/internal/migrations"
	"genorch/internal/orchestrator"
	"genorch/internal/payments"
	"genorch/internal/providers"
	"genorch/internal/providers/fal"
	"genorch/internal/providers/replicate"
	"genorch/internal/providers/synthetic"
	"genorch/internal/storage"
)

// Stores are the persistence ports of the service.
type Stores struct {
	Jobs    domain.JobRepository
	Credits domain.CreditRepository
	Addons  domain.AddonRepository
	Events  domain.EventLog
	Assets  domain.AssetRepository
}

// Components is the assembled service graph. Close releases every connection it holds.
type Components struct {
	Config       *infra.Config
	Stores       Stores
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Ledger       *ledger.Service
	Providers    *providers.Registry
	Orchestrator *orchestrator.Service
	// Files is where materialized assets live. FileStore is set only for the filesystem
	// store, whose directory the API serves under /static.
	Files        storage.Store
	FileStore    *storage.FileStore
	Publisher    events.Publisher

	closers []func()
}

type Options struct {
	// Service names the binary in database sessions.
	Service string
	// Migrate applies pending schema migrations before the stores are used.
	Migrate bool
	// SkipOrchestrator builds only stores and the ledger, for tools that never touch providers.
	SkipOrchestrator bool
}

// Build connects to every configured backend and assembles the components.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, opts Options) (_ *Components, err error) {
	c := &Components{Config: cfg}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		c.Redis = rdb
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	if err := c.buildStores(ctx, cfg, logger, opts); err != nil {
		return nil, err
	}

	var gateway payments.Gateway = payments.NewSandbox()
	if cfg.PaymentBaseURL != "" {
		gateway = payments.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.ProviderHTTPTimeout)
	} else {
		logger.Warn().Msg("PAYMENT_BASE_URL not set; addon checkout uses the sandbox gateway")
	}
	c.Ledger = ledger.New(c.Stores.Credits, c.Stores.Addons, Plan(cfg), Pricing(cfg), logger, ledger.WithGateway(gateway))

	if opts.SkipOrchestrator {
		return c, nil
	}

	c.Providers = buildProviders(cfg, logger)

	if err := c.buildFiles(cfg, logger); err != nil {
		return nil, err
	}

	c.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		pub, perr := events.DialAMQP(cfg.AMQPURL, events.DefaultExchange, logger)
		if perr != nil {
			return nil, perr
		}
		c.Publisher = pub
		c.closers = append(c.closers, func() { _ = pub.Close() })
	}

	c.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Jobs:         c.Stores.Jobs,
		Events:       c.Stores.Events,
		Assets:       c.Stores.Assets,
		Ledger:       c.Ledger,
		Providers:    c.Providers,
		Materializer: storage.NewMaterializer(c.Files, storage.NewPublicHTTPClient(cfg.ProviderHTTPTimeout*2), logger),
		Publisher:    c.Publisher,
		Logger:       logger,
	}, orchestrator.Options{
		PollStaleFactor: cfg.PollStaleFactor,
		WebhookBaseURL:  cfg.WebhookBaseURL,
		JobTimeout:      cfg.JobTimeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Components) buildFiles(cfg *infra.Config, logger zerolog.Logger) error {
	if cfg.OSSBucket != "" {
		store, err := storage.NewOSSStore(storage.OSSOptions{
			Bucket:        cfg.OSSBucket,
			Region:        cfg.OSSRegion,
			Endpoint:      cfg.OSSEndpoint,
			PublicBaseURL: cfg.OSSPublicBaseURL,
			Prefix:        cfg.OSSPrefix,
		})
		if err != nil {
			return fmt.Errorf("configure storage: %w", err)
		}
		logger.Info().Str("bucket", cfg.OSSBucket).Msg("assets stored in object storage")
		c.Files = store
		return nil
	}

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	fs, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		return fmt.Errorf("configure storage: %w", err)
	}
	c.FileStore = fs
	c.Files = fs
	return nil
}

func (c *Components) buildStores(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, opts Options) error {
	if cfg.StoreBackend == infra.StoreBackendMemory {
		logger.Warn().Msg("memory store backend: state is lost on restart and not shared between processes")
		c.Stores = Stores{
			Jobs:    memory.NewJobStore(),
			Credits: memory.NewCreditStore(),
			Addons:  memory.NewAddonStore(),
			Events:  memory.NewEventLog(),
			Assets:  memory.NewAssetStore(),
		}
		if c.Redis != nil {
			c.Stores.Events = redisstore.NewEventLog(c.Redis, 0)
		}
		return nil
	}

	if opts.Migrate {
		if err := migrations.NewMigrator(cfg.DatabaseURL, logger).Up(); err != nil {
			return err
		}
	}
	pool, err := infra.NewDBPool(ctx, cfg, opts.Service)
	if err != nil {
		return err
	}
	c.DB = pool
	c.closers = append(c.closers, pool.Close)
	runner := infra.NewSQLRunner(pool, logger)
	c.Stores = Stores{
		Jobs:    repo.NewJobRepository(runner),
		Credits: repo.NewCreditRepository(runner),
		Addons:  repo.NewAddonRepository(runner),
		Events:  repo.NewEventLog(runner),
		Assets:  repo.NewAssetRepository(runner),
	}
	return nil
}

// buildProviders registers the real adapter of every provider with credentials and a
// synthetic stand-in under the same name for the rest.
func buildProviders(cfg *infra.Config, logger zerolog.Logger) *providers.Registry {
	var adapters []providers.Adapter
	dev := cfg.AppEnv == "development"

	if cfg.ReplicateAPIToken != "" {
		adapters = append(adapters, replicate.NewClient(replicate.Options{
			APIToken:       cfg.ReplicateAPIToken,
			BaseURL:        cfg.ReplicateBaseURL,
			WebhookSecret:  cfg.ReplicateWebhookSecret,
			Logger:         &logger,
			RequestTimeout: cfg.ProviderHTTPTimeout,
		}))
	} else {
		logger.Warn().Str("provider", engine.ProviderReplicate).Msg("provider credentials missing; using synthetic outputs")
		adapters = append(adapters, synthetic.New(engine.ProviderReplicate, synthetic.Options{DisableWebhooks: !dev}))
	}

	if cfg.FalAPIKey != "" {
		adapters = append(adapters, fal.NewClient(fal.Options{
			APIKey:         cfg.FalAPIKey,
			BaseURL:        cfg.FalBaseURL,
			VerifyWebhooks: cfg.FalVerifyWebhooks,
			JWKSURL:        cfg.FalJWKSURL,
			Logger:         &logger,
			RequestTimeout: cfg.ProviderHTTPTimeout,
		}))
	} else {
		logger.Warn().Str("provider", engine.ProviderFal).Msg("provider credentials missing; using synthetic outputs")
		adapters = append(adapters, synthetic.New(engine.ProviderFal, synthetic.Options{DisableWebhooks: !dev}))
	}

	return providers.NewRegistry(adapters...)
}

// Plan is the plan every owner account is opened with.
func Plan(cfg *infra.Config) domain.Plan {
	period := domain.PeriodMonthly
	if cfg.PlanPeriod == string(domain.PeriodWeekly) {
		period = domain.PeriodWeekly
	}
	return domain.Plan{
		Name:          "default",
		Period:        period,
		StandardLimit: cfg.PlanStandardLimit,
		PremiumLimit:  cfg.PlanPremiumLimit,
	}
}

// Pricing is the configured addon price list.
func Pricing(cfg *infra.Config) ledger.Pricing {
	return ledger.Pricing{
		Currency: cfg.AddonCurrency,
		Prices: map[domain.AddonKind]int64{
			domain.AddonKindFast:    cfg.AddonPriceFast,
			domain.AddonKindPremium: cfg.AddonPricePremium,
			domain.AddonKindUpscale: cfg.AddonPriceUpscale,
		},
	}
}

// Limiter returns the submission rate limiter: shared through Redis when it is configured,
// per process otherwise.
func (c *Components) Limiter() middleware.Limiter {
	if c.Config.RateLimitPerMin <= 0 {
		return nil
	}
	if c.Redis != nil {
		return redisstore.NewRateLimiter(c.Redis, c.Config.RateLimitPerMin, time.Minute)
	}
	return middleware.NewMemoryLimiter(c.Config.RateLimitPerMin, time.Minute)
}

// HealthChecks returns a ping per backing service the components hold.
func (c *Components) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if c.DB != nil {
		checks["postgres"] = c.DB.Ping
	}
	if c.Redis != nil {
		rdb := c.Redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// Close releases connections in reverse order of acquisition.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
