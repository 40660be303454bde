package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	Port         string
	StoreBackend string
	DatabaseURL  string
	DBMaxConns   int
	JWTSecret    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AMQPURL       string

	StoragePath    string
	StorageBaseURL string

	OSSBucket        string
	OSSRegion        string
	OSSEndpoint      string
	OSSPublicBaseURL string
	OSSPrefix        string

	ReplicateAPIToken      string
	ReplicateBaseURL       string
	ReplicateWebhookSecret string
	FalAPIKey              string
	FalBaseURL             string
	FalVerifyWebhooks      bool
	FalJWKSURL             string
	WebhookBaseURL         string

	PaymentBaseURL       string
	PaymentAPIKey        string
	PaymentWebhookSecret string

	PlanPeriod          string
	PlanStandardLimit   int
	PlanPremiumLimit    int
	AddonPriceFast      int64
	AddonPricePremium   int64
	AddonPriceUpscale   int64
	AddonCurrency       string
	PollStaleFactor     float64
	SweepInterval       time.Duration
	SweepBatchSize      int
	WorkerMetricsPort   string
	OTLPEndpoint        string
	JobTimeout          time.Duration
	ProviderHTTPTimeout time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
	DefaultLocale    string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         port,
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:    os.Getenv("JWT_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		AMQPURL:       os.Getenv("AMQP_URL"),

		StoragePath:    getEnv("STORAGE_PATH", "./data/assets"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),

		OSSBucket:        strings.TrimSpace(os.Getenv("OSS_BUCKET")),
		OSSRegion:        os.Getenv("OSS_REGION"),
		OSSEndpoint:      os.Getenv("OSS_ENDPOINT"),
		OSSPublicBaseURL: os.Getenv("OSS_PUBLIC_BASE_URL"),
		OSSPrefix:        getEnv("OSS_PREFIX", "assets"),

		ReplicateAPIToken:      os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:       getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateWebhookSecret: os.Getenv("REPLICATE_WEBHOOK_SECRET"),
		FalAPIKey:              os.Getenv("FAL_API_KEY"),
		FalBaseURL:             getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		FalVerifyWebhooks:      getEnvBool("FAL_VERIFY_WEBHOOKS", true),
		FalJWKSURL:             os.Getenv("FAL_JWKS_URL"),
		WebhookBaseURL:         os.Getenv("WEBHOOK_BASE_URL"),

		PaymentBaseURL:       os.Getenv("PAYMENT_BASE_URL"),
		PaymentAPIKey:        os.Getenv("PAYMENT_API_KEY"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),

		PlanPeriod:          strings.ToLower(getEnv("PLAN_PERIOD", "monthly")),
		PlanStandardLimit:   getEnvInt("PLAN_STANDARD_LIMIT", 50),
		PlanPremiumLimit:    getEnvInt("PLAN_PREMIUM_LIMIT", 10),
		AddonPriceFast:      int64(getEnvInt("ADDON_PRICE_FAST", 150)),
		AddonPricePremium:   int64(getEnvInt("ADDON_PRICE_PREMIUM", 300)),
		AddonPriceUpscale:   int64(getEnvInt("ADDON_PRICE_UPSCALE", 100)),
		AddonCurrency:       strings.ToUpper(getEnv("ADDON_CURRENCY", "USD")),
		PollStaleFactor:     getEnvFloat("POLL_STALE_FACTOR", 2),
		SweepInterval:       time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 30)),
		SweepBatchSize:      getEnvInt("SWEEP_BATCH_SIZE", 50),
		WorkerMetricsPort:   getEnv("WORKER_METRICS_PORT", "9091"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		JobTimeout:          time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 1800)),
		ProviderHTTPTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_HTTP_TIMEOUT_SECONDS", 30)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
	}

	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreBackendMemory:
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q", StoreBackendPostgres, StoreBackendMemory)
	}

	if cfg.OSSBucket != "" && cfg.OSSEndpoint == "" {
		return nil, fmt.Errorf("OSS_ENDPOINT is required when OSS_BUCKET is set")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Unverified provider webhooks let any caller finalize a job, so only development may run
	// a real provider without them.
	if cfg.AppEnv != "development" {
		if cfg.ReplicateAPIToken != "" && strings.TrimSpace(cfg.ReplicateWebhookSecret) == "" {
			return nil, fmt.Errorf("REPLICATE_WEBHOOK_SECRET is required when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.FalAPIKey != "" && !cfg.FalVerifyWebhooks {
			return nil, fmt.Errorf("FAL_VERIFY_WEBHOOKS cannot be disabled when APP_ENV=%s", cfg.AppEnv)
		}
	}

	if cfg.PlanPeriod != "monthly" && cfg.PlanPeriod != "weekly" {
		return nil, fmt.Errorf("PLAN_PERIOD must be monthly or weekly")
	}

	if cfg.PollStaleFactor < 1 {
		cfg.PollStaleFactor = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
