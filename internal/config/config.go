// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// maxSERPDepth is the largest result count the scraping API accepts.
const maxSERPDepth = 100

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL      string `env:"DATABASE_URL,required"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`

	// Cache (Redis)
	RedisURL      string `env:"REDIS_URL,required"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitAPIEnabled    bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitPublicEnabled bool `env:"RATE_LIMIT_PUBLIC_ENABLED" envDefault:"true"`
	RateLimitPublicRPS     int  `env:"RATE_LIMIT_PUBLIC_RPS" envDefault:"20"`
	RateLimitPublicBurst   int  `env:"RATE_LIMIT_PUBLIC_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Scraping API
	ScraperEndpoint   string        `env:"SCRAPER_ENDPOINT" envDefault:"https://api.scrapingrobot.com/"`
	ScraperToken      string        `env:"SCRAPER_TOKEN" envDefault:""`
	ScraperModule     string        `env:"SCRAPER_MODULE" envDefault:"GoogleScraper"`
	ScraperTimeout    time.Duration `env:"SCRAPER_TIMEOUT" envDefault:"60s"`
	ScraperMaxRetries int           `env:"SCRAPER_MAX_RETRIES" envDefault:"2"`
	ScraperRetryWait  time.Duration `env:"SCRAPER_RETRY_WAIT" envDefault:"2s"`

	// Rank checks
	SERPDepth       int           `env:"SERP_DEPTH" envDefault:"100"`
	SERPCacheTTL    time.Duration `env:"SERP_CACHE_TTL" envDefault:"1h"`
	DefaultCountry  string        `env:"DEFAULT_COUNTRY" envDefault:"US"`
	DefaultLanguage string        `env:"DEFAULT_LANGUAGE" envDefault:"en"`

	// Background workers
	WorkersEnabled        bool          `env:"WORKERS_ENABLED" envDefault:"true"`
	SchedulerInterval     time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	SchedulerBatchSize    int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"100"`
	RankWorkerConcurrency int           `env:"RANK_WORKER_CONCURRENCY" envDefault:"4"`

	// Plan catalog override (YAML). Empty uses the built-in plans.
	PlansFile string `env:"PLANS_FILE" envDefault:""`

	// Webhooks
	WebhookAllowInsecure     bool          `env:"WEBHOOK_ALLOW_INSECURE" envDefault:"false"`
	WebhookBatchSize         int           `env:"WEBHOOK_BATCH_SIZE" envDefault:"50"`
	WebhookConcurrency       int           `env:"WEBHOOK_WORKER_CONCURRENCY" envDefault:"8"`
	WebhookPollInterval      time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"5s"`
	WebhookDeliveryRetention time.Duration `env:"WEBHOOK_DELIVERY_RETENTION" envDefault:"720h"`

	// Metrics
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ScraperConfigured reports whether live rank checks can run.
func (c *Config) ScraperConfigured() bool {
	return strings.TrimSpace(c.ScraperToken) != ""
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or out of range.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SERPDepth < 1 || c.SERPDepth > maxSERPDepth {
		return fmt.Errorf("SERP_DEPTH must be between 1 and %d, got %d", maxSERPDepth, c.SERPDepth)
	}
	if c.ScraperMaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must not be negative, got %d", c.ScraperMaxRetries)
	}
	if c.RankWorkerConcurrency < 1 {
		return fmt.Errorf("RANK_WORKER_CONCURRENCY must be positive, got %d", c.RankWorkerConcurrency)
	}
	if c.DatabaseMaxConns < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be positive, got %d", c.DatabaseMaxConns)
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be positive, got %d", c.RedisPoolSize)
	}
	if c.SchedulerBatchSize < 1 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive, got %d", c.SchedulerBatchSize)
	}
	if c.WebhookBatchSize < 1 {
		return fmt.Errorf("WEBHOOK_BATCH_SIZE must be positive, got %d", c.WebhookBatchSize)
	}
	if c.WebhookConcurrency < 1 {
		return fmt.Errorf("WEBHOOK_WORKER_CONCURRENCY must be positive, got %d", c.WebhookConcurrency)
	}
	if c.WebhookPollInterval <= 0 {
		return fmt.Errorf("WEBHOOK_POLL_INTERVAL must be positive, got %s", c.WebhookPollInterval)
	}
	if c.WebhookDeliveryRetention < time.Hour {
		return fmt.Errorf("WEBHOOK_DELIVERY_RETENTION must be at least 1h, got %s", c.WebhookDeliveryRetention)
	}
	return nil
}
