// Package main is the entrypoint for the Rankwatch API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rankwatch/rankwatch/internal/cache"
	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/handler"
	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/middleware"
	"github.com/rankwatch/rankwatch/internal/plan"
	"github.com/rankwatch/rankwatch/internal/rankqueue"
	"github.com/rankwatch/rankwatch/internal/repository"
	"github.com/rankwatch/rankwatch/internal/scraper"
	"github.com/rankwatch/rankwatch/internal/server"
	"github.com/rankwatch/rankwatch/internal/service"
	"github.com/rankwatch/rankwatch/internal/webhook"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Plan catalog
	catalog, err := loadCatalog(cfg.PlansFile)
	if err != nil {
		logger.Error("failed to load plan catalog", "error", err, "path", cfg.PlansFile)
		os.Exit(1)
	}

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.WithMaxConns(cfg.DatabaseMaxConns))
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL, cache.WithPoolSize(cfg.RedisPoolSize))
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	// Metrics
	var (
		recorder metrics.Recorder = metrics.NewNoop()
		exporter http.Handler
	)
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		exporter = prom.Handler()
	}

	// Scraping API
	scraperClient := scraper.New(scraper.Config{
		Endpoint:   cfg.ScraperEndpoint,
		Token:      cfg.ScraperToken,
		Module:     cfg.ScraperModule,
		Timeout:    cfg.ScraperTimeout,
		MaxRetries: cfg.ScraperMaxRetries,
		RetryWait:  cfg.ScraperRetryWait,
		Depth:      cfg.SERPDepth,
	}, logger)
	scraperMode := "configured"
	if !cfg.ScraperConfigured() {
		scraperMode = "disabled"
		logger.Warn("SCRAPER_TOKEN not set; live rank checks will fail until it is configured")
	}

	// Initialize services
	webhookRepo := webhook.NewRepository(repo.Pool())
	rankPublisher := rankqueue.NewPublisher(cacheClient.Client(), logger, recorder)

	subscriptionService := service.NewSubscriptionService(repo, catalog, cacheClient, logger)
	domainService := service.NewDomainService(repo, subscriptionService, recorder)
	keywordService := service.NewKeywordService(repo, subscriptionService, rankPublisher, service.KeywordDefaults{
		Country:  cfg.DefaultCountry,
		Language: cfg.DefaultLanguage,
	}, logger, recorder)
	notificationService := service.NewNotificationService(repo)
	reportService := service.NewReportService(repo)
	rankService := service.NewRankService(service.RankServiceDeps{
		Store:    repo,
		Cache:    cacheClient,
		Fetcher:  scraperClient,
		Plans:    subscriptionService,
		Notifier: notificationService,
		Events:   webhook.NewPublisher(webhookRepo, logger),
		Logger:   logger,
		Metrics:  recorder,
	}, service.RankConfig{
		Depth:    cfg.SERPDepth,
		CacheTTL: cfg.SERPCacheTTL,
	})

	// Initialize handlers
	handlers := &routes{
		root:          handler.NewRoot("/api/v1"),
		health:        handler.NewHealthHandler(repo, cacheClient).WithInfo("scraper", scraperMode),
		metrics:       handler.NewMetricsHandler(exporter),
		domains:       handler.NewDomainHandler(domainService, reportService, logger),
		keywords:      handler.NewKeywordHandler(keywordService, rankService, logger),
		subscriptions: handler.NewSubscriptionHandler(subscriptionService, logger),
		notifications: handler.NewNotificationHandler(notificationService, logger),
		apiKeys:       handler.NewAPIKeyHandler(logger, repo, subscriptionService, cacheClient),
		webhooks:      handler.NewWebhookHandler(webhookRepo, domainService, logger, cfg.WebhookAllowInsecure),
	}

	// Setup router
	r := setupRouter(handlers, repo, cacheClient, recorder, cfg, logger)

	// Create and run server
	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first so they close after every worker has stopped.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	if cfg.WorkersEnabled {
		startWorkers(srv, cfg, repo, cacheClient, rankPublisher, rankService, webhookRepo, recorder, logger)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"workers", cfg.WorkersEnabled,
		"plans", len(catalog.List()),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// loadCatalog reads the plan file when one is configured.
func loadCatalog(path string) (*plan.Catalog, error) {
	if path == "" {
		return plan.Builtin(), nil
	}
	return plan.Load(path)
}

// startWorkers runs the due-keyword scheduler, the rank check consumers and
// the webhook delivery worker in-process.
func startWorkers(
	srv *server.Server,
	cfg *config.Config,
	repo *repository.Repository,
	cacheClient *cache.Cache,
	publisher *rankqueue.Publisher,
	rankService *service.RankService,
	webhookRepo *webhook.Repository,
	recorder metrics.Recorder,
	logger *slog.Logger,
) {
	scheduler := rankqueue.NewScheduler(repo, publisher, logger)
	scheduler.SetInterval(cfg.SchedulerInterval)
	scheduler.SetBatchSize(cfg.SchedulerBatchSize)

	checker := rankqueue.CheckerFunc(func(ctx context.Context, keywordID string) error {
		_, err := rankService.CheckKeyword(ctx, keywordID)
		return err
	})
	rankWorker := rankqueue.NewWorker(cacheClient.Client(), checker, rankqueue.WorkerConfig{
		Concurrency: cfg.RankWorkerConcurrency,
		Permanent:   service.IsPermanentCheckError,
	}, logger, recorder)

	webhookWorker := webhook.NewWorker(webhookRepo, webhook.TargetPolicy{AllowInsecure: cfg.WebhookAllowInsecure}, logger, recorder)
	webhookWorker.SetBatchSize(cfg.WebhookBatchSize)
	webhookWorker.SetConcurrency(cfg.WebhookConcurrency)
	webhookWorker.SetPollInterval(cfg.WebhookPollInterval)
	webhookWorker.SetRetention(cfg.WebhookDeliveryRetention)

	// Stopped in reverse order: scheduler, rank consumers, webhook worker.
	srv.Go("webhook_worker", webhookWorker.Run)
	srv.Go("rank_worker", rankWorker.Run)
	srv.Go("rank_scheduler", scheduler.Run)
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// routes groups the HTTP handlers mounted by setupRouter.
type routes struct {
	root          *handler.Root
	health        *handler.HealthHandler
	metrics       *handler.MetricsHandler
	domains       *handler.DomainHandler
	keywords      *handler.KeywordHandler
	subscriptions *handler.SubscriptionHandler
	notifications *handler.NotificationHandler
	apiKeys       *handler.APIKeyHandler
	webhooks      *handler.WebhookHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *routes,
	repo *repository.Repository,
	cacheClient *cache.Cache,
	recorder metrics.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.IsDevelopment = cfg.IsDevelopment()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Metrics(recorder))
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Health endpoints (no auth required)
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/metrics", h.metrics.Metrics)

	// Root info endpoint
	r.Get("/", h.root.Index)

	// Auth middleware configuration
	authCfg := middleware.AuthConfig{
		Logger: logger,
		Keys:   repo,
		Cache:  cacheClient,
	}

	// Rate limit middleware configuration
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        logger,
		Limiter:       cacheClient,
		APIEnabled:    cfg.RateLimitAPIEnabled,
		PublicEnabled: cfg.RateLimitPublicEnabled,
		PublicRPS:     cfg.RateLimitPublicRPS,
		PublicBurst:   cfg.RateLimitPublicBurst,
	}

	// Public plan catalog with IP-based rate limiting (no auth required)
	r.With(middleware.RateLimitIP(rateLimitCfg)).Get("/plans", h.subscriptions.Plans)

	listQuery := middleware.ValidateQuery(nil)
	notificationQuery := middleware.ValidateQuery(map[string][]string{
		"unread": {"true", "false", "1", "0"},
	})
	deliveryQuery := middleware.ValidateQuery(map[string][]string{
		"status": {"pending", "success", "failed", "exhausted"},
	})

	// API v1 routes (require authentication)
	r.Route("/api/v1", func(r chi.Router) {
		// Apply auth and rate limit middleware to all API routes
		r.Use(middleware.Auth(authCfg))
		r.Use(middleware.RateLimitAPI(rateLimitCfg))

		r.Route("/domains", func(r chi.Router) {
			r.With(middleware.RequireRead(), listQuery).Get("/", h.domains.List)
			r.With(middleware.RequireWrite()).Post("/", h.domains.Create)
			r.With(middleware.RequireRead()).Get("/{id}", h.domains.Get)
			r.With(middleware.RequireWrite()).Patch("/{id}", h.domains.Update)
			r.With(middleware.RequireWrite()).Delete("/{id}", h.domains.Delete)
			r.With(middleware.RequireRead()).Get("/{id}/report", h.domains.Report)
		})

		r.Route("/keywords", func(r chi.Router) {
			r.With(middleware.RequireRead(), listQuery).Get("/", h.keywords.List)
			r.With(middleware.RequireWrite()).Post("/", h.keywords.Create)
			r.With(middleware.RequireRead()).Get("/{id}", h.keywords.Get)
			r.With(middleware.RequireWrite()).Patch("/{id}", h.keywords.Update)
			r.With(middleware.RequireWrite()).Delete("/{id}", h.keywords.Delete)
			r.With(middleware.RequireWrite()).Post("/{id}/check", h.keywords.Check)
			r.With(middleware.RequireRead(), listQuery).Get("/{id}/history", h.keywords.History)
		})

		r.With(middleware.RequireRead()).Get("/plans", h.subscriptions.Plans)

		// Plan changes are account-level and need the admin scope
		r.Route("/subscription", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", h.subscriptions.Get)
			r.With(middleware.RequireAdmin()).Put("/", h.subscriptions.Change)
			r.With(middleware.RequireAdmin()).Delete("/", h.subscriptions.Cancel)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.With(middleware.RequireRead(), notificationQuery).Get("/", h.notifications.List)
			r.With(middleware.RequireRead()).Get("/unread-count", h.notifications.UnreadCount)
			r.With(middleware.RequireWrite()).Post("/read-all", h.notifications.MarkAllRead)
			r.With(middleware.RequireWrite()).Post("/{id}/read", h.notifications.MarkRead)
		})

		// API key management (requires admin scope for mutations)
		r.Route("/api-keys", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", h.apiKeys.ListAPIKeys)
			r.With(middleware.RequireAdmin()).Post("/", h.apiKeys.CreateAPIKey)
			r.With(middleware.RequireAdmin()).Delete("/{key_id}", h.apiKeys.RevokeAPIKey)
			r.With(middleware.RequireAdmin()).Post("/{key_id}/rotate", h.apiKeys.RotateAPIKey)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.RequireWebhook())
			r.Get("/", h.webhooks.List)
			r.Post("/", h.webhooks.Create)
			r.Get("/{id}", h.webhooks.Get)
			r.Patch("/{id}", h.webhooks.Update)
			r.Delete("/{id}", h.webhooks.Delete)
			r.Post("/{id}/rotate-secret", h.webhooks.RotateSecret)
			r.With(deliveryQuery).Get("/{id}/deliveries", h.webhooks.ListDeliveries)
			r.Post("/{id}/deliveries/{deliveryId}/retry", h.webhooks.RetryDelivery)
		})
	})

	// 404 and 405 handlers
	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
