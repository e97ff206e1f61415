// cmd/assistant/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storefront-assistant/internal/api"
	"storefront-assistant/internal/cache"
	"storefront-assistant/internal/catalog"
	awsclients "storefront-assistant/internal/common/aws"
	"storefront-assistant/internal/common/config"
	"storefront-assistant/internal/common/database"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/common/observability"
	"storefront-assistant/internal/keys"
	"storefront-assistant/internal/llm"
	"storefront-assistant/internal/models"
	"storefront-assistant/internal/notify"
	"storefront-assistant/internal/recommend"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// closers run in reverse order on shutdown.
type closers []func()

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewFromConfig(cfg.Logging)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting storefront assistant...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.Observability, nil)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx := context.Background()
	var cleanup closers

	// --- Redis (result and catalog caches) ---
	var redisClient *database.RedisClient
	if cfg.Cache.Backend == "redis" {
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		cleanup = append(cleanup, func() { _ = redisClient.Close() })
		zapLog.Info("Redis connected successfully")
	}

	// --- Catalog source ---
	store, err := openCatalog(ctx, cfg, zapLog, &cleanup)
	if err != nil {
		zapLog.Fatal("catalog init failed", zap.Error(err))
	}

	var (
		productCache  cache.Store[[]models.Product]
		categoryCache cache.Store[[]models.Category]
		resultCache   cache.Store[models.RecommendationResult]
	)
	catalogTTL := config.GetDuration(cfg.Recommendation.CatalogTTL)
	resultTTL := config.GetDuration(cfg.Recommendation.ResultTTL)
	if redisClient != nil {
		productCache = cache.NewRedisStore[[]models.Product](redisClient.Client, "catalog-products", cfg.Cache.Prefix+"catalog:", catalogTTL)
		categoryCache = cache.NewRedisStore[[]models.Category](redisClient.Client, "catalog-categories", cfg.Cache.Prefix+"catalog:", catalogTTL)
		resultCache = cache.NewRedisStore[models.RecommendationResult](redisClient.Client, "results", cfg.Cache.Prefix+"results:", resultTTL)
	} else {
		productCache = cache.NewMemory[[]models.Product]("catalog-products", catalogTTL)
		categoryCache = cache.NewMemory[[]models.Category]("catalog-categories", catalogTTL)
		resultCache = cache.NewMemory[models.RecommendationResult]("results", resultTTL)
	}
	cachedCatalog := catalog.NewCachedCatalog(store, productCache, categoryCache, catalogTTL, log)

	// --- Product request alerts ---
	sink, err := buildSink(ctx, cfg, store, log)
	if err != nil {
		zapLog.Fatal("notification init failed", zap.Error(err))
	}

	// --- LLM providers ---
	registry := keys.NewRegistry(log, keys.WithPolicy(keyPolicy(cfg.Keys)))
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		registry.Register(p.ID, p.Keys)
		client, err := llm.NewClient(p, registry, log)
		if err != nil {
			zapLog.Fatal("llm provider init failed", zap.String("provider", p.ID), zap.Error(err))
		}
		providers = append(providers, client)
		zapLog.Info("llm provider registered",
			zap.String("provider", p.ID),
			zap.String("kind", p.Kind),
			zap.Int("keys", len(p.Keys)),
		)
	}
	router := llm.NewRouter(log, providers...).WithRecorder(obs)

	engine := recommend.NewEngine(router, cachedCatalog, sink, resultCache, recommend.Options{
		MaxCandidates:     cfg.Recommendation.MaxCandidates,
		DefaultMaxResults: cfg.Recommendation.DefaultMaxResults,
		HistoryWindow:     cfg.Recommendation.HistoryWindow,
		ResultTTL:         resultTTL,
	}, log, recommend.WithRecorder(obs), recommend.WithTracer(obs.Tracer()))

	// --- HTTP server ---
	if cfg.Server.AdminToken == "" {
		zapLog.Warn("admin routes are unauthenticated, set ADMIN_TOKEN")
	}
	handler := api.NewHandler(engine, registry, cachedCatalog, log)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.Routes(handler, cfg.Server.AdminToken, log),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	cleanup.run()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing telemetry", zap.Error(err))
	}

	zapLog.Info("Storefront assistant stopped gracefully")
}

func openCatalog(ctx context.Context, cfg *config.Config, zapLog *zap.Logger, cleanup *closers) (catalog.Store, error) {
	switch cfg.Catalog.Source {
	case "postgres":
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, func() { _ = pg.Close() })
		zapLog.Info("PostgreSQL connected successfully")
		return catalog.NewPostgresStore(pg.DB), nil

	case "elasticsearch":
		var esClient *database.ElasticsearchClient
		err := retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		zapLog.Info("Elasticsearch connected successfully")
		return catalog.NewElasticsearchStore(esClient.Client, cfg.Catalog.ProductIndex, cfg.Catalog.CategoryIndex), nil

	default:
		if cfg.Catalog.FixturesPath == "" {
			zapLog.Warn("no catalog fixtures configured, starting with an empty catalog")
			return catalog.NewMemoryStore(nil, nil), nil
		}
		store, err := catalog.LoadFixtures(cfg.Catalog.FixturesPath)
		if err != nil {
			return nil, err
		}
		zapLog.Info("catalog fixtures loaded", zap.String("path", cfg.Catalog.FixturesPath))
		return store, nil
	}
}

func buildSink(ctx context.Context, cfg *config.Config, store catalog.ProductRequestSink, log logger.Logger) (catalog.ProductRequestSink, error) {
	n := cfg.Notifications
	if !n.Email.Enabled && !n.SNS.Enabled {
		return store, nil
	}

	clients, err := awsclients.NewClients(ctx, n.AWS.Region)
	if err != nil {
		return nil, err
	}
	var (
		sesClient awsclients.SESService
		snsClient awsclients.SNSService
	)
	if n.Email.Enabled {
		sesClient = clients.SES
	}
	if n.SNS.Enabled {
		snsClient = clients.SNS
	}

	return notify.NewProductRequestNotifier(store, notify.Config{
		EmailEnabled: n.Email.Enabled,
		FromEmail:    n.Email.FromEmail,
		ToEmails:     n.Email.ToEmails,
		SNSEnabled:   n.SNS.Enabled,
		TopicARN:     n.SNS.TopicARN,
	}, sesClient, snsClient, log), nil
}

func keyPolicy(c config.KeyPolicyConfig) keys.Policy {
	p := keys.DefaultPolicy()
	if c.FailureThreshold > 0 {
		p.FailureThreshold = c.FailureThreshold
	}
	if c.FailureCooldown > 0 {
		p.FailureCooldown = config.GetDuration(c.FailureCooldown)
	}
	if c.RateLimitCooldown > 0 {
		p.RateLimitCooldown = config.GetDuration(c.RateLimitCooldown)
	}
	return p
}
