package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	v1 "csquare/marketplace/marketplace-backend/api/v1"
	"csquare/marketplace/marketplace-backend/internal/auth"
	"csquare/marketplace/marketplace-backend/internal/cache"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/config"
	"csquare/marketplace/marketplace-backend/internal/contact"
	"csquare/marketplace/marketplace-backend/internal/dashboard"
	"csquare/marketplace/marketplace-backend/internal/database"
	"csquare/marketplace/marketplace-backend/internal/explorer"
	"csquare/marketplace/marketplace-backend/internal/idempotency"
	"csquare/marketplace/marketplace-backend/internal/logging"
	"csquare/marketplace/marketplace-backend/internal/marketplace"
	"csquare/marketplace/marketplace-backend/internal/notifications"
	"csquare/marketplace/marketplace-backend/internal/notifications/websocket"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/ratelimit"
	"csquare/marketplace/marketplace-backend/internal/retirement"
	"csquare/marketplace/marketplace-backend/internal/search"
	"csquare/marketplace/marketplace-backend/pkg/awsclient"
	"csquare/marketplace/marketplace-backend/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to an optional JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Database
	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := companies.EnsureIndexes(ctx, db.Database()); err != nil {
		logger.Fatal("Failed to create company indexes", zap.Error(err))
	}
	if err := projects.EnsureIndexes(ctx, db.Database()); err != nil {
		logger.Fatal("Failed to create project indexes", zap.Error(err))
	}

	awsCfg, err := awsclient.Load(ctx, awsclient.Options{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	})
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}

	feedCache := newCache(ctx, cfg.Cache, logger)
	idempotencyStore, stopIdempotency := newIdempotencyStore(cfg.Idempotency, awsCfg, logger)
	index := newSearchIndex(ctx, cfg.Search, logger)

	live := websocket.NewManager(cfg.Server.AllowedOrigin, logger)
	sinks := []notifications.Sink{live}
	if cfg.Events.SNSTopicARN != "" {
		sinks = append(sinks, notifications.NewSNSSink(sns.NewFromConfig(awsCfg), cfg.Events.SNSTopicARN))
	}
	events := notifications.NewDispatcher(logger, sinks...)

	var certificateStore storage.ObjectStore
	if cfg.Storage.CertificateBucket != "" {
		certificateStore = storage.NewS3Client(awsCfg, cfg.Storage.CertificateBucket)
	}

	// Repositories
	companyRepo := companies.NewRepository(db.Database())
	projectRepo := projects.NewRepository(db.Database())

	// Services
	tokens := auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	cookies := auth.NewCookies(cfg.Security)
	authMiddleware := auth.NewMiddleware(tokens, cookies, logger)
	authService := auth.NewService(companyRepo, tokens, cfg.Security.BcryptCost, logger)

	marketplaceService := marketplace.NewService(projectRepo, companyRepo, marketplace.Options{
		Tx:       db,
		Cache:    feedCache,
		CacheTTL: cfg.Cache.TTL,
		Index:    index,
		Events:   events,
	}, logger)
	projectService := projects.NewService(projectRepo, companyRepo, db, logger)
	projectService.AddListener(marketplaceService)

	retirementService := retirement.NewService(companyRepo, retirement.Options{
		Store:      certificateStore,
		PresignTTL: cfg.Storage.PresignTTL,
		Cache:      feedCache,
		Events:     events,
	}, logger)

	mailer := contact.NewSESMailer(sesv2.NewFromConfig(awsCfg), cfg.Email.FromAddress, cfg.Email.FromName)

	var google auth.GoogleProvider
	if g := auth.NewGoogleOAuth(cfg.Google); g != nil {
		google = g
	} else {
		logger.Info("Google sign-in disabled")
	}

	limiter := ratelimit.FromConfig(cfg.RateLimit, logger)
	limiter.StartCleanup(time.Minute)

	router := v1.NewRouter(v1.RouterConfig{
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Release:       cfg.IsProduction(),
		HealthCheck:   db.Ping,
	}, v1.Handlers{
		Auth:        auth.NewHandler(authService, cookies, google, cfg.Server.ClientURL, logger),
		Companies:   companies.NewHandler(companies.NewService(companyRepo, logger), logger),
		Projects:    projects.NewHandler(projectService, logger),
		Marketplace: marketplace.NewHandler(marketplaceService, logger),
		Dashboard:   dashboard.NewHandler(dashboard.NewService(companyRepo, logger), logger),
		Explorer:    explorer.NewHandler(explorer.NewService(companyRepo, feedCache, cfg.Cache.TTL, logger), live, logger),
		Retirement:  retirement.NewHandler(retirementService, logger),
		Contact:     contact.NewHandler(contact.NewService(mailer, cfg.Email.ContactTo, logger), logger),
	}, v1.Middleware{
		RequireAuth:  authMiddleware.RequireAuth(),
		RequireAdmin: authMiddleware.RequireAdmin(),
		RateLimit:    limiter.Middleware(),
		Idempotency:  idempotency.Middleware(idempotencyStore, cfg.Idempotency.TTL, logger),
	}, logger)

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("environment", cfg.Environment))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	limiter.Stop()
	stopIdempotency()
	live.Close()
	if err := feedCache.Close(); err != nil {
		logger.Warn("Failed to close cache", zap.Error(err))
	}
	if err := db.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(time.Minute)
	}
	redisCache, err := cache.NewRedisCache(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
		return cache.NewMemoryCache(time.Minute)
	}
	logger.Info("Redis cache connected", zap.String("addr", cfg.RedisAddr))
	return redisCache
}

// newIdempotencyStore also returns the function stopping the store's
// background work.
func newIdempotencyStore(cfg config.IdempotencyConfig, awsCfg aws.Config, logger *zap.Logger) (idempotency.Store, func()) {
	if cfg.DynamoTable == "" {
		logger.Info("Idempotency keys held in memory")
		store := idempotency.NewMemoryStore()
		store.StartCleanup(time.Minute)
		return store, store.Stop
	}
	return idempotency.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable), func() {}
}

// newSearchIndex returns nil when search is not configured or unreachable;
// listings then fall back to database scans.
func newSearchIndex(ctx context.Context, cfg config.SearchConfig, logger *zap.Logger) search.Index {
	if len(cfg.Addresses) == 0 {
		return nil
	}
	index, err := search.NewElasticIndex(cfg, logger)
	if err != nil {
		logger.Warn("Search disabled", zap.Error(err))
		return nil
	}
	if err := index.EnsureIndex(ctx); err != nil {
		logger.Warn("Search disabled", zap.Error(err))
		return nil
	}
	return index
}
