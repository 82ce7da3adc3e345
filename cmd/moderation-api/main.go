package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/moderation-engine/api/swagger"
	"github.com/noah-isme/moderation-engine/internal/handler"
	"github.com/noah-isme/moderation-engine/internal/middleware"
	"github.com/noah-isme/moderation-engine/internal/provider"
	"github.com/noah-isme/moderation-engine/internal/repository"
	"github.com/noah-isme/moderation-engine/internal/service"
	"github.com/noah-isme/moderation-engine/pkg/cache"
	"github.com/noah-isme/moderation-engine/pkg/config"
	"github.com/noah-isme/moderation-engine/pkg/database"
	"github.com/noah-isme/moderation-engine/pkg/jobs"
	"github.com/noah-isme/moderation-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/moderation-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/moderation-engine/pkg/middleware/requestid"
	"github.com/noah-isme/moderation-engine/pkg/storage"
)

const (
	shutdownTimeout = 15 * time.Second
	cleanupInterval = time.Hour
	cachePrefix     = "moderation:"
)

// @title Moderation Engine API
// @version 1.0.0
// @description Sensitive word scanning and content moderation service.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	cacheRepo := repository.NewCacheRepository(redisClient, cachePrefix, logr)
	defer cacheRepo.Close()
	ruleRepo := repository.NewRuleRepository(db)
	moderationRepo := repository.NewModerationRepository(db)

	// background workers outlive the signal so in-flight requests can finish
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	hitRecorder := service.NewHitRecorder(ruleRepo, cfg.Moderation.HitWorkers, cfg.Moderation.HitBuffer, logr)
	hitRecorder.Start(workCtx)
	metrics.WatchQueue(hitRecorder.Queue())

	pool := jobs.NewPool("moderation", cfg.Moderation.AsyncWorkers, cfg.Moderation.AsyncBuffer, logr)
	pool.Start(workCtx)
	metrics.WatchQueue(pool.Queue())

	scanner := service.NewScannerService(ruleRepo, hitRecorder, metrics, cfg.Moderation.AutomatonTTL, logr)
	if err := scanner.Refresh(ctx); err != nil {
		logr.Warn("initial automaton build failed, scans will retry lazily", zap.Error(err))
	}

	providerCache := service.NewCacheService(cacheRepo, metrics, cfg.Moderation.ProviderCacheTTL, logr, redisClient != nil)
	statsCache := service.NewCacheService(cacheRepo, metrics, cfg.Moderation.StatsCacheTTL, logr, redisClient != nil && cfg.Moderation.StatsCacheOn)

	ruleService := service.NewRuleService(ruleRepo, scanner, validate, logr)
	moderationService := service.NewModerationService(
		moderationRepo,
		scanner,
		provider.New(cfg.Provider, logr),
		providerCache,
		pool,
		metrics,
		validate,
		logr,
		service.ModerationServiceConfig{
			CacheWindow:      cfg.Moderation.CacheWindow,
			SummaryLength:    cfg.Moderation.SummaryLength,
			ProviderTimeout:  cfg.Provider.Timeout,
			ProviderCacheTTL: cfg.Moderation.ProviderCacheTTL,
		},
	)
	statsService := service.NewStatsService(moderationRepo, statsCache, cfg.Moderation.StatsCacheTTL, logr)

	exportStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Fatal("failed to prepare export directory", zap.Error(err))
	}
	exportService := service.NewExportService(
		moderationRepo,
		exportStore,
		storage.NewSignedURLSigner(cfg.JWT.Secret, cfg.Export.URLTTL),
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Export.ResultTTL, MaxRows: cfg.Export.MaxRows},
		logr,
		nil,
		nil,
	)
	go sweepExports(ctx, exportService, cfg.Export.ResultTTL, logr)

	tokens := service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	checks := map[string]handler.Pinger{"postgres": db.PingContext, "redis": cacheRepo.Ping}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	registerRoutes(r, cfg, routeDeps{
		tokens:     tokens,
		health:     handler.NewHealthHandler(metrics, scanner, checks),
		rules:      handler.NewRuleHandler(ruleService),
		scan:       handler.NewScanHandler(scanner),
		moderation: handler.NewModerationHandler(moderationService),
		stats:      handler.NewStatsHandler(statsService, ruleService, exportService),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	pool.Stop()
	hitRecorder.Stop()
}

func sweepExports(ctx context.Context, exports *service.ExportService, ttl time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := exports.Cleanup(ttl)
			if err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				logr.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}
