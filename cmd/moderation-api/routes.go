package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/moderation-engine/internal/handler"
	"github.com/noah-isme/moderation-engine/internal/middleware"
	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/internal/service"
	"github.com/noah-isme/moderation-engine/pkg/config"
)

type routeDeps struct {
	tokens     *service.TokenService
	health     *handler.HealthHandler
	rules      *handler.RuleHandler
	scan       *handler.ScanHandler
	moderation *handler.ModerationHandler
	stats      *handler.StatsHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	// download links carry their own signed token
	api.GET("/moderation/export/download/:token", deps.stats.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.tokens))

	admin := middleware.RequireRoles(models.RoleAdmin)
	reviewers := middleware.RequireRoles(models.RoleAdmin, models.RoleModerator)

	rules := secured.Group("/rules", admin)
	rules.POST("", deps.rules.Create)
	rules.GET("", deps.rules.List)
	rules.GET("/categories", deps.rules.Categories)
	rules.PUT("/categories/:category", deps.rules.ToggleCategory)
	rules.POST("/import", deps.rules.Import)
	rules.GET("/:id", deps.rules.Get)
	rules.PATCH("/:id", deps.rules.Update)
	rules.DELETE("/:id", deps.rules.Delete)

	scan := secured.Group("/scan")
	scan.POST("/contains", deps.scan.Contains)
	scan.POST("/matches", deps.scan.Matches)
	scan.POST("/redact", deps.scan.Redact)
	scan.GET("/automaton", reviewers, deps.scan.Status)
	scan.POST("/automaton/refresh", admin, deps.scan.Refresh)

	moderation := secured.Group("/moderation")
	moderation.POST("", deps.moderation.Moderate)
	moderation.POST("/batch", deps.moderation.Batch)
	moderation.GET("/reviews", reviewers, deps.moderation.Reviews)
	moderation.GET("/stats", admin, deps.stats.Stats)
	moderation.GET("/stats/rules", admin, deps.stats.RuleStats)
	moderation.GET("/export", admin, deps.stats.Export)
	// owner or reviewer, checked in the handler
	moderation.GET("/:id", deps.moderation.Get)
	moderation.POST("/:id/review", reviewers, deps.moderation.Review)
	moderation.POST("/:id/recheck", reviewers, deps.moderation.Recheck)
}
