package main

import (
	"github.com/capforge/api/internal/config"
	"github.com/capforge/api/internal/handlers"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

type routerDeps struct {
	cfg      *config.Config
	logger   *zap.Logger
	breaker  *llm.CircuitBreaker
	generate *handlers.GenerateHandler
	jobs     *handlers.JobHandler
	caps     *handlers.CapabilityHandler
	usage    *handlers.UsageHandler
	health   *handlers.HealthHandler
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(d.logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(d.cfg.CORSOrigins))

	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", d.health.Health)
	router.GET("/health/deep", d.health.DeepHealth)

	api := router.Group(d.cfg.BasePath)
	api.Use(middleware.Auth(d.cfg.JWTSecret, d.logger))
	{
		api.GET("/capabilities", d.caps.GetCapabilities)
		api.GET("/usage", d.usage.GetUsage)
		api.GET("/jobs/:jobId", d.jobs.GetJob)
		api.GET("/jobs/:jobId/events", d.jobs.GetJobEvents)

		// Generation routes - rate limit + circuit breaker
		generation := api.Group("/generate")
		if d.cfg.RateLimit > 0 {
			generation.Use(middleware.RateLimitMiddleware(
				middleware.NewRateLimiter(d.cfg.RateLimit, d.cfg.RateLimit, d.cfg.RateLimitPer),
			))
		}
		generation.Use(middleware.CircuitBreakerMiddleware(d.breaker))
		{
			generation.POST("", d.generate.Generate)
			generation.POST("/stream", d.generate.Stream)
		}
	}
	return router
}
