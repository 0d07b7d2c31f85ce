package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/kosarica/place-service/docs"
	"github.com/kosarica/place-service/internal/middleware"
)

// RouterOptions configures authentication and rate limits
type RouterOptions struct {
	APIKey string
	// RequestsPerSecond and Burst bound the whole /internal group.
	RequestsPerSecond float64
	Burst             int
	// PerIP limits every client address when RequestsPerSecond is positive.
	PerIP middleware.RateLimiterConfig
}

// NewRouter builds the gin engine. ctx bounds the per-IP limiter cleanup.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions, logger *zerolog.Logger) *gin.Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)
	if opts.PerIP.RequestsPerSecond > 0 {
		router.Use(middleware.RateLimitMiddleware(ctx, opts.PerIP))
	}

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(opts.APIKey))
	internal.Use(middleware.ServiceRateLimitMiddleware(opts.RequestsPerSecond, opts.Burst))
	{
		internal.GET("/health", h.HealthCheck)

		service := internal.Group("/service")
		{
			service.POST("/start", h.StartService)
			service.POST("/stop", h.StopService)
			service.GET("/status", h.ServiceStatus)
		}

		tasks := internal.Group("/tasks")
		{
			tasks.POST("", h.EnqueueTask)
			tasks.GET("/:id", h.GetTask)
			tasks.GET("/:id/progress", h.GetTaskProgress)
		}

		queue := internal.Group("/queue")
		{
			queue.GET("/stats", h.QueueStats)
			queue.GET("/dead", h.ListDeadLetters)
		}

		internal.GET("/checkpoints/:job", h.GetCheckpoint)
	}

	return router
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		event := logger.Info()
		if path == "/health" || path == "/metrics" {
			event = logger.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
