package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rentledger/rentledger/internal/health"
	"github.com/rentledger/rentledger/internal/identity"
	"github.com/rentledger/rentledger/internal/lease/handler"
	"github.com/rentledger/rentledger/internal/lease/service"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type routerConfig struct {
	ledger       *service.Ledger
	health       *health.Checker        // nil = /readyz always ready
	tokens       *identity.TokenIssuer // nil = open mode
	corsOrigins  []string
	rateLimitRPS int
	development  bool
}

// newRouter builds the ledgerd HTTP surface. ctx bounds background work
// owned by middleware.
func newRouter(ctx context.Context, cfg routerConfig, logger *zap.Logger) *gin.Engine {
	if !cfg.development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.PrometheusMiddleware())

	// CORS
	origins := lo.Compact(lo.Map(cfg.corsOrigins, func(o string, _ int) string { return strings.TrimSpace(o) }))
	if len(origins) > 0 {
		wildcard := lo.Contains(origins, "*")
		corsConfig := cors.Config{
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", identity.CallerHeader},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !wildcard,
			MaxAge:           12 * time.Hour,
		}
		if wildcard {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = origins
		}
		router.Use(cors.New(corsConfig))
	}

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	// Per-IP rate limiting
	if rps := cfg.rateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, float64(rps), rps*2))
	}

	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if cfg.health == nil {
			c.JSON(http.StatusOK, gin.H{"ready": true})
			return
		}
		probes, ready := cfg.health.Status()
		c.JSON(lo.Ternary(ready, http.StatusOK, http.StatusServiceUnavailable), gin.H{
			"ready":  ready,
			"probes": probes,
		})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewAgreementHandler(cfg.ledger, cfg.tokens, logger).Register(v1)
	handler.NewEventsHandler(cfg.ledger, logger).Register(v1)

	return router
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
