package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/handler"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	verifier *credential.Verifier,
	store credential.Store,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(requestLogger(log))

	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper: func(c *gin.Context) bool {
			return strings.HasPrefix(c.Request.URL.Path, "/metrics")
		},
	}))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 120 requests per minute per student; the stream carries the per-second traffic.
	limiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Attempt Group (Session token) ──────────────────────────────
	api := router.Group("/api/v1")
	api.Use(
		middleware.RequireSession(verifier, store, log),
		limiter.Middleware(),
		middleware.NoStore(),
	)
	{
		api.POST("/exams/generate", handlers.Attempt.GenerateExam)

		api.GET("/attempts/history", handlers.Attempt.ListHistory)
		api.GET("/attempts/:handle", handlers.Attempt.GetAttempt)
		api.POST("/attempts/:handle/start", handlers.Attempt.StartAttempt)
		api.PUT("/attempts/:handle/answers/:question_id", handlers.Attempt.SelectOption)
		api.POST("/attempts/:handle/elapsed", handlers.Attempt.RecordElapsed)
		api.POST("/attempts/:handle/advance", handlers.Attempt.Advance)
		api.POST("/attempts/:handle/retreat", handlers.Attempt.Retreat)
		api.POST("/attempts/:handle/finalize", handlers.Attempt.Finalize)
		api.POST("/attempts/:handle/abandon", handlers.Attempt.Abandon)

		api.GET("/results/:attempt_id", handlers.Attempt.GetResults)
	}

	// ─── 2. WebSocket Group (Session token in query) ───────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSessionWS(verifier, store, log))
	{
		ws.GET("/attempts/:handle/stream", handlers.WS.AttemptStream)
	}

	return router
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		} else if status >= http.StatusBadRequest {
			evt = log.Warn()
		}
		reqID, _ := c.Get(response.ContextKeyRequestID)
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Interface("request_id", reqID).
			Msg("Request handled")
	}
}
