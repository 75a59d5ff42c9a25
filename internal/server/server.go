package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/markethub/admission-gateway/internal/admission"
	"github.com/markethub/admission-gateway/internal/config"
	"github.com/markethub/admission-gateway/internal/handler"
	"github.com/markethub/admission-gateway/internal/middleware"
	"github.com/markethub/admission-gateway/internal/repository"
	"github.com/markethub/admission-gateway/internal/service"
	"github.com/markethub/admission-gateway/internal/storage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	controller *admission.Controller
	registry   *prometheus.Registry
	log        zerolog.Logger

	authService    *service.AuthService
	apiKeyService  *service.APIKeyService
	decisionLogger *middleware.DecisionLogger

	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres,
	controller *admission.Controller, registry *prometheus.Registry, log zerolog.Logger) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis)

	authRepo := repository.NewAuthRepository(postgres)
	authService := service.NewAuthService(authRepo, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours)

	decisionLogRepo := repository.NewDecisionLogRepository(postgres)
	decisionLogger := middleware.NewDecisionLogger(decisionLogRepo, cfg.DecisionLog.BufferSize, log)

	s := &Server{
		router:         router,
		config:         cfg,
		redis:          redis,
		postgres:       postgres,
		controller:     controller,
		registry:       registry,
		log:            log,
		authService:    authService,
		apiKeyService:  apiKeyService,
		decisionLogger: decisionLogger,
	}

	s.setupMiddleware()
	s.setupRoutes(decisionLogRepo)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.log))
	s.router.Use(middleware.APIKeyValidator(s.apiKeyService))
	// The logger sits above Admission so that c.Next() returns with the
	// stashed decision even when Admission aborts on a denial.
	s.router.Use(s.decisionLogger.Middleware())
	s.router.Use(middleware.Admission(s.controller))
}

func (s *Server) setupRoutes(decisionLogRepo *repository.DecisionLogRepository) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	checkHandler := handler.NewCheckHandler(s.controller)
	s.router.POST("/v1/check", checkHandler.Check)

	ruleHandler := handler.NewRuleHandler(s.controller)
	reputationHandler := handler.NewReputationHandler(s.controller)
	statsHandler := handler.NewStatsHandler(s.controller)
	apiKeyHandler := handler.NewAPIKeyHandler(s.apiKeyService)
	authHandler := handler.NewAuthHandler(s.authService)
	analyticsHandler := handler.NewAnalyticsHandler(service.NewAnalyticsService(decisionLogRepo))

	s.router.POST("/admin/auth/register", authHandler.Register)
	s.router.POST("/admin/auth/login", authHandler.Login)

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.POST("/rules", ruleHandler.Create)
		admin.GET("/rules", ruleHandler.List)
		admin.GET("/rules/:id", ruleHandler.Get)
		admin.PATCH("/rules/:id", ruleHandler.Update)
		admin.DELETE("/rules/:id", ruleHandler.Delete)

		admin.POST("/reputation/allow", reputationHandler.Allow)
		admin.POST("/reputation/deny", reputationHandler.Deny)
		admin.GET("/reputation/:ip", reputationHandler.Check)

		admin.GET("/stats", statsHandler.Get)
		admin.GET("/stats/load", statsHandler.SystemLoad)
		admin.GET("/quota", statsHandler.RemainingQuota)
		admin.DELETE("/quota", statsHandler.ResetKey)

		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.PATCH("/keys/:id", apiKeyHandler.Update)
		admin.DELETE("/keys/:id", apiKeyHandler.Delete)

		admin.GET("/analytics", analyticsHandler.GetSummary)
		admin.GET("/analytics/logs", analyticsHandler.GetLogs)

		admin.GET("/breaker", s.breakerStatus)
		admin.POST("/breaker/reset", s.breakerReset)
	}
}

// Handles GET /health
func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		s.log.Warn().Err(err).Msg("redis health check failed")
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		s.log.Warn().Err(err).Msg("database health check failed")
	}

	status := "healthy"
	statusCode := http.StatusOK

	// The engine fails open when the counter store is down, so a
	// degraded health report is informational, not fatal.
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "admission-gateway",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
			"breaker":  s.redis.BreakerState(),
		},
	})
}

// Handles GET /admin/breaker
func (s *Server) breakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": s.redis.BreakerState(),
	})
}

// Handles POST /admin/breaker/reset
func (s *Server) breakerReset(c *gin.Context) {
	s.redis.ResetBreaker()
	c.JSON(http.StatusOK, gin.H{"message": "Breaker reset"})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.log.Info().Str("addr", addr).Str("environment", s.config.Server.Environment).Msg("starting admission gateway")

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Flush queued decision logs after in-flight requests have finished.
	s.decisionLogger.Stop()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
