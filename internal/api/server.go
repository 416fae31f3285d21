// Package api exposes the platform's HTTP surface: auth, strategies,
// bots, credentials, trading pairs, trades and the user websocket feed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"trading-platform/config"
	"trading-platform/internal/auth"
	"trading-platform/internal/cache"
	"trading-platform/internal/credentials"
	"trading-platform/internal/database"
	"trading-platform/internal/events"
	"trading-platform/internal/evaluator"
	"trading-platform/internal/logging"
	"trading-platform/internal/monitor"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// EvaluateFunc triggers one bot evaluation; wired to the evaluator at
// startup so the api package stays off the execution path.
type EvaluateFunc func(ctx context.Context, botID string, priority int) (*evaluator.Result, error)

// RateLimiter is a simple in-memory sliding-window limiter, keyed by
// client IP. Applied to the auth endpoints only.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request from key is within the limit
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := time.Now().Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	repo        *database.Repository
	bus         *events.EventBus
	authService *auth.Service
	jwtManager  *auth.JWTManager
	creds       *credentials.Service
	cacheSvc    *cache.Service
	monitor     *monitor.Monitor
	evaluate    EvaluateFunc
	hub         *Hub

	authLimiter *RateLimiter
	cfg         config.ServerConfig
	logger      *logging.Logger
}

// NewServer wires the router. monitor and cacheSvc may be nil.
func NewServer(
	cfg config.ServerConfig,
	repo *database.Repository,
	bus *events.EventBus,
	authService *auth.Service,
	jwtManager *auth.JWTManager,
	creds *credentials.Service,
	cacheSvc *cache.Service,
	mon *monitor.Monitor,
	evaluate EvaluateFunc,
	logger *logging.Logger,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		repo:        repo,
		bus:         bus,
		authService: authService,
		jwtManager:  jwtManager,
		creds:       creds,
		cacheSvc:    cacheSvc,
		monitor:     mon,
		evaluate:    evaluate,
		hub:         newHub(logger),
		authLimiter: NewRateLimiter(20, time.Minute),
		cfg:         cfg,
		logger:      logger.WithComponent("api"),
	}
	s.registerRoutes()
	s.hub.wireEventBroadcasts()
	go s.hub.run()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	authGroup := s.router.Group("/api/auth")
	authGroup.Use(s.rateLimit(s.authLimiter))
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/refresh", s.handleRefresh)
	}

	api := s.router.Group("/api")
	api.Use(auth.Middleware(s.jwtManager))
	{
		api.GET("/me", s.handleMe)

		api.GET("/strategies", s.handleListStrategies)
		api.POST("/strategies", s.handleCreateStrategy)
		api.GET("/strategies/:id", s.handleGetStrategy)
		api.PUT("/strategies/:id", s.handleUpdateStrategy)
		api.DELETE("/strategies/:id", s.handleDeleteStrategy)
		api.POST("/strategies/:id/duplicate", s.handleDuplicateStrategy)

		api.GET("/bots", s.handleListBots)
		api.POST("/bots", s.handleCreateBot)
		api.GET("/bots/:id", s.handleGetBot)
		api.PUT("/bots/:id", s.handleUpdateBot)
		api.DELETE("/bots/:id", s.handleDeleteBot)
		api.POST("/bots/:id/toggle-active", s.handleToggleBotActive)
		api.POST("/bots/:id/toggle-ai", s.handleToggleBotAI)
		api.POST("/bots/:id/evaluate", s.handleRunEvaluation)
		api.GET("/bots/:id/evaluations", s.handleGetEvaluations)
		api.GET("/bots/:id/trades", s.handleGetBotTrades)
		api.GET("/bots/:id/performance", s.handleGetBotPerformance)

		api.GET("/credentials", s.handleListCredentials)
		api.POST("/credentials", s.handleCreateCredential)
		api.PUT("/credentials/:id", s.handleUpdateCredential)
		api.DELETE("/credentials/:id", s.handleDeleteCredential)
		api.POST("/credentials/:id/verify", s.handleVerifyCredential)

		api.GET("/pairs", s.handleListPairs)
		api.GET("/pairs/popular", s.handlePopularPairs)
		api.GET("/pairs/search", s.handleSearchPairs)
		api.GET("/pairs/category/:category", s.handlePairsByCategory)
		api.GET("/pairs/broker/:broker", s.handlePairsByBroker)

		api.GET("/trades/open", s.handleOpenTrades)
	}

	// Websocket authenticates via query token since browsers cannot set
	// headers on the upgrade request
	s.router.GET("/ws", s.handleWebSocket)
}

func (s *Server) rateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "too many requests",
				"code":    "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	if err := s.repo.HealthCheck(ctx); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"cacheHealthy": s.cacheSvc.IsHealthy(),
	})
}

// Start begins serving; it blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// errorResponse is the uniform error body
func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"message": message, "code": code})
}

func authError(c *gin.Context, err error) {
	if ae, ok := err.(auth.AuthError); ok {
		status := http.StatusUnauthorized
		switch ae.Code {
		case "EMAIL_TAKEN":
			status = http.StatusConflict
		case "WEAK_PASSWORD", "INVALID_EMAIL":
			status = http.StatusBadRequest
		}
		errorResponse(c, status, ae.Code, ae.Message)
		return
	}
	errorResponse(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
}
