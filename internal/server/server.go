// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/exitguard/exitguard/internal/auth"
	"github.com/exitguard/exitguard/internal/billing"
	"github.com/exitguard/exitguard/internal/config"
	"github.com/exitguard/exitguard/internal/dashboard"
	"github.com/exitguard/exitguard/internal/health"
	"github.com/exitguard/exitguard/internal/logging"
	"github.com/exitguard/exitguard/internal/metrics"
	"github.com/exitguard/exitguard/internal/ratelimit"
	"github.com/exitguard/exitguard/internal/realtime"
	"github.com/exitguard/exitguard/internal/security"
	"github.com/exitguard/exitguard/internal/session"
	"github.com/exitguard/exitguard/internal/tracker"
	"github.com/exitguard/exitguard/internal/traces"
	"github.com/exitguard/exitguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	store          session.Store
	fallback       *session.FallbackStore // nil when running on memory only
	memoryStore    *session.MemoryStore
	db             *sql.DB // nil if using in-memory
	authMgr        *auth.Manager
	trackerSvc     *tracker.Service
	dashboardSvc   *dashboard.Service
	realtimeHub    *realtime.Hub
	healthReg      *health.Registry
	trackLimiter   *ratelimit.Limiter
	dashLimiter    *ratelimit.Limiter
	loginLimiter   *ratelimit.Limiter
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc         // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore injects a session store (for testing)
func WithStore(store session.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory).
	// The memory store always exists: alone in demo mode, or as the degraded
	// fallback behind Postgres.
	s.memoryStore = session.NewMemoryStore()
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			// Configure connection pool
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			// Test connection
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.fallback = session.NewFallbackStore(session.NewPostgresStore(db), s.memoryStore)
			s.store = s.fallback
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = s.memoryStore
			s.logger.Info("using in-memory storage (sessions will not survive restart)")
		}
	}

	// Dashboard auth
	s.authMgr = auth.NewManager(cfg.DashboardUser, cfg.DashboardPassword)

	// Realtime hub for WebSocket streaming to the dashboard
	s.realtimeHub = realtime.NewHub(s.logger)

	// Core services
	s.trackerSvc = tracker.NewService(s.store, s.realtimeHub, cfg.SessionTTL, cfg.ConversionTTL)
	s.dashboardSvc = dashboard.NewService(s.store)

	// Health checkers
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("storage", s.storageChecker)
	s.healthReg.Register("realtime", s.realtimeChecker)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS: storefront snippets post from customer domains
	s.router.Use(security.CORSMiddleware(splitOrigins(s.cfg.AllowedOrigins)))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Per-route-class rate limiters are applied in setupRoutes

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time dashboard streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Per-route-class rate limits mirror how the endpoints are used: the
	// snippet fires often, the dashboard polls, and login is brute-forceable.
	s.trackLimiter = ratelimit.New(ratelimit.ForRPM(s.cfg.TrackRPM))
	s.dashLimiter = ratelimit.New(ratelimit.ForRPM(s.cfg.DashboardRPM))
	s.loginLimiter = ratelimit.New(ratelimit.ForRPM(s.cfg.LoginRPM))

	// Dashboard login
	s.router.POST("/api/login", s.loginLimiter.Middleware(), s.loginHandler)

	// Ingest routes (storefront snippet, API key auth)
	ingest := s.router.Group("/api")
	ingest.Use(s.trackLimiter.Middleware(), auth.RequireAPIKey(s.cfg.TrackingAPIKey))
	tracker.NewHandler(s.trackerSvc).RegisterRoutes(ingest)

	// Dashboard routes (operator, token auth)
	dash := s.router.Group("/api")
	dash.Use(s.dashLimiter.Middleware(), auth.RequireDashboardToken(s.authMgr))
	dashboard.NewHandler(s.dashboardSvc).RegisterRoutes(dash)

	// Stripe webhook (signed by Stripe, no API key)
	if s.cfg.StripeWebhookSecret != "" {
		stripeGroup := s.router.Group("/api")
		stripeGroup.Use(s.trackLimiter.Middleware())
		billing.NewHandler(s.trackerSvc, s.cfg.StripeWebhookSecret).RegisterRoutes(stripeGroup)
		s.logger.Info("stripe webhook enabled")
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginHandler handles POST /api/login
func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	token, err := s.authMgr.Login(req.Username, req.Password)
	if err != nil {
		logging.L(c.Request.Context()).Warn("failed login attempt",
			"username", req.Username,
			"client_ip", c.ClientIP(),
		)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Invalid credentials",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(auth.TokenTTL.Seconds()),
		"usage":      "Include 'Authorization: Bearer <token>' header in requests.",
	})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ExitGuard",
		"description": "Churn-risk telemetry and salvage tracking for e-commerce",
		"version":     "0.1.0",
	})
}

func (s *Server) storageChecker(ctx context.Context) health.Status {
	mode := "memory"
	if s.db != nil {
		mode = "postgres"
	}

	if s.fallback != nil && s.fallback.Degraded() {
		return health.Status{
			Name:    "storage",
			Healthy: false,
			Detail:  "degraded: serving from memory",
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Ping(checkCtx); err != nil {
		return health.Status{Name: "storage", Healthy: false, Detail: err.Error()}
	}

	return health.Status{Name: "storage", Healthy: true, Detail: mode}
}

func (s *Server) realtimeChecker(_ context.Context) health.Status {
	stats := s.realtimeHub.Stats()
	return health.Status{
		Name:    "realtime",
		Healthy: true,
		Detail:  fmt.Sprintf("%d clients", stats["connectedClients"]),
	}
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status         string          `json:"status"`
	Version        string          `json:"version"`
	Checks         []health.Status `json:"checks"`
	ActiveSessions int             `json:"active_sessions"`
	Timestamp      string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	active := 0
	if sessions, err := s.store.List(ctx); err == nil {
		now := time.Now().UnixMilli()
		for _, sess := range sessions {
			if (now-sess.LastActive)/1000 < int64(dashboard.LivenessWindow.Seconds()) {
				active++
			}
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:         status,
		Version:        "0.1.0",
		Checks:         checks,
		ActiveSessions: active,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when OTLP endpoint unset)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample DB pool stats into gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
		go s.expiredSessionReaper(runCtx)
	}

	// Keep the degraded-storage gauge current
	go s.watchStorageMode(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// expiredSessionReaper deletes expired rows so converted-session history
// doesn't accumulate forever. The store already filters expired rows on
// read; this is just space reclamation.
func (s *Server) expiredSessionReaper(ctx context.Context) {
	reaper := session.NewPostgresStore(s.db)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := reaper.DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn("expired session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}

// watchStorageMode mirrors fallback degradation into the Prometheus gauge.
func (s *Server) watchStorageMode(ctx context.Context) {
	if s.fallback == nil {
		metrics.StorageDegraded.Set(0)
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.fallback.Degraded() {
				metrics.StorageDegraded.Set(1)
			} else {
				metrics.StorageDegraded.Set(0)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutines
	for _, l := range []*ratelimit.Limiter{s.trackLimiter, s.dashLimiter, s.loginLimiter} {
		if l != nil {
			l.Stop()
		}
	}

	// Stop the memory store janitor
	if s.memoryStore != nil {
		s.memoryStore.Stop()
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Warn("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
