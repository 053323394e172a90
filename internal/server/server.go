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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/swiftramp/swiftramp/internal/admins"
	"github.com/swiftramp/swiftramp/internal/auth"
	"github.com/swiftramp/swiftramp/internal/chat"
	"github.com/swiftramp/swiftramp/internal/config"
	"github.com/swiftramp/swiftramp/internal/health"
	"github.com/swiftramp/swiftramp/internal/ledger"
	"github.com/swiftramp/swiftramp/internal/logging"
	"github.com/swiftramp/swiftramp/internal/metrics"
	"github.com/swiftramp/swiftramp/internal/ratelimit"
	"github.com/swiftramp/swiftramp/internal/rates"
	"github.com/swiftramp/swiftramp/internal/realtime"
	"github.com/swiftramp/swiftramp/internal/security"
	"github.com/swiftramp/swiftramp/internal/trade"
	"github.com/swiftramp/swiftramp/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	oracle       *rates.Oracle
	rateService  *rates.Service
	adminService *admins.Service
	ledger       *ledger.Ledger
	chatService  *chat.Service
	tradeService *trade.Service
	tradeTimer   *trade.Timer
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		tradeStore  trade.Store
		adminStore  admins.Store
		chatStore   chat.Store
		ledgerStore ledger.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		tradeStore = trade.NewPostgresStore(db)
		adminStore = admins.NewPostgresStore(db)
		chatStore = chat.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		tradeStore = trade.NewMemoryStore()
		adminStore = admins.NewMemoryStore()
		chatStore = chat.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Rate oracle + quote service
	s.oracle = rates.NewOracle(rates.Options{
		PriceBaseURL: cfg.OracleBaseURL,
		FXBaseURL:    cfg.FXBaseURL,
		PriceTTL:     cfg.PriceRefresh,
		FXTTL:        cfg.FXRefresh,
		Timeout:      cfg.OracleTimeout,
		MaxRetries:   cfg.OracleRetries,
	})
	s.rateService = rates.NewService(s.oracle, cfg.Margins)

	// Admin pool
	s.adminService = admins.NewService(adminStore, cfg.HeartbeatTTL, cfg.DefaultAdminID)
	if err := s.ensureDefaultOperator(ctx, adminStore); err != nil {
		return nil, fmt.Errorf("failed to seed default operator: %w", err)
	}

	// Settlement ledger
	s.ledger = ledger.New(ledgerStore)

	// Realtime hub
	s.realtimeHub = realtime.NewHub(s.logger)

	// Trade engine. The chat service needs the trade service to resolve
	// participants, and the trade service posts system messages back into
	// chat, so wiring happens in two steps.
	s.tradeService = trade.NewService(
		tradeStore,
		&rateLockerAdapter{s.rateService},
		&adminPoolAdapter{s.adminService},
		s.ledger,
	).
		WithBounds(trade.Bounds{Min: cfg.MinAmounts, Max: cfg.MaxAmounts}).
		WithTTL(cfg.TradeTTL).
		WithBroadcaster(&hubBroadcaster{s.realtimeHub})

	s.chatService = chat.NewService(chatStore, s.tradeService).
		WithEvents(&chatEventEmitter{s.realtimeHub})
	s.tradeService.WithChat(&systemChatAdapter{s.chatService})

	s.tradeTimer = trade.NewTimer(s.tradeService, tradeStore, cfg.ExpirySweep, s.logger)

	// Health checks
	s.checks = health.NewRegistry()
	s.checks.Register("rate_oracle", func(ctx context.Context) health.Status {
		if !s.oracle.Healthy() {
			return health.Status{Name: "rate_oracle", Healthy: false, Detail: "no price snapshot"}
		}
		return health.Status{Name: "rate_oracle", Healthy: true}
	})
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

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

// ensureDefaultOperator seeds the fallback operator account that absorbs
// trades when no ranked admin is available. Idempotent across restarts.
func (s *Server) ensureDefaultOperator(ctx context.Context, store admins.Store) error {
	if s.cfg.DefaultAdminID == "" {
		return nil
	}
	now := time.Now().UTC()
	err := store.Create(ctx, &admins.Profile{
		ID:          s.cfg.DefaultAdminID,
		DisplayName: "Default Operator",
		Region:      admins.RegionAll,
		MaxLoad:     0, // unbounded
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Is(err, admins.ErrAdminExists) {
		return nil
	}
	return err
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

	// CORS (gateway is the only expected caller; keep open for tooling)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no identity required)
	// Indicative quotes are browsable before opening a trade.
	rates.NewHandler(s.rateService).RegisterRoutes(v1)

	// PROTECTED ROUTES (require gateway identity headers)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.cfg.GatewaySecret))
	{
		trade.NewHandler(s.tradeService).RegisterRoutes(protected)
		chat.NewHandler(s.chatService).RegisterRoutes(protected)
		admins.NewHandler(s.adminService).RegisterRoutes(protected)
		ledger.NewHandler(s.ledger).RegisterRoutes(protected)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "SwiftRamp",
		"description": "Human-verified crypto to fiat trading",
		"version":     "0.1.0",
		"assets":      []string{"BTC", "ETH", "USDT"},
		"currencies":  []string{"NGN", "KES"},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start rate oracle refresh loops
	s.oracle.Start(runCtx)

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start trade expiry sweeper
	go s.tradeTimer.Start(runCtx)

	// Export DB pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer, oracle)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.tradeTimer != nil {
		s.tradeTimer.Stop()
		s.logger.Info("expiry timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

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

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// rateLockerAdapter adapts rates.Service to trade.RateLocker
type rateLockerAdapter struct {
	svc *rates.Service
}

func (a *rateLockerAdapter) LockRate(ctx context.Context, asset, fiat, side string) (float64, bool, error) {
	q, err := a.svc.LockRate(ctx, asset, fiat, side)
	if err != nil {
		return 0, false, err
	}
	return q.Rate, q.StaleSource, nil
}

// adminPoolAdapter adapts admins.Service to trade.AdminPool
type adminPoolAdapter struct {
	svc *admins.Service
}

func (a *adminPoolAdapter) Assign(ctx context.Context, fiat string) (string, error) {
	p, err := a.svc.Assign(ctx, admins.RegionForFiat(fiat))
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (a *adminPoolAdapter) Release(ctx context.Context, adminID string) error {
	return a.svc.ReleaseLoad(ctx, adminID)
}

func (a *adminPoolAdapter) RecordRating(ctx context.Context, adminID string, score int) error {
	return a.svc.RecordRating(ctx, adminID, score)
}

func (a *adminPoolAdapter) RecordResponseTime(ctx context.Context, adminID string, d time.Duration) error {
	return a.svc.RecordResponseTime(ctx, adminID, d)
}

// systemChatAdapter adapts chat.Service to trade.SystemChat
type systemChatAdapter struct {
	svc *chat.Service
}

func (a *systemChatAdapter) PostSystem(ctx context.Context, tradeID, body string) error {
	_, err := a.svc.PostSystem(ctx, tradeID, body)
	return err
}

// hubBroadcaster adapts realtime.Hub to trade.Broadcaster
type hubBroadcaster struct {
	hub *realtime.Hub
}

func (b *hubBroadcaster) BroadcastTrade(t *trade.Trade) {
	if b.hub == nil {
		return
	}
	b.hub.BroadcastTradeUpdate(t.ID, string(t.Status), map[string]interface{}{
		"asset":        t.Asset,
		"fiatCurrency": t.FiatCurrency,
		"direction":    t.Direction,
		"adminId":      t.AdminID,
	})
}

// chatEventEmitter adapts realtime.Hub to chat.EventEmitter
type chatEventEmitter struct {
	hub *realtime.Hub
}

func (e *chatEventEmitter) MessageAppended(m *chat.Message) {
	if e.hub == nil {
		return
	}
	e.hub.BroadcastChatMessage(m.TradeID, map[string]interface{}{
		"messageId": m.ID,
		"senderId":  m.SenderID,
		"role":      m.Role,
		"type":      m.Type,
		"body":      m.Body,
		"createdAt": m.CreatedAt,
	})
}
