// Package http exposes the progression engine over a JSON REST API built
// on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beltline/progression-engine/internal/application/command"
	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/interface/http/handlers"
	"github.com/beltline/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int

	// AllowedOrigins for CORS; "*" or empty allows any origin.
	AllowedOrigins []string

	// RateLimitPerMinute per client IP (0 = disabled).
	RateLimitPerMinute int

	TrustedProxies []string

	// JWTSecret verifies HS256 bearer tokens. Empty disables bearer auth.
	JWTSecret string
	JWTIssuer string

	// RequireAuth rejects anonymous requests on /api routes.
	RequireAuth bool

	// ServiceKeys are "name:bcrypt-hash" entries for privileged callers.
	ServiceKeys []string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxHeaderBytes:     1 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
	}
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains the application handlers served over HTTP.
type Dependencies struct {
	// Commands
	RecordCheckin      *command.RecordCheckinHandler
	SubmitEvidence     *command.SubmitEvidenceHandler
	ReviewProgress     *command.ReviewProgressHandler
	RegisterExam       *command.RegisterExamHandler
	CancelRegistration *command.CancelRegistrationHandler
	RecordOutcome      *command.RecordOutcomeHandler
	SessionAdmin       *command.SessionAdminHandler

	// Queries
	GetEligibility *query.GetEligibilityHandler
	GetUser        *query.GetUserHandler
	GetScore       *query.GetScoreHandler
	ListCheckins   *query.ListCheckinsHandler
	GetLeaderboard *query.GetLeaderboardHandler
	Sessions       *query.SessionsHandler

	Health *handlers.Health
	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP server.
type Server struct {
	config      Config
	deps        Dependencies
	engine      *gin.Engine
	httpServer  *http.Server
	logger      *logger.Logger
	verifier    tokenVerifier
	serviceKeys []ServiceKey
	limiter     *ipRateLimiter

	mu      sync.Mutex
	running bool
}

// NewServer builds the router. It fails on malformed service keys.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	keys, err := ParseServiceKeys(config.ServiceKeys)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealth("")
	}

	s := &Server{
		config:      config,
		deps:        deps,
		logger:      deps.Logger.Named("http"),
		verifier:    tokenVerifier{secret: []byte(config.JWTSecret), issuer: config.JWTIssuer},
		serviceKeys: keys,
	}

	s.engine = gin.New()
	if err := s.engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.engine
	r.Use(s.requestIDMiddleware(), s.recoveryMiddleware(), s.loggingMiddleware(), corsMiddleware(s.config.AllowedOrigins))
	if s.config.RateLimitPerMinute > 0 {
		s.limiter = newIPRateLimiter(s.config.RateLimitPerMinute)
		r.Use(s.limiter.middleware())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/health", s.deps.Health.Health)
	r.GET("/ready", s.deps.Health.Ready)
	r.GET("/live", s.deps.Health.Live)

	api := r.Group("/api/v1", s.identityMiddleware())
	admin := api.Group("", s.requirePrivileged())

	// ─────────────────────────────────────────────────────────────────────────
	// Check-ins and progress
	// ─────────────────────────────────────────────────────────────────────────
	api.POST("/checkins", s.handleRecordCheckin)
	api.POST("/progress/:id/evidence", s.handleSubmitEvidence)
	admin.POST("/progress/:id/review", s.handleReviewProgress)

	// ─────────────────────────────────────────────────────────────────────────
	// Eligibility and exams
	// ─────────────────────────────────────────────────────────────────────────
	api.GET("/eligibility", s.handleGetEligibility)
	api.GET("/exams", s.handleListSessions)
	api.GET("/exams/:id", s.handleGetSession)
	api.POST("/exams/:id/register", s.handleRegisterExam)
	api.DELETE("/exams/:id/register/:userId", s.handleCancelRegistration)
	admin.POST("/exams", s.handleScheduleSession)
	admin.POST("/exams/:id/outcome", s.handleRecordOutcome)
	admin.POST("/exams/:id/complete", s.handleCompleteSession)
	admin.POST("/exams/:id/cancel", s.handleCancelSession)

	// ─────────────────────────────────────────────────────────────────────────
	// Users
	// ─────────────────────────────────────────────────────────────────────────
	api.GET("/users/:id", s.handleGetUser)
	api.GET("/users/:id/score", s.handleGetScore)
	api.GET("/users/:id/checkins", s.handleListCheckins)
	api.GET("/leaderboard", s.handleGetLeaderboard)

	r.NoRoute(func(c *gin.Context) {
		writeJSONError(c, http.StatusNotFound, APIError{Code: "not_found", Message: "route not found"})
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.limiter != nil {
		go s.limiter.cleanupLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
