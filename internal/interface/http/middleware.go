package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
)

const (
	headerRequestID = "X-Request-ID"
	headerAPIKey    = "X-API-Key"

	ctxRequestID  = "request_id"
	ctxLogger     = "logger"
	ctxSubject    = "subject"
	ctxPrivileged = "privileged"
	ctxActor      = "actor"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID, LOGGING, RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)

		log := s.logger.WithRequestID(id)
		c.Set(ctxLogger, log)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), log))
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
		}
		if sub := c.GetString(ctxSubject); sub != "" {
			fields = append(fields, logger.UserID(sub))
		}

		log := s.requestLogger(c)
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.requestLogger(c).Error("panic recovered",
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
				)
				writeJSONError(c, http.StatusInternalServerError, APIError{
					Code:    "internal_error",
					Message: "an unexpected error occurred",
				})
			}
		}()
		c.Next()
	}
}

func (s *Server) requestLogger(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return s.logger
}

func requestID(c *gin.Context) string { return c.GetString(ctxRequestID) }

// ══════════════════════════════════════════════════════════════════════════════
// CORS
// ══════════════════════════════════════════════════════════════════════════════

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", headerAPIKey, headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING
// ══════════════════════════════════════════════════════════════════════════════

// ipRateLimiter keeps one token bucket per client IP. Buckets idle for
// five minutes are dropped by cleanupLoop.
type ipRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	every   time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	burst := perMinute / 2
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		idle:    5 * time.Minute,
		every:   time.Minute,
		now:     time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// cleanupLoop evicts idle buckets until ctx is done.
func (l *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup removes buckets not seen within the idle period.
func (l *ipRateLimiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *ipRateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			writeJSONError(c, http.StatusTooManyRequests, APIError{
				Code:    "rate_limit_exceeded",
				Message: "too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Claims are the bearer token claims issued by the identity provider. The
// subject is the user id.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token carries role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleReviewer grants access to the privileged routes.
const RoleReviewer = "reviewer"

type tokenVerifier struct {
	secret []byte
	issuer string
}

func (v tokenVerifier) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ServiceKey is a named API key stored as a bcrypt hash.
type ServiceKey struct {
	Name string
	Hash []byte
}

// ParseServiceKeys reads "name:bcrypt-hash" pairs.
func ParseServiceKeys(entries []string) ([]ServiceKey, error) {
	keys := make([]ServiceKey, 0, len(entries))
	for _, e := range entries {
		name, hash, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("service key %q: expected name:hash", e)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("service key %q: %w", name, err)
		}
		keys = append(keys, ServiceKey{Name: name, Hash: []byte(hash)})
	}
	return keys, nil
}

func (s *Server) matchServiceKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, k := range s.serviceKeys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(key)) == nil {
			return k.Name, true
		}
	}
	return "", false
}

// identityMiddleware authenticates the caller. A valid service key marks
// the request privileged. A bearer token sets the subject; reviewers are
// privileged too. Without credentials the request proceeds anonymously
// unless authentication is required.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name, ok := s.matchServiceKey(c.GetHeader(headerAPIKey)); ok {
			c.Set(ctxPrivileged, true)
			c.Set(ctxActor, "service:"+name)
			c.Next()
			return
		} else if c.GetHeader(headerAPIKey) != "" {
			s.respondError(c, shared.NewDomainError("http", "Authenticate", shared.ErrUnauthorized, "invalid api key"))
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			if s.config.RequireAuth {
				s.respondError(c, shared.NewDomainError("http", "Authenticate", shared.ErrUnauthorized, "authorization header missing"))
				return
			}
			c.Next()
			return
		}

		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" || len(s.verifier.secret) == 0 {
			s.respondError(c, shared.NewDomainError("http", "Authenticate", shared.ErrUnauthorized, "invalid authorization header"))
			return
		}
		claims, err := s.verifier.parse(strings.TrimSpace(raw))
		if err != nil {
			s.respondError(c, shared.NewDomainError("http", "Authenticate", shared.ErrUnauthorized, "invalid token"))
			return
		}

		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxActor, claims.Subject)
		if claims.HasRole(RoleReviewer) {
			c.Set(ctxPrivileged, true)
		}
		c.Next()
	}
}

// requirePrivileged guards reviewer and administration routes.
func (s *Server) requirePrivileged() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxPrivileged) {
			s.respondError(c, shared.NewDomainError("http", "Authorize", shared.ErrForbidden, "privileged route"))
			return
		}
		c.Next()
	}
}

// actingUser resolves which user a request acts for. An authenticated user
// may only act for themself; privileged callers may name anyone.
func actingUser(c *gin.Context, claimed string) (user.ID, error) {
	claimed = strings.TrimSpace(claimed)
	sub := c.GetString(ctxSubject)
	switch {
	case c.GetBool(ctxPrivileged):
		if claimed == "" {
			claimed = sub
		}
	case sub != "":
		if claimed != "" && claimed != sub {
			return "", shared.NewDomainError("http", "Authorize", shared.ErrForbidden, "cannot act for another user")
		}
		claimed = sub
	}
	id := user.ID(claimed)
	if !id.IsValid() {
		return "", shared.ErrInvalidUserID
	}
	return id, nil
}

func actor(c *gin.Context) string {
	if a := c.GetString(ctxActor); a != "" {
		return a
	}
	return "anonymous"
}
