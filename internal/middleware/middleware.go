// Package middleware provides Gin middleware functions for the prompt router API.
// It includes request IDs, request logging, rate limiting, admin authentication and panic recovery.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// RequestID returns a middleware that propagates an incoming X-Request-ID or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = xid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// LoggingMiddleware returns a Gin middleware handler that logs request and
// response metadata including method, path, status code, latency, and client IP.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}
		status := c.Writer.Status()

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error().Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("request")
	}
}

// Limiter is a shared fixed-window limiter, typically backed by Redis.
type Limiter interface {
	RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// localLimiters holds in-process token buckets keyed by client identity.
// A bucket idle for a full window has refilled, so it is dropped on the next
// sweep and recreated on demand.
type localLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLocalLimiters(maxRequests int64, window time.Duration) *localLimiters {
	return &localLimiters{
		limit:     rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:     int(maxRequests),
		idle:      window,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *localLimiters) allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) >= l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

func (l *localLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimitMiddleware returns a Gin middleware handler that enforces per-client
// rate limiting. It allows maxRequests within the specified window. When shared
// is nil or errors, an in-process token bucket per client is used instead.
// A non-positive maxRequests disables limiting.
func RateLimitMiddleware(shared Limiter, maxRequests int64, window time.Duration) gin.HandlerFunc {
	if maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	local := newLocalLimiters(maxRequests, window)

	return func(c *gin.Context) {
		id := clientKey(c)

		allowed := true
		checked := false
		if shared != nil {
			ok, err := shared.RateLimitCheck(c.Request.Context(), id, maxRequests, window)
			if err != nil {
				log.Warn().Err(err).Msg("middleware: shared rate limit check failed, using local limiter")
			} else {
				allowed, checked = ok, true
			}
		}
		if !checked {
			allowed = local.allow(id)
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

// clientKey identifies the caller by X-User-ID, falling back to the client IP.
func clientKey(c *gin.Context) string {
	key := c.GetHeader("X-User-ID")
	if key == "" {
		key = c.ClientIP()
	}
	if len(key) > 32 {
		key = key[:32]
	}
	return key
}

// AdminAuth returns a middleware that validates the X-Admin-Key header (or a
// Bearer token). With no key configured all admin requests are refused.
func AdminAuth(expectedKey string) gin.HandlerFunc {
	if expectedKey == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled: PROMPTROUTER_ADMIN_API_KEY not configured"})
		}
	}
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(expectedKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: invalid or missing admin API key"})
			return
		}
		c.Next()
	}
}

// RecoveryMiddleware returns a Gin middleware that recovers from panics
// and returns a 500 error instead of crashing the server.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("panic", err).
					Str("request_id", c.GetString(RequestIDKey)).
					Str("path", c.Request.URL.Path).
					Msg("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
			}
		}()
		c.Next()
	}
}
