// internal/api/middleware.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/ManimStudio/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware tags every request with an id, reusing the caller's if present
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// MetricsMiddleware records request counts and latency per route
func MetricsMiddleware(metrics *utils.RunMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// corsMiddleware allows the JSON API to be called from other origins
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimiter is a fixed-window limiter keyed by client
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.RWMutex
	now      func() time.Time
}

// Visitor holds the window state of one client
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*Visitor),
		now:      time.Now,
	}
}

// cleanup drops expired visitors once the table has grown
func (rl *RateLimiter) cleanup(now time.Time) {
	if len(rl.visitors) < 1024 {
		return
	}
	for key, visitor := range rl.visitors {
		if now.After(visitor.Reset) {
			delete(rl.visitors, key)
		}
	}
}

// Allow consumes one request for key and reports whether it fits in the window
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now)

	visitor, exists := rl.visitors[key]
	if !exists || now.After(visitor.Reset) {
		rl.visitors[key] = &Visitor{
			Limit:     limit,
			Remaining: limit - 1,
			Reset:     now.Add(window),
		}
		return true
	}

	if visitor.Remaining <= 0 {
		return false
	}
	visitor.Remaining--
	return true
}

// Headers returns limit, remaining and reset (unix seconds) for key
func (rl *RateLimiter) Headers(key string, limit int, window time.Duration) (int, int, int64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	visitor, exists := rl.visitors[key]
	if !exists {
		return limit, limit, rl.now().Add(window).Unix()
	}
	remaining := visitor.Remaining
	if remaining < 0 {
		remaining = 0
	}
	return limit, remaining, visitor.Reset.Unix()
}

// RateLimitMiddleware limits requests per key; limit <= 0 disables it.
// reject writes the refusal and defaults to the JSON error envelope.
func RateLimitMiddleware(rl *RateLimiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, reject func(*gin.Context)) gin.HandlerFunc {
	if reject == nil {
		reject = rejectJSON
	}

	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		key := keyFunc(c)
		allowed := rl.Allow(key, limit, window)

		l, remaining, reset := rl.Headers(key, limit, window)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", l))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if !allowed {
			reject(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

func rejectJSON(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, &APIResponse{
		Success:   false,
		Error:     &APIError{Code: ErrorRateLimited, Message: "rate limit exceeded"},
		Timestamp: time.Now(),
		RequestID: c.GetString(requestIDKey),
	})
}

// RenderRateLimit limits render submissions per client IP per hour
func RenderRateLimit(rl *RateLimiter, perHour int, reject func(*gin.Context)) gin.HandlerFunc {
	return RateLimitMiddleware(rl, perHour, time.Hour, func(c *gin.Context) string {
		return c.ClientIP()
	}, reject)
}
