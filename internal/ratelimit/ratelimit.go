// Package ratelimit implements an in-process, fixed-window request
// limiter for the HTTP ingress layer. The store is the only shared
// mutable resource in this system; rate-limit counters are local to each
// cmd/api process rather than a second shared service, so a multi-replica
// deployment enforces the configured budget per replica.
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter enforces a fixed request budget per key within a fixed window
// that starts at the key's first request, tracked in an in-process map.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientBucket
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientBucket),
	}
}

// Allow increments key's counter for the current window and reports
// whether the request should proceed, along with the seconds remaining in
// the window for a Retry-After header when it should not.
func (l *Limiter) Allow(key string) (allowed bool, retryAfterSeconds int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[key]
	if !ok || now.After(b.windowEnd) {
		l.clients[key] = &clientBucket{count: 1, windowEnd: now.Add(l.window)}
		return true, 0
	}

	if b.count >= l.limit {
		retryAfter := int(time.Until(b.windowEnd).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	b.count++
	return true, 0
}

// KeyFunc derives the rate-limit bucket key from a request; callers key by
// tenant id for authenticated producer routes and by client IP for
// unauthenticated ones.
type KeyFunc func(c *gin.Context) string

// KeyByTenant keys by a "tenant_id" string value on the gin context when
// one is set and falls back to client IP when absent, so a single rogue
// tenant can't starve the budget for everyone behind the same proxy. No
// middleware in this module sets that value.
func KeyByTenant(c *gin.Context) string {
	if v, ok := c.Get("tenant_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return "tenant:" + s
		}
	}
	return "ip:" + c.ClientIP()
}

// Middleware aborts the request with 429 once key's budget is exhausted
// for the current window.
func (l *Limiter) Middleware(namespace string, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := namespace + ":" + keyFn(c)

		allowed, retryAfter := l.Allow(key)
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many requests. Please try again shortly.",
				},
			})
			return
		}

		c.Next()
	}
}
