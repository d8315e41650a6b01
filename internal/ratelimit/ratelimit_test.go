package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hardonian/jobforge/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAllow_PermitsUpToLimitThenBlocks(t *testing.T) {
	l := ratelimit.New(2, time.Minute)

	allowed, _ := l.Allow("k1")
	require.True(t, allowed)

	allowed, _ = l.Allow("k1")
	require.True(t, allowed)

	allowed, retryAfter := l.Allow("k1")
	require.False(t, allowed)
	require.GreaterOrEqual(t, retryAfter, 0)
}

func TestAllow_SeparateKeysHaveIndependentBudgets(t *testing.T) {
	l := ratelimit.New(1, time.Minute)

	allowed, _ := l.Allow("a")
	require.True(t, allowed)

	allowed, _ = l.Allow("b")
	require.True(t, allowed)
}

func TestMiddleware_AbortsWithTooManyRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := ratelimit.New(1, time.Minute)

	r := gin.New()
	r.Use(l.Middleware("test", func(c *gin.Context) string { return "fixed-key" }))
	r.GET("/ping", func(c *gin.Context) { c.Status(200) })

	req1 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	require.Equal(t, 200, w1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	require.Equal(t, 429, w2.Code)
}
