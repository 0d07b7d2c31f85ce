package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r http.Handler, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set(APIKeyHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestInternalAuthMiddleware(t *testing.T) {
	r := newRouter(InternalAuthMiddleware("secret"))

	assert.Equal(t, http.StatusOK, get(r, "secret"))
	assert.Equal(t, http.StatusUnauthorized, get(r, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, get(r, ""))
}

func TestInternalAuthMiddlewareMisconfigured(t *testing.T) {
	r := newRouter(InternalAuthMiddleware(""))
	assert.Equal(t, http.StatusInternalServerError, get(r, "anything"))
}

func TestServiceRateLimitMiddleware(t *testing.T) {
	r := newRouter(ServiceRateLimitMiddleware(1, 2))

	assert.Equal(t, http.StatusOK, get(r, ""))
	assert.Equal(t, http.StatusOK, get(r, ""))
	assert.Equal(t, http.StatusTooManyRequests, get(r, ""))
}

func TestRateLimitMiddlewarePerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newRouter(RateLimitMiddleware(ctx, RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1}))

	assert.Equal(t, http.StatusOK, get(r, ""))
	assert.Equal(t, http.StatusTooManyRequests, get(r, ""))
}

func TestCleanupOldLimiters(t *testing.T) {
	rl := NewIPRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.GetLimiter("10.0.0.1")
	now = now.Add(30 * time.Second)
	rl.GetLimiter("10.0.0.2")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, rl.CleanupOldLimiters())
	assert.Equal(t, 1, rl.Len())
}
