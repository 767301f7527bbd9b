package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"aggregator/internal/config"
)

func TestPerClientMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewPerClient(RateLimitConfig{RPS: 1, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute})

	r := gin.New()
	r.Use(limiter.Middleware())
	r.POST("/publish", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/publish", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/publish", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code, "limits are per client")
}

func TestEvictIdle(t *testing.T) {
	p := NewPerClient(RateLimitConfig{RPS: 1, Burst: 1, CleanupInterval: time.Minute, MaxAge: time.Minute})
	p.get("a")

	p.evictIdle(time.Now())
	assert.Len(t, p.limiters, 1)

	p.evictIdle(time.Now().Add(2 * time.Minute))
	assert.Len(t, p.limiters, 0)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{RPS: 5})
	assert.Equal(t, 5.0, cfg.RPS)
	assert.Equal(t, DefaultConfig().Burst, cfg.Burst)
}
