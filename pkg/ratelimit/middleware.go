package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"aggregator/internal/config"
	"aggregator/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             100.0,
		Burst:           200,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// FromConfig overlays the non-zero values of cfg on the defaults.
func FromConfig(cfg config.RateLimitConfig) RateLimitConfig {
	out := DefaultConfig()
	if cfg.RPS > 0 {
		out.RPS = cfg.RPS
	}
	if cfg.Burst > 0 {
		out.Burst = cfg.Burst
	}
	if cfg.CleanupInterval > 0 {
		out.CleanupInterval = cfg.CleanupInterval
	}
	if cfg.MaxAge > 0 {
		out.MaxAge = cfg.MaxAge
	}
	return out
}

// PerClient keeps one token bucket per client IP.
type PerClient struct {
	config   RateLimitConfig
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func NewPerClient(cfg RateLimitConfig) *PerClient {
	return &PerClient{
		config:   cfg,
		limiters: make(map[string]*Limiter),
	}
}

// RunCleanup evicts idle clients until ctx is done.
func (p *PerClient) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictIdle(time.Now())
		}
	}
}

func (p *PerClient) evictIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ip, limiter := range p.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > p.config.MaxAge {
			delete(p.limiters, ip)
		}
	}
}

func (p *PerClient) get(clientIP string) *Limiter {
	p.mu.RLock()
	limiter, exists := p.limiters[clientIP]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		limiter, exists = p.limiters[clientIP]
		if !exists {
			limiter = &Limiter{
				limiter:  rate.NewLimiter(rate.Limit(p.config.RPS), p.config.Burst),
				lastSeen: time.Now(),
			}
			p.limiters[clientIP] = limiter
		}
		p.mu.Unlock()
	}

	limiter.mu.Lock()
	limiter.lastSeen = time.Now()
	limiter.mu.Unlock()

	return limiter
}

func (p *PerClient) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := p.get(clientIP)

		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Limit", formatRate(p.config.RPS))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		c.Header("X-RateLimit-Limit", formatRate(p.config.RPS))
		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
