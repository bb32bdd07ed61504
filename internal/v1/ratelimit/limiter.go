// Package ratelimit implements connect-time rate limiting for the broker
// socket using an in-process memory store. Broker state is single-process
// by design, so there is no distributed store to share counters with.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/airjam/broker/internal/v1/config"
	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// RateLimiter guards the WebSocket upgrade endpoint.
type RateLimiter struct {
	wsIP *limiter.Limiter
}

// NewRateLimiter creates a RateLimiter from the configured rates.
func NewRateLimiter(cfg *config.Config) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()

	return &RateLimiter{
		wsIP: limiter.New(store, wsIPRate),
	}, nil
}

// CheckWebSocket checks whether a WebSocket connect from this IP should be
// allowed. Returns true if allowed; on rejection the response has already
// been written. Store errors fail open.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ipContext, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
