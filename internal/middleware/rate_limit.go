package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"golang.org/x/time/rate"
)

// ipRateLimiter hands out one token bucket per client ip.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[ip] = lim
	return lim
}

// RateLimit allows perMin requests per minute per client ip with the given burst.
func RateLimit(perMin, burst int) gin.HandlerFunc {
	if perMin <= 0 {
		perMin = 10
	}
	if burst <= 0 {
		burst = perMin
	}
	l := &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMin) / 60.0),
		burst:    burst,
	}
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "60")
			c.Header("X-RateLimit-Limit", strconv.Itoa(perMin))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.ErrorResponse{
				Error: model.ErrorDetail{Code: "RATE_LIMITED", Message: "too many requests"},
			})
			return
		}
		c.Next()
	}
}
