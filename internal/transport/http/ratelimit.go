package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// loginLimiter throttles login attempts per client IP.
type loginLimiter struct {
	perMinute int
	burst     int
	clients   *xsync.MapOf[string, *rate.Limiter]
}

func newLoginLimiter(perMinute, burst int) *loginLimiter {
	return &loginLimiter{
		perMinute: perMinute,
		burst:     burst,
		clients:   xsync.NewMapOf[string, *rate.Limiter](),
	}
}

func (l *loginLimiter) allow(ip string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	lim, _ := l.clients.LoadOrCompute(ip, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.burst)
	})
	return lim.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *loginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many attempts"})
			return
		}
		c.Next()
	}
}
