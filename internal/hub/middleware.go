package hub

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/metrics"
	"github.com/matheus3301/shopchat/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ctxUser      = "user_id"
	ctxRequestID = "request_id"
)

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(wire.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(wire.RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("user", c.GetString(ctxUser)))
	}
}

// identity trusts the caller's X-User-ID header.
func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := chat.UserID(c.GetHeader(wire.UserHeader))
		if err := chat.ValidateUserID(user); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, wire.ErrorBody{Code: "unauthenticated", Error: err.Error()})
			return
		}
		c.Set(ctxUser, string(user))
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.GetString(ctxUser)) {
			metrics.IncRateLimited()
			s.fail(c, wire.ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(wire.AdminHeader)
		if s.opts.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, wire.ErrorBody{Code: "forbidden", Error: "admin token required"})
			return
		}
		c.Next()
	}
}

func userOf(c *gin.Context) chat.UserID {
	return chat.UserID(c.GetString(ctxUser))
}

// limiterPool keeps one token bucket per user.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &limiterPool{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
