// Package hub serves the chat backend over HTTP and websockets.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Service is the backend the hub exposes.
type Service interface {
	chat.Backend
	DeleteMessage(ctx context.Context, id string) (chat.Message, error)
	SetDisplayName(ctx context.Context, user chat.UserID, name string) error
}

// StatsFunc reports open feeds and presence members for /healthz.
type StatsFunc func() (feeds, members int)

// Options tunes the hub.
type Options struct {
	AdminToken   string
	RateLimit    float64
	RateBurst    int
	PingInterval time.Duration
	ServiceName  string
	Stats        StatsFunc
}

// Server routes requests to the Service.
type Server struct {
	engine   *gin.Engine
	svc      Service
	opts     Options
	limiter  *limiterPool
	upgrader websocket.Upgrader
	logger   *zap.Logger

	closing   chan struct{}
	closeOnce sync.Once
	sockets   sync.WaitGroup
}

func New(svc Service, opts Options, logger *zap.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "chathub"
	}
	s := &Server{
		svc:     svc,
		opts:    opts,
		limiter: newLimiterPool(opts.RateLimit, opts.RateBurst),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		closing: make(chan struct{}),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog(), metrics.HTTPMiddleware(), otelgin.Middleware(s.opts.ServiceName))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", s.identity())
	ws := v1.Group("/ws")
	ws.GET("/changes", s.changesSocket)
	ws.GET("/presence", s.presenceSocket)

	api := v1.Group("", s.rateLimit())
	api.GET("/profiles", s.listProfiles)
	api.POST("/profiles/heartbeat", s.heartbeat)
	api.GET("/conversations/:counterpart/messages", s.listConversation)
	api.GET("/unread", s.unreadCounts)
	api.POST("/messages", s.createMessage)
	api.PUT("/messages/:id", s.updateMessage)
	api.POST("/messages/read", s.markRead)

	admin := r.Group("/v1/admin", s.adminOnly())
	admin.DELETE("/messages/:id", s.deleteMessage)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Close ends every open socket and waits for their goroutines.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.sockets.Wait()
}

func (s *Server) healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.opts.Stats != nil {
		feeds, members := s.opts.Stats()
		resp["feeds"] = feeds
		resp["presence_members"] = members
	}
	c.JSON(http.StatusOK, resp)
}
