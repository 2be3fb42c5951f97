package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/shopchat/internal/hub"
	"go.uber.org/zap"
)

// Server manages the HTTP listener lifecycle for the hub.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the hub's listen address.
func NewServer(p Params, h *hub.Server, logger *zap.Logger) (*Server, error) {
	listener := p.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", p.Config.Server.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", p.Config.Server.Listen, err)
		}
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           h.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.listener.Addr().String()))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
