package hub

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/metrics"
	"github.com/matheus3301/shopchat/internal/wire"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
	presenceKind = "presence"
	changesKind  = "changes"
)

// syncer is implemented by presence channels that report membership changes.
type syncer interface {
	Sync() <-chan []chat.UserID
}

// changesSocket streams a change feed: one ack frame, then change frames
// until either side goes away.
func (s *Server) changesSocket(c *gin.Context) {
	user := userOf(c)
	channel := c.Query("channel")

	feed, err := s.svc.Subscribe(c.Request.Context(), channel, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = feed.Close()
		return
	}

	log := s.logger.With(zap.String("socket", changesKind), zap.String("channel", channel),
		zap.String("user", string(user)), zap.String("request_id", c.GetString(ctxRequestID)))
	log.Debug("socket opened")
	metrics.IncWSActive(changesKind)
	s.sockets.Add(1)

	gone := make(chan struct{})
	go s.readUntilClosed(conn, gone, nil)

	go func() {
		defer s.sockets.Done()
		defer metrics.DecWSActive(changesKind)
		defer func() { _ = conn.Close() }()
		defer func() { _ = feed.Close() }()

		if err := s.write(conn, wire.Frame{Type: wire.FrameAck, Channel: channel}); err != nil {
			return
		}
		ping := time.NewTicker(s.opts.PingInterval)
		defer ping.Stop()

		for {
			select {
			case change, ok := <-feed.Changes():
				if !ok {
					reason := "feed closed"
					if err := feed.Err(); err != nil {
						reason = err.Error()
					}
					log.Info("feed ended", zap.String("reason", reason))
					_ = s.write(conn, wire.Frame{Type: wire.FrameError, Channel: channel, Error: reason})
					s.closeFrame(conn, websocket.CloseTryAgainLater, reason)
					return
				}
				if err := s.write(conn, wire.ChangeFrame(change)); err != nil {
					return
				}
			case <-ping.C:
				if err := s.ping(conn); err != nil {
					return
				}
			case <-gone:
				log.Debug("socket closed by peer")
				return
			case <-s.closing:
				s.closeFrame(conn, websocket.CloseGoingAway, "hub shutting down")
				return
			}
		}
	}()
}

// presenceSocket joins the caller to a presence room. Inbound typing frames
// are broadcast; other members' signals and membership changes are written back.
func (s *Server) presenceSocket(c *gin.Context) {
	user := userOf(c)
	channel := c.Query("channel")

	member, err := s.svc.JoinPresence(c.Request.Context(), channel, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = member.Close()
		return
	}

	metrics.IncWSActive(presenceKind)
	s.sockets.Add(1)

	var syncCh <-chan []chat.UserID
	if sy, ok := member.(syncer); ok {
		syncCh = sy.Sync()
	}

	ctx, cancel := context.WithCancel(context.Background())
	gone := make(chan struct{})
	go s.readUntilClosed(conn, gone, func(f wire.Frame) {
		if f.Type != wire.FrameTyping || f.Typing == nil {
			return
		}
		sig := *f.Typing
		sig.SenderID = user
		if err := member.Broadcast(ctx, sig); err != nil {
			s.logger.Debug("typing broadcast failed", zap.String("channel", channel), zap.Error(err))
		}
	})

	go func() {
		defer s.sockets.Done()
		defer metrics.DecWSActive(presenceKind)
		defer func() { _ = conn.Close() }()
		defer func() { _ = member.Close() }()
		defer cancel()

		if err := s.write(conn, wire.Frame{Type: wire.FrameAck, Channel: channel, Members: member.Members()}); err != nil {
			return
		}
		ping := time.NewTicker(s.opts.PingInterval)
		defer ping.Stop()

		signals := member.Signals()
		for {
			select {
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if err := s.write(conn, wire.Frame{Type: wire.FrameTyping, Channel: channel, Typing: &sig}); err != nil {
					return
				}
			case users := <-syncCh:
				if err := s.write(conn, wire.Frame{Type: wire.FramePresenceSync, Channel: channel, Members: users}); err != nil {
					return
				}
			case <-ping.C:
				if err := s.ping(conn); err != nil {
					return
				}
			case <-gone:
				return
			case <-s.closing:
				s.closeFrame(conn, websocket.CloseGoingAway, "hub shutting down")
				return
			}
		}
	}()
}

// readUntilClosed drains inbound frames and closes gone when the peer leaves.
func (s *Server) readUntilClosed(conn *websocket.Conn, gone chan<- struct{}, onFrame func(wire.Frame)) {
	defer close(gone)
	conn.SetReadLimit(maxFrameSize)
	deadline := 2 * s.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		var f wire.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("socket read ended", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		if onFrame != nil {
			onFrame(f)
		}
	}
}

func (s *Server) write(conn *websocket.Conn, f wire.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (s *Server) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *Server) closeFrame(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
