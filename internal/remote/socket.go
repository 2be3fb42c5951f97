package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/wire"
	"go.uber.org/zap"
)

const ackTimeout = 10 * time.Second

// Subscribe opens a change socket and returns once the hub acknowledged it.
func (c *Client) Subscribe(ctx context.Context, channel string, viewer chat.UserID) (chat.Feed, error) {
	if viewer != c.user {
		return nil, chat.ErrNotMember
	}
	conn, ack, err := c.dial(ctx, "/v1/ws/changes", channel)
	if err != nil {
		return nil, err
	}
	f := &feed{conn: conn, ch: make(chan chat.Change, 64), done: make(chan struct{}), channel: ack.Channel, logger: c.logger}
	go f.run()
	return f, nil
}

// JoinPresence opens a presence socket and returns once the hub acknowledged it.
func (c *Client) JoinPresence(ctx context.Context, channel string, self chat.UserID) (chat.PresenceChannel, error) {
	if self != c.user {
		return nil, chat.ErrNotMember
	}
	conn, ack, err := c.dial(ctx, "/v1/ws/presence", channel)
	if err != nil {
		return nil, err
	}
	p := &presence{conn: conn, channel: channel, ch: make(chan chat.TypingSignal, 16), members: ack.Members}
	go p.run()
	return p, nil
}

func (c *Client) dial(ctx context.Context, path, channel string) (*websocket.Conn, wire.Frame, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = url.Values{"channel": {channel}}.Encode()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set(wire.UserHeader, string(c.user))
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer func() { _ = resp.Body.Close() }()
			return nil, wire.Frame{}, decodeError(resp)
		}
		return nil, wire.Frame{}, fmt.Errorf("dial %s: %w", path, err)
	}

	deadline := time.Now().Add(ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	var ack wire.Frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, wire.Frame{}, fmt.Errorf("await ack on %s: %w", channel, err)
	}
	if ack.Type != wire.FrameAck {
		_ = conn.Close()
		return nil, wire.Frame{}, fmt.Errorf("expected ack on %s, got %q %s", channel, ack.Type, ack.Error)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, ack, nil
}

// feed is a change socket. It implements chat.Feed.
type feed struct {
	conn    *websocket.Conn
	ch      chan chat.Change
	done    chan struct{}
	channel string
	logger  *zap.Logger

	mu      sync.Mutex
	err     error
	closing bool
}

func (f *feed) Changes() <-chan chat.Change { return f.ch }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() error {
	f.mu.Lock()
	if f.closing {
		f.mu.Unlock()
		return nil
	}
	f.closing = true
	f.mu.Unlock()
	close(f.done)
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return f.conn.Close()
}

func (f *feed) run() {
	defer close(f.ch)
	var end error
	for {
		var fr wire.Frame
		if err := f.conn.ReadJSON(&fr); err != nil {
			if end == nil {
				end = err
			}
			break
		}
		if fr.Type == wire.FrameError {
			end = errors.New(fr.Error)
			continue
		}
		if c, ok := fr.Change(); ok {
			select {
			case f.ch <- c:
			case <-f.done:
			}
		}
	}

	f.mu.Lock()
	if !f.closing {
		f.err = fmt.Errorf("change feed %s dropped: %w", f.channel, end)
		f.logger.Warn("change feed dropped", zap.String("channel", f.channel), zap.Error(end))
	}
	f.mu.Unlock()
	_ = f.conn.Close()
}

// presence is a presence socket. It implements chat.PresenceChannel.
type presence struct {
	conn    *websocket.Conn
	channel string
	ch      chan chat.TypingSignal

	writeMu sync.Mutex
	mu      sync.Mutex
	members []chat.UserID
	once    sync.Once
}

func (p *presence) Broadcast(_ context.Context, sig chat.TypingSignal) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteJSON(wire.Frame{Type: wire.FrameTyping, Channel: p.channel, Typing: &sig})
}

func (p *presence) Signals() <-chan chat.TypingSignal { return p.ch }

func (p *presence) Members() []chat.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.members)
}

func (p *presence) Close() error {
	var err error
	p.once.Do(func() {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

func (p *presence) run() {
	defer close(p.ch)
	for {
		var fr wire.Frame
		if err := p.conn.ReadJSON(&fr); err != nil {
			return
		}
		switch fr.Type {
		case wire.FrameTyping:
			if fr.Typing != nil {
				select {
				case p.ch <- *fr.Typing:
				default:
				}
			}
		case wire.FramePresenceSync:
			p.mu.Lock()
			p.members = fr.Members
			p.mu.Unlock()
		}
	}
}
