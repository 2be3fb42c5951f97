// Package remote implements chat.Backend against a running hub.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/wire"
	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithDisplayName is sent with every heartbeat.
func WithDisplayName(name string) Option {
	return func(c *Client) { c.displayName = name }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to the hub as a single user.
type Client struct {
	base        *url.URL
	user        chat.UserID
	displayName string
	http        *http.Client
	dialer      *websocket.Dialer
	logger      *zap.Logger
}

var _ chat.Backend = (*Client)(nil)

func New(baseURL string, user chat.UserID, opts ...Option) (*Client, error) {
	if err := chat.ValidateUserID(user); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("hub url %q must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		user:   user,
		http:   &http.Client{Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// User returns the identity the client acts as.
func (c *Client) User() chat.UserID { return c.user }

func (c *Client) CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	var out chat.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages", nil, m, &out)
	return out, err
}

func (c *Client) UpdateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	var out chat.Message
	req := wire.UpdateRequest{Body: m.Body, Deleted: m.IsDeleted}
	err := c.do(ctx, http.MethodPut, "/v1/messages/"+url.PathEscape(m.ID), nil, req, &out)
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, reader chat.UserID, ids []string, at time.Time) error {
	if reader != c.user {
		return chat.ErrNotMember
	}
	return c.do(ctx, http.MethodPost, "/v1/messages/read", nil, wire.ReadRequest{IDs: ids, At: at}, nil)
}

func (c *Client) ListConversation(ctx context.Context, p chat.Pair, limit int) ([]chat.Message, error) {
	if !p.Has(c.user) {
		return nil, chat.ErrNotMember
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []chat.Message
	err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(string(p.Other(c.user)))+"/messages", q, nil, &out)
	return out, err
}

func (c *Client) UnreadCounts(ctx context.Context, reader chat.UserID) (map[chat.UserID]int, error) {
	if reader != c.user {
		return nil, chat.ErrNotMember
	}
	out := map[chat.UserID]int{}
	err := c.do(ctx, http.MethodGet, "/v1/unread", nil, nil, &out)
	return out, err
}

func (c *Client) ListProfiles(ctx context.Context) ([]chat.Profile, error) {
	var out []chat.Profile
	err := c.do(ctx, http.MethodGet, "/v1/profiles", nil, nil, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, self chat.UserID, at time.Time) error {
	if self != c.user {
		return chat.ErrNotMember
	}
	req := wire.HeartbeatRequest{At: at, DisplayName: c.displayName}
	return c.do(ctx, http.MethodPost, "/v1/profiles/heartbeat", nil, req, nil)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return err
	}
	req.Header.Set(wire.UserHeader, string(c.user))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body wire.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil {
		body.Error = strings.TrimSpace(string(data))
	}
	return wire.Decode(resp.StatusCode, body)
}
