// Package chattest provides doubles for the chat remote contract.
package chattest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Feed is a scripted chat.Feed.
type Feed struct {
	Channel string
	Viewer  chat.UserID

	ch     chan chat.Change
	mu     sync.Mutex
	err    error
	closed bool
}

// NewFeed returns an open feed.
func NewFeed(channel string, viewer chat.UserID) *Feed {
	return &Feed{Channel: channel, Viewer: viewer, ch: make(chan chat.Change, 64)}
}

func (f *Feed) Changes() <-chan chat.Change { return f.ch }

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Push delivers a change. It is a no-op after the feed ended.
func (f *Feed) Push(c chat.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.ch <- c
}

// Drop ends the feed with err, as a broken connection would.
func (f *Feed) Drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.err = err
	f.closed = true
	close(f.ch)
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

// Closed reports whether the feed ended.
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Feeds is a chat.ChangeFeed handing out scripted feeds.
type Feeds struct {
	mu     sync.Mutex
	opened []*Feed
	// FailNext makes the next Subscribe return this error.
	FailNext error
}

func (s *Feeds) Subscribe(_ context.Context, channel string, viewer chat.UserID) (chat.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return nil, err
	}
	f := NewFeed(channel, viewer)
	s.opened = append(s.opened, f)
	return f, nil
}

// Opened returns all feeds handed out so far.
func (s *Feeds) Opened() []*Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Feed(nil), s.opened...)
}

// Last returns the most recent feed, or nil.
func (s *Feeds) Last() *Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.opened) == 0 {
		return nil
	}
	return s.opened[len(s.opened)-1]
}

// ErrClosed is returned by Presence.Broadcast after Close.
var ErrClosed = errors.New("presence channel closed")

// Presence is a chat.PresenceChannel recording broadcasts.
type Presence struct {
	mu      sync.Mutex
	sent    []chat.TypingSignal
	ch      chan chat.TypingSignal
	members []chat.UserID
	closed  bool
}

// NewPresence returns an open presence double.
func NewPresence(members ...chat.UserID) *Presence {
	return &Presence{ch: make(chan chat.TypingSignal, 64), members: members}
}

func (p *Presence) Broadcast(_ context.Context, sig chat.TypingSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.sent = append(p.sent, sig)
	return nil
}

func (p *Presence) Signals() <-chan chat.TypingSignal { return p.ch }

func (p *Presence) Members() []chat.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.UserID(nil), p.members...)
}

func (p *Presence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// Deliver injects a signal as if another member broadcast it.
func (p *Presence) Deliver(sig chat.TypingSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.ch <- sig
	}
}

// Sent returns the recorded broadcasts.
func (p *Presence) Sent() []chat.TypingSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.TypingSignal(nil), p.sent...)
}
