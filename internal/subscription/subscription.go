// Package subscription owns the change-event stream of the open conversation.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"go.uber.org/zap"
)

// Handler applies demultiplexed change events. All calls come from a single
// consumer goroutine, in delivery order.
type Handler interface {
	Inserted(m chat.Message)
	Updated(m chat.Message)
	Deleted(m chat.Message)
}

// Subscription attaches one viewer to at most one pair channel at a time.
type Subscription struct {
	self    chat.UserID
	feeds   chat.ChangeFeed
	machine *Machine
	logger  *zap.Logger

	mu          sync.Mutex
	counterpart chat.UserID
	feed        chat.Feed
	done        chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// New creates an idle subscription for self.
func New(self chat.UserID, feeds chat.ChangeFeed, b *bus.Bus, logger *zap.Logger) *Subscription {
	return &Subscription{
		self:    self,
		feeds:   feeds,
		machine: NewMachine(b),
		logger:  logger,
	}
}

// Open tears down any current stream, then subscribes to the channel of
// (self, counterpart) and starts delivering its events to h. It returns once
// the remote acknowledged the subscription. On failure the subscription is
// left Degraded; reopening is up to the caller.
func (s *Subscription) Open(ctx context.Context, counterpart chat.UserID, h Handler) error {
	if counterpart == "" || counterpart == s.self {
		return chat.Wrap(chat.KindValidation, "subscribe", fmt.Errorf("invalid counterpart %q", counterpart))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	if err := s.machine.Transition(Subscribing); err != nil {
		return err
	}
	s.counterpart = counterpart
	s.setErr(nil)

	pair := chat.NewPair(s.self, counterpart)
	feed, err := s.feeds.Subscribe(ctx, pair.Channel(), s.self)
	if err != nil {
		s.setErr(err)
		_ = s.machine.Transition(Degraded)
		s.logger.Warn("subscribe failed", zap.String("channel", pair.Channel()), zap.Error(err))
		return chat.Wrap(chat.KindSubscription, "subscribe", err)
	}

	done := make(chan struct{})
	s.feed = feed
	s.done = done
	if err := s.machine.Transition(Active); err != nil {
		return err
	}
	s.logger.Info("subscribed", zap.String("channel", pair.Channel()))

	go s.consume(feed, pair, h, done)
	return nil
}

// Close unsubscribes synchronously. No handler call happens after it returns.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	return s.machine.Current()
}

// Counterpart returns the counterpart of the current or last stream.
func (s *Subscription) Counterpart() chat.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Err returns why the subscription is degraded, if it is.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Subscription) closeLocked() {
	if s.feed != nil {
		if err := s.feed.Close(); err != nil {
			s.logger.Warn("closing feed", zap.Error(err))
		}
		<-s.done
		s.feed = nil
		s.done = nil
	}
	if s.machine.Current() != Idle {
		_ = s.machine.Transition(Idle)
	}
}

func (s *Subscription) consume(feed chat.Feed, pair chat.Pair, h Handler, done chan struct{}) {
	defer close(done)
	for c := range feed.Changes() {
		if !pair.Has(c.Row.SenderID) || !pair.Has(c.Row.RecipientID) {
			s.logger.Warn("dropping event outside conversation",
				zap.String("channel", pair.Channel()), zap.String("msg_id", c.Row.ID))
			continue
		}
		switch c.Kind {
		case chat.RowInserted:
			h.Inserted(c.Row)
		case chat.RowUpdated:
			h.Updated(c.Row)
		case chat.RowDeleted:
			h.Deleted(c.Row)
		default:
			s.logger.Warn("unknown change kind", zap.String("kind", string(c.Kind)))
		}
	}

	if err := feed.Err(); err != nil {
		s.setErr(err)
		if s.machine.Transition(Degraded) == nil {
			s.logger.Warn("subscription dropped", zap.String("channel", pair.Channel()), zap.Error(err))
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}
