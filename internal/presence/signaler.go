// Package presence carries typing indicators over a pair's presence channel.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is the minimum spacing between two typing broadcasts.
	DefaultInterval = time.Second
	// DefaultExpiry clears a remote typing flag that was not renewed.
	DefaultExpiry = 3 * time.Second
)

// TypingChanged is the payload of "presence.typing" bus events.
type TypingChanged struct {
	UserID chat.UserID
	Typing bool
}

// Option configures a Signaler.
type Option func(*Signaler)

// WithInterval overrides the broadcast debounce interval.
func WithInterval(d time.Duration) Option {
	return func(s *Signaler) { s.interval = d }
}

// WithExpiry overrides how long a received typing signal stays visible.
func WithExpiry(d time.Duration) Option {
	return func(s *Signaler) { s.expiry = d }
}

// WithClock sets the time source for the debounce limiter.
func WithClock(now func() time.Time) Option {
	return func(s *Signaler) { s.now = now }
}

// WithBus publishes typing flag changes on b.
func WithBus(b *bus.Bus) Option {
	return func(s *Signaler) { s.bus = b }
}

// Signaler publishes the local user's typing signal and tracks whether the
// counterpart is typing.
type Signaler struct {
	self        chat.UserID
	counterpart chat.UserID
	channel     chat.PresenceChannel
	interval    time.Duration
	expiry      time.Duration
	now         func() time.Time
	bus         *bus.Bus
	logger      *zap.Logger
	limiter     *rate.Limiter

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	gen    uint64
	done   chan struct{}
}

// New creates a signaler on a joined presence channel.
func New(ch chat.PresenceChannel, self, counterpart chat.UserID, logger *zap.Logger, opts ...Option) *Signaler {
	s := &Signaler{
		self:        self,
		counterpart: counterpart,
		channel:     ch,
		interval:    DefaultInterval,
		expiry:      DefaultExpiry,
		now:         time.Now,
		logger:      logger,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	return s
}

// Start begins consuming signals from the channel.
func (s *Signaler) Start() {
	go s.consume()
}

// StartTyping broadcasts a typing signal unless one was sent within the
// debounce interval. It reports whether a broadcast happened.
func (s *Signaler) StartTyping(ctx context.Context) (bool, error) {
	if !s.limiter.AllowN(s.now(), 1) {
		return false, nil
	}
	err := s.channel.Broadcast(ctx, chat.TypingSignal{
		SenderID:    s.self,
		RecipientID: s.counterpart,
		Typing:      true,
	})
	if err != nil {
		return false, chat.Wrap(chat.KindTransport, "typing", err)
	}
	return true, nil
}

// CounterpartIsTyping reports the current remote typing flag.
func (s *Signaler) CounterpartIsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Members returns who is attending the conversation.
func (s *Signaler) Members() []chat.UserID {
	return s.channel.Members()
}

// Close leaves the presence channel and waits for the consumer to exit.
func (s *Signaler) Close() error {
	err := s.channel.Close()
	<-s.done
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.mu.Unlock()
	return err
}

func (s *Signaler) consume() {
	defer close(s.done)
	for sig := range s.channel.Signals() {
		if sig.SenderID != s.counterpart {
			continue
		}
		s.receive(sig.Typing)
	}
}

func (s *Signaler) receive(typing bool) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	if typing {
		gen := s.gen
		s.timer = time.AfterFunc(s.expiry, func() { s.expire(gen) })
	}
	changed := s.typing != typing
	s.typing = typing
	s.mu.Unlock()

	if changed {
		s.publish(typing)
	}
}

func (s *Signaler) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.mu.Unlock()
	s.publish(false)
}

func (s *Signaler) publish(typing bool) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindTyping,
		Timestamp: time.Now(),
		Payload:   TypingChanged{UserID: s.counterpart, Typing: typing},
	})
}
