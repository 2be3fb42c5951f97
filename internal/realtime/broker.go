// Package realtime fans row changes and typing signals out to channel members.
package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/metrics"
	"go.uber.org/zap"
)

// ErrSlowConsumer ends a feed whose buffer filled up. Its subscriber must
// resubscribe and reload rather than silently miss changes.
var ErrSlowConsumer = errors.New("subscriber fell behind")

// Envelope is what travels between broker instances.
type Envelope struct {
	Origin  string             `json:"origin"`
	Channel string             `json:"channel"`
	Change  *chat.Change       `json:"change,omitempty"`
	Typing  *chat.TypingSignal `json:"typing,omitempty"`
}

// Relay forwards locally published events to other broker instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-feed buffer size.
func WithBuffer(n int) Option {
	return func(b *Broker) { b.bufSize = n }
}

// Broker keeps change rooms and presence rooms keyed by channel name.
type Broker struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Feed]struct{}
	presence map[string]map[*Member]struct{}
	relay    Relay
	bufSize  int
	logger   *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger, opts ...Option) *Broker {
	b := &Broker{
		rooms:    make(map[string]map[*Feed]struct{}),
		presence: make(map[string]map[*Member]struct{}),
		bufSize:  256,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetRelay installs the cross-instance relay.
func (b *Broker) SetRelay(r Relay) {
	b.mu.Lock()
	b.relay = r
	b.mu.Unlock()
}

// Subscribe adds a feed to channel's room.
func (b *Broker) Subscribe(channel string, viewer chat.UserID) *Feed {
	f := &Feed{
		broker:  b,
		channel: channel,
		viewer:  viewer,
		ch:      make(chan chat.Change, b.bufSize),
	}
	b.mu.Lock()
	room, ok := b.rooms[channel]
	if !ok {
		room = make(map[*Feed]struct{})
		b.rooms[channel] = room
	}
	room[f] = struct{}{}
	b.mu.Unlock()
	return f
}

// Publish delivers c to channel's local room and relays it.
func (b *Broker) Publish(channel string, c chat.Change) {
	b.deliverChange(channel, c)
	metrics.IncChangePublished(string(c.Kind))
	b.forward(Envelope{Channel: channel, Change: &c})
}

// DeliverRemote hands an event relayed from another instance to local members only.
func (b *Broker) DeliverRemote(env Envelope) {
	switch {
	case env.Change != nil:
		b.deliverChange(env.Channel, *env.Change)
	case env.Typing != nil:
		b.deliverTyping(env.Channel, nil, *env.Typing)
	}
}

func (b *Broker) deliverChange(channel string, c chat.Change) {
	var slow []*Feed
	b.mu.RLock()
	for f := range b.rooms[channel] {
		select {
		case f.ch <- c:
		default:
			slow = append(slow, f)
		}
	}
	b.mu.RUnlock()

	for _, f := range slow {
		b.logger.Warn("disconnecting slow subscriber",
			zap.String("channel", channel), zap.String("viewer", string(f.viewer)))
		metrics.IncSlowSubscriber()
		f.end(ErrSlowConsumer)
	}
}

// Join adds self to channel's presence room.
func (b *Broker) Join(channel string, self chat.UserID) *Member {
	m := &Member{
		broker:  b,
		channel: channel,
		user:    self,
		ch:      make(chan chat.TypingSignal, 16),
		sync:    make(chan []chat.UserID, 1),
	}
	b.mu.Lock()
	room, ok := b.presence[channel]
	if !ok {
		room = make(map[*Member]struct{})
		b.presence[channel] = room
	}
	room[m] = struct{}{}
	b.mu.Unlock()
	b.syncPresence(channel)
	return m
}

func (b *Broker) deliverTyping(channel string, from *Member, sig chat.TypingSignal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for m := range b.presence[channel] {
		if m == from || m.user == sig.SenderID {
			continue
		}
		select {
		case m.ch <- sig:
		default:
		}
	}
}

// Members lists the distinct users in channel's presence room.
func (b *Broker) Members(channel string) []chat.UserID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.membersLocked(channel)
}

func (b *Broker) membersLocked(channel string) []chat.UserID {
	var users []chat.UserID
	for m := range b.presence[channel] {
		if !slices.Contains(users, m.user) {
			users = append(users, m.user)
		}
	}
	slices.Sort(users)
	return users
}

func (b *Broker) syncPresence(channel string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	users := b.membersLocked(channel)
	for m := range b.presence[channel] {
		m.pushSync(users)
	}
}

// Stats returns the number of open feeds and presence members.
func (b *Broker) Stats() (feeds, members int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, room := range b.rooms {
		feeds += len(room)
	}
	for _, room := range b.presence {
		members += len(room)
	}
	return feeds, members
}

func (b *Broker) forward(env Envelope) {
	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Publish(ctx, env); err != nil {
		metrics.IncRelayError()
		b.logger.Warn("relay publish failed", zap.String("channel", env.Channel), zap.Error(err))
	}
}

func (b *Broker) removeFeed(f *Feed) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.rooms[f.channel]
	if _, ok := room[f]; !ok {
		return false
	}
	delete(room, f)
	if len(room) == 0 {
		delete(b.rooms, f.channel)
	}
	return true
}

func (b *Broker) removeMember(m *Member) bool {
	b.mu.Lock()
	room := b.presence[m.channel]
	_, ok := room[m]
	if ok {
		delete(room, m)
		if len(room) == 0 {
			delete(b.presence, m.channel)
		}
	}
	b.mu.Unlock()
	if ok {
		b.syncPresence(m.channel)
	}
	return ok
}
