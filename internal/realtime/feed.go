package realtime

import (
	"context"
	"sync"

	"github.com/matheus3301/shopchat/internal/chat"
)

// Feed is a broker subscription. It implements chat.Feed.
type Feed struct {
	broker  *Broker
	channel string
	viewer  chat.UserID
	ch      chan chat.Change

	mu  sync.Mutex
	err error
}

func (f *Feed) Changes() <-chan chat.Change { return f.ch }

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed) Close() error {
	f.end(nil)
	return nil
}

// Channel returns the subscribed channel name.
func (f *Feed) Channel() string { return f.channel }

func (f *Feed) end(err error) {
	if !f.broker.removeFeed(f) {
		return
	}
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.ch)
}

// Member is a presence room membership. It implements chat.PresenceChannel.
type Member struct {
	broker  *Broker
	channel string
	user    chat.UserID
	ch      chan chat.TypingSignal
	sync    chan []chat.UserID
	once    sync.Once
}

// Broadcast sends sig to the other members. The sender is always the member's user.
func (m *Member) Broadcast(_ context.Context, sig chat.TypingSignal) error {
	sig.SenderID = m.user
	m.broker.deliverTyping(m.channel, m, sig)
	m.broker.forward(Envelope{Channel: m.channel, Typing: &sig})
	return nil
}

func (m *Member) Signals() <-chan chat.TypingSignal { return m.ch }

func (m *Member) Members() []chat.UserID {
	return m.broker.Members(m.channel)
}

// Sync delivers the latest member list whenever someone joins or leaves.
func (m *Member) Sync() <-chan []chat.UserID { return m.sync }

func (m *Member) Close() error {
	m.once.Do(func() {
		if m.broker.removeMember(m) {
			close(m.ch)
		}
	})
	return nil
}

// pushSync keeps only the most recent member list. Callers hold the broker's read lock.
func (m *Member) pushSync(users []chat.UserID) {
	select {
	case <-m.sync:
	default:
	}
	select {
	case m.sync <- users:
	default:
	}
}
