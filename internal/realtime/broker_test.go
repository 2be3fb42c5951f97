package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func change(id string) chat.Change {
	return chat.Change{Kind: chat.RowInserted, Row: chat.Message{ID: id, SenderID: "alice", RecipientID: "bob"}}
}

func recv(t *testing.T, f *Feed) chat.Change {
	t.Helper()
	select {
	case c, ok := <-f.Changes():
		require.True(t, ok, "feed closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}
	return chat.Change{}
}

func TestPublishFansOutPerChannel(t *testing.T) {
	b := NewBroker(zap.NewNop())
	alice := b.Subscribe("dm:alice:bob", "alice")
	bob := b.Subscribe("dm:alice:bob", "bob")
	other := b.Subscribe("dm:bob:carol", "bob")

	b.Publish("dm:alice:bob", change("m1"))

	assert.Equal(t, "m1", recv(t, alice).Row.ID)
	assert.Equal(t, "m1", recv(t, bob).Row.ID)
	select {
	case c := <-other.Changes():
		t.Fatalf("leaked change %v", c)
	default:
	}
}

func TestCloseEndsFeedCleanly(t *testing.T) {
	b := NewBroker(zap.NewNop())
	f := b.Subscribe("dm:alice:bob", "alice")
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, ok := <-f.Changes()
	assert.False(t, ok)
	assert.NoError(t, f.Err())

	feeds, _ := b.Stats()
	assert.Zero(t, feeds)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	b := NewBroker(zap.NewNop(), WithBuffer(2))
	f := b.Subscribe("dm:alice:bob", "alice")

	for i := 0; i < 3; i++ {
		b.Publish("dm:alice:bob", change("m"))
	}

	n := 0
	for range f.Changes() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, f.Err(), ErrSlowConsumer)
}

func TestPresenceExcludesSenderAndSyncsMembers(t *testing.T) {
	b := NewBroker(zap.NewNop())
	alice := b.Join("typing:alice:bob", "alice")
	bob := b.Join("typing:alice:bob", "bob")

	assert.Equal(t, []chat.UserID{"alice", "bob"}, alice.Members())
	select {
	case users := <-alice.Sync():
		assert.Equal(t, []chat.UserID{"alice", "bob"}, users)
	case <-time.After(time.Second):
		t.Fatal("no presence sync")
	}

	require.NoError(t, alice.Broadcast(context.Background(), chat.TypingSignal{SenderID: "mallory", Typing: true}))

	select {
	case sig := <-bob.Signals():
		assert.Equal(t, chat.UserID("alice"), sig.SenderID, "sender is taken from the membership")
	case <-time.After(time.Second):
		t.Fatal("bob did not receive typing")
	}
	select {
	case sig := <-alice.Signals():
		t.Fatalf("sender received own signal %v", sig)
	default:
	}

	require.NoError(t, bob.Close())
	assert.Equal(t, []chat.UserID{"alice"}, alice.Members())
	_, ok := <-bob.Signals()
	assert.False(t, ok)
}

type captureRelay struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *captureRelay) Publish(_ context.Context, env Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func TestRelayForwardsAndRemoteDeliveryStaysLocal(t *testing.T) {
	relay := &captureRelay{}
	b := NewBroker(zap.NewNop())
	b.SetRelay(relay)
	f := b.Subscribe("dm:alice:bob", "bob")

	b.Publish("dm:alice:bob", change("local"))
	recv(t, f)

	c := change("remote")
	b.DeliverRemote(Envelope{Origin: "other", Channel: "dm:alice:bob", Change: &c})
	assert.Equal(t, "remote", recv(t, f).Row.ID)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.envs, 1)
	assert.Equal(t, "local", relay.envs[0].Change.Row.ID)
}

func TestRedisRelayIgnoresOwnOrigin(t *testing.T) {
	b := NewBroker(zap.NewNop())
	r := NewRedisRelay(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", b, zap.NewNop())
	f := b.Subscribe("dm:alice:bob", "bob")

	own, _ := json.Marshal(Envelope{Origin: r.origin, Channel: "dm:alice:bob", Change: &chat.Change{Kind: chat.RowUpdated}})
	r.handle(&redis.Message{Channel: "shopchat:dm:alice:bob", Payload: string(own)})

	c := change("from-peer")
	peer, _ := json.Marshal(Envelope{Origin: "peer", Change: &c})
	r.handle(&redis.Message{Channel: "shopchat:dm:alice:bob", Payload: string(peer)})

	assert.Equal(t, "from-peer", recv(t, f).Row.ID)
	select {
	case extra := <-f.Changes():
		t.Fatalf("unexpected change %v", extra)
	default:
	}
}
