package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/backend/backendtest"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/hub"
	"github.com/matheus3301/shopchat/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	url string
	hub *hub.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc, broker := backendtest.New(t)
	srv := hub.New(svc, hub.Options{Stats: broker.Stats, PingInterval: time.Second}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return &fixture{url: ts.URL, hub: srv}
}

func (f *fixture) client(t *testing.T, user chat.UserID, opts ...remote.Option) *remote.Client {
	t.Helper()
	c, err := remote.New(f.url, user, opts...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := remote.New("ftp://hub", "alice")
	assert.Error(t, err)
	_, err = remote.New("http://hub", "a:b")
	assert.Error(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.client(t, "alice"), f.client(t, "bob")
	ctx := context.Background()

	sent, err := alice.CreateMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", RecipientID: "bob", Body: "hi", CreatedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, "m1", sent.ID)

	msgs, err := bob.ListConversation(ctx, chat.NewPair("alice", "bob"), 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.True(t, msgs[0].CreatedAt.Equal(t0))

	counts, err := bob.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[chat.UserID]int{"alice": 1}, counts)

	require.NoError(t, bob.MarkRead(ctx, "bob", []string{"m1"}, t0.Add(time.Minute)))
	counts, err = bob.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestRemoteErrorsKeepTheirIdentity(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.client(t, "alice"), f.client(t, "bob")
	ctx := context.Background()

	_, err := alice.CreateMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", RecipientID: "bob", Body: "hi"})
	require.NoError(t, err)

	_, err = bob.UpdateMessage(ctx, chat.Message{ID: "m1", SenderID: "bob", Body: "mine"})
	assert.ErrorIs(t, err, chat.ErrNotSender)

	_, err = alice.UpdateMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", Body: " "})
	assert.ErrorIs(t, err, chat.ErrEmptyBody)

	_, err = alice.UpdateMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", IsDeleted: true})
	require.NoError(t, err)
	_, err = alice.UpdateMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", Body: "again"})
	assert.ErrorIs(t, err, chat.ErrMessageDeleted)

	_, err = alice.CreateMessage(ctx, chat.Message{ID: "m2", SenderID: "bob", RecipientID: "carol", Body: "spoof"})
	assert.ErrorIs(t, err, chat.ErrNotSender)
}

func TestSubscribeDeliversChangesAfterAck(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.client(t, "alice"), f.client(t, "bob")
	ctx := context.Background()

	feed, err := bob.Subscribe(ctx, chat.NewPair("alice", "bob").Channel(), "bob")
	require.NoError(t, err)
	defer feed.Close()

	_, err = alice.CreateMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", RecipientID: "bob", Body: "hi"})
	require.NoError(t, err)

	select {
	case c := <-feed.Changes():
		assert.Equal(t, chat.RowInserted, c.Kind)
		assert.Equal(t, "m1", c.Row.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestSubscribeRejectsNonMembers(t *testing.T) {
	f := newFixture(t)
	mallory := f.client(t, "mallory")

	_, err := mallory.Subscribe(context.Background(), chat.NewPair("alice", "bob").Channel(), "mallory")
	assert.ErrorIs(t, err, chat.ErrNotMember)

	_, err = mallory.Subscribe(context.Background(), chat.NewPair("alice", "bob").Channel(), "alice")
	assert.ErrorIs(t, err, chat.ErrNotMember)
}

func TestFeedReportsDropAndCleanClose(t *testing.T) {
	f := newFixture(t)
	bob := f.client(t, "bob")
	ctx := context.Background()

	clean, err := bob.Subscribe(ctx, chat.InboxChannel("bob"), "bob")
	require.NoError(t, err)
	require.NoError(t, clean.Close())
	for range clean.Changes() {
	}
	assert.NoError(t, clean.Err())

	dropped, err := bob.Subscribe(ctx, chat.NewPair("alice", "bob").Channel(), "bob")
	require.NoError(t, err)
	f.hub.Close()

	select {
	case _, ok := <-dropped.Changes():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not end")
	}
	assert.Error(t, dropped.Err())
}

func TestPresenceTypingAndMembers(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.client(t, "alice"), f.client(t, "bob")
	ctx := context.Background()
	channel := chat.NewPair("alice", "bob").PresenceChannel()

	pa, err := alice.JoinPresence(ctx, channel, "alice")
	require.NoError(t, err)
	defer pa.Close()
	pb, err := bob.JoinPresence(ctx, channel, "bob")
	require.NoError(t, err)
	defer pb.Close()

	assert.Equal(t, []chat.UserID{"alice", "bob"}, pb.Members())
	assert.Eventually(t, func() bool { return len(pa.Members()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pa.Broadcast(ctx, chat.TypingSignal{SenderID: "alice", RecipientID: "bob", Typing: true}))
	select {
	case sig := <-pb.Signals():
		assert.Equal(t, chat.UserID("alice"), sig.SenderID)
		assert.True(t, sig.Typing)
	case <-time.After(2 * time.Second):
		t.Fatal("typing not delivered")
	}

	require.NoError(t, pb.Close())
	assert.Eventually(t, func() bool { return len(pa.Members()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatCarriesDisplayName(t *testing.T) {
	f := newFixture(t)
	alice := f.client(t, "alice", remote.WithDisplayName("Alice's Shop"))
	ctx := context.Background()

	require.NoError(t, alice.Heartbeat(ctx, "alice", t0))
	profiles, err := alice.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Alice's Shop", profiles[0].DisplayName)
	assert.True(t, profiles[0].LastSeenAt.Equal(t0))
}
