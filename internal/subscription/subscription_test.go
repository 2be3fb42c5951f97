package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/chat/chattest"
	"github.com/matheus3301/shopchat/internal/readstate"
	"github.com/matheus3301/shopchat/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(kind string, m chat.Message) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+m.ID)
	r.mu.Unlock()
}

func (r *recorder) Inserted(m chat.Message) { r.add("ins", m) }
func (r *recorder) Updated(m chat.Message)  { r.add("upd", m) }
func (r *recorder) Deleted(m chat.Message)  { r.add("del", m) }

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func row(id string, from, to chat.UserID) chat.Message {
	return chat.Message{ID: id, SenderID: from, RecipientID: to, Body: "x", CreatedAt: time.Now()}
}

func TestOpenUsesCanonicalChannelAndDeliversInOrder(t *testing.T) {
	feeds := &chattest.Feeds{}
	s := New("bob", feeds, nil, zap.NewNop())
	rec := &recorder{}

	require.NoError(t, s.Open(context.Background(), "alice", rec))
	assert.Equal(t, Active, s.State())

	feed := feeds.Last()
	assert.Equal(t, "dm:alice:bob", feed.Channel)
	assert.Equal(t, chat.UserID("bob"), feed.Viewer)

	feed.Push(chat.Change{Kind: chat.RowInserted, Row: row("m1", "alice", "bob")})
	feed.Push(chat.Change{Kind: chat.RowUpdated, Row: row("m1", "alice", "bob")})
	feed.Push(chat.Change{Kind: chat.RowInserted, Row: row("leak", "carol", "bob")})
	feed.Push(chat.Change{Kind: chat.RowDeleted, Row: row("m1", "alice", "bob")})

	require.Eventually(t, func() bool { return len(rec.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ins:m1", "upd:m1", "del:m1"}, rec.get())
}

func TestOpenTearsDownPreviousStreamFirst(t *testing.T) {
	feeds := &chattest.Feeds{}
	s := New("bob", feeds, nil, zap.NewNop())
	first := &recorder{}
	second := &recorder{}

	require.NoError(t, s.Open(context.Background(), "alice", first))
	old := feeds.Last()
	require.NoError(t, s.Open(context.Background(), "carol", second))

	assert.True(t, old.Closed(), "old feed must be closed before the new one opens")
	assert.Len(t, feeds.Opened(), 2)
	assert.Equal(t, "dm:bob:carol", feeds.Last().Channel)

	old.Push(chat.Change{Kind: chat.RowInserted, Row: row("stale", "alice", "bob")})
	feeds.Last().Push(chat.Change{Kind: chat.RowInserted, Row: row("fresh", "carol", "bob")})

	require.Eventually(t, func() bool { return len(second.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.get())
}

func TestSubscribeFailureDegradesWithoutRetry(t *testing.T) {
	feeds := &chattest.Feeds{FailNext: errors.New("connection refused")}
	b := bus.New()
	events, unsub := b.Subscribe("subscription.", 10)
	defer unsub()

	s := New("bob", feeds, b, zap.NewNop())
	err := s.Open(context.Background(), "alice", &recorder{})

	require.Error(t, err)
	assert.Equal(t, chat.KindSubscription, chat.KindOf(err))
	assert.Equal(t, Degraded, s.State())
	assert.EqualError(t, s.Err(), "connection refused")
	assert.Empty(t, feeds.Opened())

	var states []State
	for len(states) < 2 {
		select {
		case evt := <-events:
			states = append(states, evt.Payload.(StateChange).To)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for state events")
		}
	}
	assert.Equal(t, []State{Subscribing, Degraded}, states)

	require.NoError(t, s.Open(context.Background(), "alice", &recorder{}))
	assert.Equal(t, Active, s.State())
}

func TestDroppedFeedDegrades(t *testing.T) {
	feeds := &chattest.Feeds{}
	s := New("bob", feeds, nil, zap.NewNop())
	require.NoError(t, s.Open(context.Background(), "alice", &recorder{}))

	feeds.Last().Drop(errors.New("socket closed"))

	require.Eventually(t, func() bool { return s.State() == Degraded }, time.Second, 5*time.Millisecond)
	s.Close()
	assert.Equal(t, Idle, s.State())
}

func TestCloseIsSynchronousAndIdle(t *testing.T) {
	feeds := &chattest.Feeds{}
	s := New("bob", feeds, nil, zap.NewNop())
	require.NoError(t, s.Open(context.Background(), "alice", &recorder{}))

	s.Close()
	assert.Equal(t, Idle, s.State())
	assert.True(t, feeds.Last().Closed())
	assert.NoError(t, s.Err())
	s.Close()
}

func TestOpenRejectsSelf(t *testing.T) {
	s := New("bob", &chattest.Feeds{}, nil, zap.NewNop())
	err := s.Open(context.Background(), "bob", &recorder{})
	assert.Equal(t, chat.KindValidation, chat.KindOf(err))
	assert.Equal(t, Idle, s.State())
}

type readsStub struct {
	mu  sync.Mutex
	ids []string
}

func (r *readsStub) MarkRead(_ context.Context, _ chat.UserID, ids []string, _ time.Time) error {
	r.mu.Lock()
	r.ids = append(r.ids, ids...)
	r.mu.Unlock()
	return nil
}

func (r *readsStub) UnreadCounts(context.Context, chat.UserID) (map[chat.UserID]int, error) {
	return nil, nil
}

func (r *readsStub) marked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestReconcilerRules(t *testing.T) {
	b := bus.New()
	notices, unsub := b.Subscribe("notice.", 10)
	defer unsub()

	store := timeline.New()
	remote := &readsStub{}
	reads := readstate.New("bob", "alice", store, remote, nil, zap.NewNop())
	foreground := false
	r := NewReconciler(context.Background(), "bob", "alice", store, reads, func() bool { return foreground }, b, zap.NewNop())

	in := row("in1", "alice", "bob")
	r.Inserted(in)
	r.Inserted(in)

	assert.Empty(t, remote.marked(), "a background conversation leaves inbound messages unread")
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, reads.Unread())

	select {
	case evt := <-notices:
		assert.Equal(t, bus.KindNoticeMessage, evt.Kind)
		assert.Contains(t, evt.Payload.(bus.Notice).Text, "alice")
	case <-time.After(time.Second):
		t.Fatal("expected a background notice")
	}

	foreground = true
	r.Inserted(row("in2", "alice", "bob"))
	assert.Equal(t, []string{"in2"}, remote.marked(), "marked before Inserted returns")
	assert.Equal(t, 1, reads.Unread())
	select {
	case evt := <-notices:
		t.Fatalf("unexpected notice while foregrounded: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	mine := row("out1", "bob", "alice")
	store.Append(mine, chat.LocalPending{Op: chat.OpSend})
	r.Inserted(mine)
	e, _ := store.Get("out1")
	assert.IsType(t, chat.Confirmed{}, e.Delivery)

	r.Updated(mine.Unsent(time.Now()))
	e, _ = store.Get("out1")
	assert.Equal(t, chat.Tombstone, e.Body)

	r.Deleted(mine)
	_, ok := store.Get("out1")
	assert.False(t, ok)
}
