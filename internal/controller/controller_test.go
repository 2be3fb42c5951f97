package controller

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/backend"
	"github.com/matheus3301/shopchat/internal/backend/backendtest"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/chat/chattest"
	"github.com/matheus3301/shopchat/internal/presence"
	"github.com/matheus3301/shopchat/internal/roster"
	"github.com/matheus3301/shopchat/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second

// flaky wraps a backend and fails or holds selected calls.
type flaky struct {
	chat.Backend

	mu            sync.Mutex
	failCreate    error
	failUpdate    error
	failSubscribe error
	hold          chan struct{}
	beforeUpdate  func()
	updates       atomic.Int32
}

func (f *flaky) Subscribe(ctx context.Context, channel string, viewer chat.UserID) (chat.Feed, error) {
	f.mu.Lock()
	err := f.failSubscribe
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.Subscribe(ctx, channel, viewer)
}

func (f *flaky) CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	f.mu.Lock()
	err, hold := f.failCreate, f.hold
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		return chat.Message{}, err
	}
	return f.Backend.CreateMessage(ctx, m)
}

func (f *flaky) UpdateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	f.updates.Add(1)
	f.mu.Lock()
	err, before := f.failUpdate, f.beforeUpdate
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if err != nil {
		return chat.Message{}, err
	}
	return f.Backend.UpdateMessage(ctx, m)
}

func (f *flaky) set(fn func(*flaky)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

type harness struct {
	svc   *backend.Service
	clock *chattest.Clock
}

func newHarness(t *testing.T) *harness {
	clock := chattest.NewClock(t0)
	svc, _ := backendtest.New(t, backend.WithClock(clock.Now))
	return &harness{svc: svc, clock: clock}
}

func (h *harness) controller(t *testing.T, self chat.UserID, be chat.Backend, opts ...Option) (*Controller, *bus.Bus) {
	t.Helper()
	if be == nil {
		be = h.svc
	}
	b := bus.New()
	var n atomic.Int32
	opts = append([]Option{
		WithClock(h.clock.Now),
		WithIDGenerator(func() string { return string(self) + "-" + strconv.Itoa(int(n.Add(1))) }),
	}, opts...)
	c := New(self, be, b, zap.NewNop(), opts...)
	t.Cleanup(c.Close)
	return c, b
}

func entry(c *Controller, id string) func() bool {
	return func() bool {
		_, ok := c.Message(id)
		return ok
	}
}

func TestSendRoundTripAndReadReceipt(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.controller(t, "alice", nil)
	bob, _ := h.controller(t, "bob", nil)
	ctx := context.Background()

	require.NoError(t, alice.Open(ctx, "bob"))
	require.NoError(t, bob.Open(ctx, "alice"))
	assert.Equal(t, subscription.Active, alice.SubscriptionState())

	sent, err := alice.Send(ctx, "hello bob")
	require.NoError(t, err)

	e, ok := alice.Message(sent.ID)
	require.True(t, ok)
	assert.IsType(t, chat.Confirmed{}, e.Delivery)

	require.Eventually(t, entry(bob, sent.ID), waitFor, 10*time.Millisecond)
	got, _ := bob.Message(sent.ID)
	assert.Equal(t, "hello bob", got.Body)

	require.Eventually(t, func() bool {
		e, ok := alice.Message(sent.ID)
		return ok && e.ReadAt != nil
	}, waitFor, 10*time.Millisecond, "read receipt reaches the sender")
}

func TestBackgroundConversationLeavesInboundUnread(t *testing.T) {
	h := newHarness(t)
	var visible atomic.Bool
	alice, _ := h.controller(t, "alice", nil)
	bob, _ := h.controller(t, "bob", nil, WithForeground(visible.Load))
	ctx := context.Background()

	unread := func() int {
		counts, err := h.svc.UnreadCounts(ctx, "bob")
		require.NoError(t, err)
		return counts["alice"]
	}

	require.NoError(t, alice.Open(ctx, "bob"))
	_, err := alice.Send(ctx, "first")
	require.NoError(t, err)

	require.NoError(t, bob.Open(ctx, "alice"))
	assert.Equal(t, 1, unread(), "opening in the background does not mark read")

	second, err := alice.Send(ctx, "second")
	require.NoError(t, err)
	require.Eventually(t, entry(bob, second.ID), waitFor, 10*time.Millisecond)
	assert.Equal(t, 2, unread(), "inbound messages in the background stay unread")

	visible.Store(true)
	n, err := bob.MarkConversationRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, unread())
}

func TestPendingEditKeepsReceiptWithSkewedClock(t *testing.T) {
	h := newHarness(t)
	be := &flaky{Backend: h.svc}
	ahead := chattest.NewClock(t0.Add(30 * time.Second))
	alice, _ := h.controller(t, "alice", be, WithClock(ahead.Now))
	ctx := context.Background()

	require.NoError(t, alice.Open(ctx, "bob"))
	sent, err := alice.Send(ctx, "Hi")
	require.NoError(t, err)

	be.set(func(f *flaky) {
		f.beforeUpdate = func() {
			require.NoError(t, h.svc.MarkRead(ctx, "bob", []string{sent.ID}, t0))
		}
	})
	_, err = alice.Edit(ctx, sent.ID, "Hi there")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, ok := alice.Message(sent.ID)
		return ok && e.ReadAt != nil && e.Body == "Hi there"
	}, waitFor, 10*time.Millisecond, "the remote read receipt survives the pending edit")
	e, _ := alice.Message(sent.ID)
	assert.IsType(t, chat.Confirmed{}, e.Delivery)
}

func TestSendRejectsBlankWithoutRemoteCall(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.controller(t, "alice", nil)
	require.NoError(t, alice.Open(context.Background(), "bob"))

	_, err := alice.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, chat.ErrEmptyBody)
	assert.Equal(t, chat.KindValidation, chat.KindOf(err))
	assert.Empty(t, alice.Messages())
}

func TestSendFailureRemovesOptimisticMessage(t *testing.T) {
	h := newHarness(t)
	fb := &flaky{Backend: h.svc, failCreate: errors.New("connection reset")}
	alice, b := h.controller(t, "alice", fb)
	notices, unsub := b.Subscribe("notice.", 8)
	defer unsub()

	require.NoError(t, alice.Open(context.Background(), "bob"))
	require.NoError(t, alice.SetDraft(context.Background(), "hi"))

	_, err := alice.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, chat.KindTransport, chat.KindOf(err))
	assert.Empty(t, alice.Messages())
	assert.Empty(t, alice.Draft())

	select {
	case ev := <-notices:
		assert.Equal(t, "Failed to send message, please try again", ev.Payload.(bus.Notice).Text)
	case <-time.After(waitFor):
		t.Fatal("no notice")
	}
}

func TestEditWindowBoundaries(t *testing.T) {
	h := newHarness(t)
	fb := &flaky{Backend: h.svc}
	alice, _ := h.controller(t, "alice", fb)
	ctx := context.Background()
	require.NoError(t, alice.Open(ctx, "bob"))

	m, err := alice.Send(ctx, "helo")
	require.NoError(t, err)

	h.clock.Advance(4*time.Minute + 59*time.Second)
	assert.True(t, alice.CanEdit(m.ID))
	edited, err := alice.Edit(ctx, m.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.OriginalBody)
	assert.Equal(t, "helo", *edited.OriginalBody)

	h.clock.Advance(2 * time.Second)
	assert.False(t, alice.CanEdit(m.ID))
	calls := fb.updates.Load()
	_, err = alice.Edit(ctx, m.ID, "hello!")
	assert.ErrorIs(t, err, chat.ErrEditWindowClosed)
	assert.Equal(t, chat.KindValidation, chat.KindOf(err))
	assert.Equal(t, calls, fb.updates.Load(), "no remote call outside the window")

	require.Eventually(t, func() bool {
		e, _ := alice.Message(m.ID)
		return e.Body == "hello"
	}, waitFor, 10*time.Millisecond)
}

func TestEditFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	fb := &flaky{Backend: h.svc, failSubscribe: errors.New("realtime unavailable")}
	alice, b := h.controller(t, "alice", fb)
	ctx := context.Background()
	err := alice.Open(ctx, "bob")
	assert.Equal(t, chat.KindSubscription, chat.KindOf(err))
	assert.Equal(t, subscription.Degraded, alice.SubscriptionState())
	_, stillOpen := alice.Counterpart()
	require.True(t, stillOpen)

	m, err := alice.Send(ctx, "original")
	require.NoError(t, err)

	notices, unsub := b.Subscribe(bus.KindNoticeError, 8)
	defer unsub()
	fb.set(func(f *flaky) { f.failUpdate = errors.New("timeout") })

	_, err = alice.Edit(ctx, m.ID, "changed")
	require.Error(t, err)
	assert.Equal(t, chat.KindTransport, chat.KindOf(err))

	e, _ := alice.Message(m.ID)
	assert.Equal(t, "original", e.Body)
	assert.False(t, e.IsEdited)
	assert.IsType(t, chat.Failed{}, e.Delivery)

	ev := <-notices
	assert.Equal(t, "Failed to update message, please try again", ev.Payload.(bus.Notice).Text)
}

func TestUnsendReachesCounterpartAsTombstone(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.controller(t, "alice", nil)
	bob, _ := h.controller(t, "bob", nil)
	ctx := context.Background()
	require.NoError(t, alice.Open(ctx, "bob"))
	require.NoError(t, bob.Open(ctx, "alice"))

	m, err := alice.Send(ctx, "oops")
	require.NoError(t, err)
	require.Eventually(t, entry(bob, m.ID), waitFor, 10*time.Millisecond)

	h.clock.Advance(time.Hour)
	unsent, err := alice.Unsend(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.Tombstone, unsent.Body)

	require.Eventually(t, func() bool {
		e, _ := bob.Message(m.ID)
		return e.IsDeleted && e.Body == chat.Tombstone && e.OriginalBody == nil
	}, waitFor, 10*time.Millisecond)

	again, err := alice.Unsend(ctx, m.ID)
	require.NoError(t, err, "unsending twice is a no-op")
	assert.True(t, again.IsDeleted)
	_, err = alice.Edit(ctx, m.ID, "back")
	assert.ErrorIs(t, err, chat.ErrMessageDeleted)
}

func TestOnlyOwnMessagesCanChange(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.controller(t, "alice", nil)
	bob, _ := h.controller(t, "bob", nil)
	ctx := context.Background()
	require.NoError(t, alice.Open(ctx, "bob"))
	require.NoError(t, bob.Open(ctx, "alice"))

	m, err := alice.Send(ctx, "mine")
	require.NoError(t, err)
	require.Eventually(t, entry(bob, m.ID), waitFor, 10*time.Millisecond)

	_, err = bob.Edit(ctx, m.ID, "theirs")
	assert.ErrorIs(t, err, chat.ErrNotSender)
	_, err = bob.Unsend(ctx, m.ID)
	assert.ErrorIs(t, err, chat.ErrNotSender)
	assert.False(t, bob.CanEdit(m.ID))
}

func TestUnreadCountsClearWhenConversationOpens(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.controller(t, "alice", nil)
	bob, _ := h.controller(t, "bob", nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Heartbeat(ctx, "alice", t0))
	require.NoError(t, h.svc.Heartbeat(ctx, "bob", t0))

	require.NoError(t, alice.Open(ctx, "bob"))
	for _, text := range []string{"one", "two", "three"} {
		_, err := alice.Send(ctx, text)
		require.NoError(t, err)
	}

	q := roster.NewQuery("bob", h.svc, 0, h.clock.Now)
	entries, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].UnreadCount)
	assert.True(t, entries[0].IsOnline)

	require.NoError(t, bob.Open(ctx, "alice"))
	assert.Len(t, bob.Messages(), 3)

	entries, err = q.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, entries[0].UnreadCount)

	n, err := bob.MarkConversationRead(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second mark is a no-op")
}

func TestTypingIndicatorExpires(t *testing.T) {
	svc, _ := backendtest.New(t)
	fast := WithPresenceOptions(presence.WithExpiry(150 * time.Millisecond))
	alice := New("alice", svc, bus.New(), zap.NewNop(), fast)
	bob := New("bob", svc, bus.New(), zap.NewNop(), fast)
	t.Cleanup(alice.Close)
	t.Cleanup(bob.Close)
	ctx := context.Background()

	require.NoError(t, alice.Open(ctx, "bob"))
	require.NoError(t, bob.Open(ctx, "alice"))

	require.NoError(t, alice.SetDraft(ctx, "typing..."))
	require.Eventually(t, bob.CounterpartIsTyping, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !bob.CounterpartIsTyping() }, waitFor, 5*time.Millisecond)
	assert.False(t, alice.CounterpartIsTyping())
}

func TestLateResultDoesNotTouchNewConversation(t *testing.T) {
	h := newHarness(t)
	hold := make(chan struct{})
	fb := &flaky{Backend: h.svc, hold: hold, failCreate: errors.New("late failure")}
	alice, _ := h.controller(t, "alice", fb)
	ctx := context.Background()
	require.NoError(t, alice.Open(ctx, "bob"))

	done := make(chan error, 1)
	go func() {
		_, err := alice.Send(ctx, "to bob")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(alice.Messages()) == 1 }, waitFor, 5*time.Millisecond)

	fb.set(func(f *flaky) { f.hold = nil })
	require.NoError(t, alice.Open(ctx, "carol"))
	close(hold)

	require.Error(t, <-done)
	who, ok := alice.Counterpart()
	require.True(t, ok)
	assert.Equal(t, chat.UserID("carol"), who)
	assert.Empty(t, alice.Messages())
}

func TestOperationsNeedAnOpenConversation(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.controller(t, "alice", nil)

	_, err := alice.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, chat.ErrNoConversation)
	assert.Error(t, alice.Open(context.Background(), "alice"))
	assert.Equal(t, subscription.Idle, alice.SubscriptionState())
}
