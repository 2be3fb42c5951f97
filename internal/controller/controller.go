// Package controller wires the chat components into the operations a UI invokes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/presence"
	"github.com/matheus3301/shopchat/internal/readstate"
	"github.com/matheus3301/shopchat/internal/subscription"
	"github.com/matheus3301/shopchat/internal/timeline"
	"go.uber.org/zap"
)

// DefaultHistoryLimit is how many past messages Open loads.
const DefaultHistoryLimit = 200

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source for timestamps and the edit window.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = func() time.Time { return chat.Stamp(now()) }
	}
}

// WithForeground sets the predicate telling whether the open conversation
// is what the user is looking at.
func WithForeground(fn func() bool) Option {
	return func(c *Controller) { c.foreground = fn }
}

// WithIDGenerator overrides client message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// WithHistoryLimit bounds how many messages Open loads.
func WithHistoryLimit(n int) Option {
	return func(c *Controller) { c.historyLimit = n }
}

// WithPresenceOptions configures the typing signaler of each conversation.
func WithPresenceOptions(opts ...presence.Option) Option {
	return func(c *Controller) { c.presenceOpts = append(c.presenceOpts, opts...) }
}

// WithStoreOptions configures the message store of each conversation.
func WithStoreOptions(opts ...timeline.Option) Option {
	return func(c *Controller) { c.storeOpts = append(c.storeOpts, opts...) }
}

// Controller runs chat operations for a single signed-in user against one
// open conversation at a time.
type Controller struct {
	self         chat.UserID
	backend      chat.Backend
	bus          *bus.Bus
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
	foreground   func() bool
	historyLimit int
	presenceOpts []presence.Option
	storeOpts    []timeline.Option
	sub          *subscription.Subscription

	// openMu serializes Open and Close.
	openMu sync.Mutex

	mu    sync.Mutex
	epoch uint64
	conv  *conversation
	draft string
}

// conversation is the state owned by one open conversation. It is discarded
// on teardown; calls resolving later compare epochs and leave it alone.
type conversation struct {
	epoch       uint64
	counterpart chat.UserID
	store       *timeline.Store
	reads       *readstate.Tracker
	typing      *presence.Signaler
	cancel      context.CancelFunc
}

// New creates a controller for self.
func New(self chat.UserID, backend chat.Backend, b *bus.Bus, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		self:         self,
		backend:      backend,
		bus:          b,
		logger:       logger.With(zap.String("self", string(self))),
		now:          func() time.Time { return chat.Stamp(time.Now()) },
		newID:        uuid.NewString,
		foreground:   func() bool { return true },
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sub = subscription.New(self, backend, b, c.logger)
	return c
}

// Self returns the signed-in user.
func (c *Controller) Self() chat.UserID { return c.self }

// Open tears down the current conversation and opens the one with
// counterpart: it subscribes to its change stream, loads history, joins the
// presence channel and, when the conversation is in the foreground, marks
// inbound messages read. A subscription failure
// leaves the conversation open in a degraded state and is returned.
func (c *Controller) Open(ctx context.Context, counterpart chat.UserID) error {
	if counterpart == "" || counterpart == c.self {
		return c.fail("open", chat.Wrap(chat.KindValidation, "open", fmt.Errorf("cannot chat with %q", counterpart)))
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	old := c.conv
	c.conv = nil
	c.epoch++
	epoch := c.epoch
	c.draft = ""
	c.mu.Unlock()
	c.teardown(old)

	convCtx, cancel := context.WithCancel(context.Background())
	store := timeline.New(append([]timeline.Option{timeline.WithClock(c.now)}, c.storeOpts...)...)
	conv := &conversation{
		epoch:       epoch,
		counterpart: counterpart,
		store:       store,
		reads:       readstate.New(c.self, counterpart, store, c.backend, c.now, c.logger),
		cancel:      cancel,
	}

	rec := subscription.NewReconciler(convCtx, c.self, counterpart, store, conv.reads, c.foreground, c.bus, c.logger)
	subErr := c.sub.Open(ctx, counterpart, rec)
	if subErr != nil {
		c.bus.Emit(bus.KindNoticeError, bus.Notice{Text: "Live updates are unavailable, reopen the conversation to retry", Err: subErr})
	}

	pair := chat.NewPair(c.self, counterpart)
	history, err := c.backend.ListConversation(ctx, pair, c.historyLimit)
	if err != nil {
		c.logger.Warn("loading history failed", zap.String("counterpart", string(counterpart)), zap.Error(err))
		c.bus.Emit(bus.KindNoticeError, bus.Notice{Text: "Could not load earlier messages", Err: err})
	}
	for _, m := range history {
		store.ApplyRemoteUpsert(m)
	}

	if ch, err := c.backend.JoinPresence(ctx, pair.PresenceChannel(), c.self); err != nil {
		c.logger.Warn("joining presence failed", zap.Error(err))
	} else {
		conv.typing = presence.New(ch, c.self, counterpart, c.logger, append([]presence.Option{presence.WithBus(c.bus), presence.WithClock(c.now)}, c.presenceOpts...)...)
		conv.typing.Start()
	}

	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
	c.logger.Info("conversation opened", zap.String("counterpart", string(counterpart)), zap.Int("history", len(history)))

	if c.foreground() {
		if _, err := conv.reads.MarkConversationRead(ctx); err != nil {
			c.bus.Emit(bus.KindNoticeError, bus.Notice{Text: chat.Notice(chat.OpRead, err), Err: err})
		}
	}
	c.changed(conv)
	return subErr
}

// Close tears down the open conversation, if any.
func (c *Controller) Close() {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	old := c.conv
	c.conv = nil
	c.epoch++
	c.mu.Unlock()
	c.teardown(old)
}

func (c *Controller) teardown(conv *conversation) {
	if conv != nil {
		conv.cancel()
	}
	c.sub.Close()
	if conv == nil {
		return
	}
	if conv.typing != nil {
		if err := conv.typing.Close(); err != nil {
			c.logger.Debug("leaving presence", zap.Error(err))
		}
	}
	c.logger.Info("conversation closed", zap.String("counterpart", string(conv.counterpart)))
}

// Send appends text optimistically, clears the draft and creates the
// message remotely. On failure the optimistic message is removed.
func (c *Controller) Send(ctx context.Context, text string) (chat.Message, error) {
	if chat.Blank(text) {
		return chat.Message{}, c.fail(chat.OpSend, chat.Wrap(chat.KindValidation, chat.OpSend, chat.ErrEmptyBody))
	}
	conv, err := c.active(chat.OpSend)
	if err != nil {
		return chat.Message{}, err
	}

	now := c.now()
	m := chat.Message{
		ID:          c.newID(),
		SenderID:    c.self,
		RecipientID: conv.counterpart,
		Body:        text,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	conv.store.Append(m, chat.LocalPending{Op: chat.OpSend, Since: now})
	c.clearDraft(conv)
	c.changed(conv)

	stored, err := c.backend.CreateMessage(ctx, m)
	if err != nil {
		if c.current(conv) {
			conv.store.RemoveLocalOptimistic(m.ID)
			c.changed(conv)
		}
		c.logger.Warn("send failed", zap.String("msg_id", m.ID), zap.Error(err))
		return m, c.fail(chat.OpSend, remoteErr(chat.OpSend, err))
	}
	if c.current(conv) {
		c.resolve(conv, stored, m.ID)
	}
	return m, nil
}

// Edit replaces the body of one of self's messages within the edit window.
func (c *Controller) Edit(ctx context.Context, id, text string) (chat.Message, error) {
	if chat.Blank(text) {
		return chat.Message{}, c.fail(chat.OpEdit, chat.Wrap(chat.KindValidation, chat.OpEdit, chat.ErrEmptyBody))
	}
	conv, prev, err := c.ownMessage(chat.OpEdit, id)
	if err != nil {
		return prev, err
	}
	now := c.now()
	if prev.IsDeleted {
		return prev, c.fail(chat.OpEdit, chat.Wrap(chat.KindValidation, chat.OpEdit, chat.ErrMessageDeleted))
	}
	if !chat.CanEdit(prev, now) {
		return prev, c.fail(chat.OpEdit, chat.Wrap(chat.KindValidation, chat.OpEdit, chat.ErrEditWindowClosed))
	}
	if prev.Body == text {
		return prev, nil
	}

	return c.mutate(ctx, conv, chat.OpEdit, prev, prev.Edited(text, now))
}

// Unsend replaces one of self's messages with the tombstone. It is allowed
// at any age and is a no-op on an already unsent message.
func (c *Controller) Unsend(ctx context.Context, id string) (chat.Message, error) {
	conv, prev, err := c.ownMessage(chat.OpUnsend, id)
	if err != nil {
		return prev, err
	}
	if prev.IsDeleted {
		return prev, nil
	}
	return c.mutate(ctx, conv, chat.OpUnsend, prev, prev.Unsent(c.now()))
}

func (c *Controller) mutate(ctx context.Context, conv *conversation, op chat.Op, prev, next chat.Message) (chat.Message, error) {
	conv.store.Put(next, chat.LocalPending{Op: op, Since: next.UpdatedAt, Base: prev.UpdatedAt})
	c.changed(conv)

	stored, err := c.backend.UpdateMessage(ctx, next)
	if err != nil {
		if c.current(conv) {
			conv.store.Rollback(prev, next, chat.Failed{Op: op, Err: err})
			c.changed(conv)
		}
		c.logger.Warn("update failed", zap.String("op", string(op)), zap.String("msg_id", next.ID), zap.Error(err))
		return prev, c.fail(op, remoteErr(op, err))
	}
	if c.current(conv) {
		c.resolve(conv, stored, next.ID)
	}
	if stored.ID == next.ID {
		return stored, nil
	}
	return next, nil
}

// MarkConversationRead marks every unread inbound message of the open
// conversation read in one batched call. Repeated calls are no-ops.
func (c *Controller) MarkConversationRead(ctx context.Context) (int, error) {
	conv, err := c.active(chat.OpRead)
	if err != nil {
		return 0, err
	}
	n, err := conv.reads.MarkConversationRead(ctx)
	if n > 0 {
		c.changed(conv)
	}
	if err != nil {
		return 0, c.fail(chat.OpRead, err)
	}
	return n, nil
}

// StartTyping signals that self is typing, at most once per second.
func (c *Controller) StartTyping(ctx context.Context) error {
	conv, err := c.active("typing")
	if err != nil || conv.typing == nil {
		return err
	}
	_, err = conv.typing.StartTyping(ctx)
	if err != nil {
		c.logger.Debug("typing broadcast failed", zap.Error(err))
	}
	return err
}

// SetDraft records the composer text and signals typing when it is not blank.
func (c *Controller) SetDraft(ctx context.Context, text string) error {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	if chat.Blank(text) {
		return nil
	}
	return c.StartTyping(ctx)
}

// Draft returns the composer text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// CounterpartIsTyping reports whether the counterpart is currently typing.
func (c *Controller) CounterpartIsTyping() bool {
	conv := c.snapshot()
	return conv != nil && conv.typing != nil && conv.typing.CounterpartIsTyping()
}

// Counterpart returns the counterpart of the open conversation.
func (c *Controller) Counterpart() (chat.UserID, bool) {
	conv := c.snapshot()
	if conv == nil {
		return "", false
	}
	return conv.counterpart, true
}

// Messages returns the ordered entries of the open conversation.
func (c *Controller) Messages() []timeline.Entry {
	conv := c.snapshot()
	if conv == nil {
		return nil
	}
	return conv.store.Snapshot()
}

// Message returns one entry of the open conversation.
func (c *Controller) Message(id string) (timeline.Entry, bool) {
	conv := c.snapshot()
	if conv == nil {
		return timeline.Entry{}, false
	}
	return conv.store.Get(id)
}

// CanEdit reports whether the edit action should be offered for id.
func (c *Controller) CanEdit(id string) bool {
	e, ok := c.Message(id)
	return ok && e.SenderID == c.self && !chat.IsPending(e.Delivery) && chat.CanEdit(e.Message, c.now())
}

// SubscriptionState returns the live-update state of the open conversation.
func (c *Controller) SubscriptionState() subscription.State {
	return c.sub.State()
}

func (c *Controller) ownMessage(op chat.Op, id string) (*conversation, chat.Message, error) {
	conv, err := c.active(op)
	if err != nil {
		return nil, chat.Message{}, err
	}
	e, ok := conv.store.Get(id)
	if !ok {
		return nil, chat.Message{}, c.fail(op, chat.Wrap(chat.KindValidation, op, chat.ErrMessageNotFound))
	}
	if e.SenderID != c.self {
		return nil, e.Message, c.fail(op, chat.Wrap(chat.KindValidation, op, chat.ErrNotSender))
	}
	if chat.IsPending(e.Delivery) {
		return nil, e.Message, c.fail(op, chat.Wrap(chat.KindValidation, op, chat.ErrPending))
	}
	return conv, e.Message, nil
}

func (c *Controller) active(op chat.Op) (*conversation, error) {
	conv := c.snapshot()
	if conv == nil {
		return nil, c.fail(op, chat.Wrap(chat.KindValidation, op, chat.ErrNoConversation))
	}
	return conv, nil
}

func (c *Controller) snapshot() *conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// current reports whether conv is still the open conversation.
func (c *Controller) current(conv *conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv == conv && c.epoch == conv.epoch
}

func (c *Controller) clearDraft(conv *conversation) {
	c.mu.Lock()
	if c.conv == conv {
		c.draft = ""
	}
	c.mu.Unlock()
}

// resolve settles a successful mutation with the row the remote stored.
// Backends that return no row only confirm the local version.
func (c *Controller) resolve(conv *conversation, stored chat.Message, id string) {
	if stored.ID == id {
		conv.store.Resolve(stored)
	} else {
		conv.store.Confirm(id)
	}
	c.changed(conv)
}

func (c *Controller) changed(conv *conversation) {
	c.bus.Emit(bus.KindConversationChanged, conv.counterpart)
}

func (c *Controller) fail(op chat.Op, err error) error {
	c.bus.Emit(bus.KindNoticeError, bus.Notice{Text: chat.Notice(op, err), Err: err})
	return err
}

// remoteErr classifies a failed remote call. Rejections the remote
// explained stay conflicts; everything else is a transport failure.
func remoteErr(op chat.Op, err error) error {
	var ce *chat.Error
	if errors.As(err, &ce) {
		return err
	}
	if chat.KindOf(err) != chat.KindUnknown {
		return chat.Wrap(chat.KindConflict, op, err)
	}
	return chat.Wrap(chat.KindTransport, op, err)
}
