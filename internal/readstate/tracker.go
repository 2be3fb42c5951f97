// Package readstate tracks which inbound messages of a conversation were read.
package readstate

import (
	"context"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/timeline"
	"go.uber.org/zap"
)

// Marker persists read stamps and aggregates unread counts remotely.
type Marker interface {
	MarkRead(ctx context.Context, reader chat.UserID, ids []string, at time.Time) error
	UnreadCounts(ctx context.Context, reader chat.UserID) (map[chat.UserID]int, error)
}

// Tracker marks the inbound messages of one conversation read, locally
// first and then against the remote store in a single batched call.
type Tracker struct {
	self        chat.UserID
	counterpart chat.UserID
	store       *timeline.Store
	remote      Marker
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a tracker for the conversation between self and counterpart.
func New(self, counterpart chat.UserID, store *timeline.Store, remote Marker, now func() time.Time, logger *zap.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		self:        self,
		counterpart: counterpart,
		store:       store,
		remote:      remote,
		now:         now,
		logger:      logger,
	}
}

// MarkConversationRead stamps every unread message from the counterpart and
// returns how many were marked. A second call with nothing unread makes no
// remote call. On remote failure the local stamps are reverted.
func (t *Tracker) MarkConversationRead(ctx context.Context) (int, error) {
	at := t.now()
	ids := t.store.MarkUnreadFrom(t.self, t.counterpart, at)
	if len(ids) == 0 {
		return 0, nil
	}
	return len(ids), t.persist(ctx, ids, at)
}

// MarkRead stamps a single inbound message, used when it arrives while the
// conversation is in the foreground.
func (t *Tracker) MarkRead(ctx context.Context, id string) error {
	e, ok := t.store.Get(id)
	if !ok || !e.IsUnreadFor(t.self, t.counterpart) {
		return nil
	}
	at := t.now()
	if t.store.MarkRead([]string{id}, at) == 0 {
		return nil
	}
	return t.persist(ctx, []string{id}, at)
}

// Unread returns the local unread count from the counterpart.
func (t *Tracker) Unread() int {
	return t.store.UnreadCount(t.self, t.counterpart)
}

// UnreadCounts returns the remote unread count for every sender.
func (t *Tracker) UnreadCounts(ctx context.Context) (map[chat.UserID]int, error) {
	counts, err := t.remote.UnreadCounts(ctx, t.self)
	return counts, chat.Wrap(chat.KindTransport, chat.OpRead, err)
}

func (t *Tracker) persist(ctx context.Context, ids []string, at time.Time) error {
	if err := t.remote.MarkRead(ctx, t.self, ids, at); err != nil {
		reverted := t.store.UnmarkRead(ids, at)
		t.logger.Warn("mark read failed, reverted",
			zap.Error(err),
			zap.String("counterpart", string(t.counterpart)),
			zap.Int("count", len(ids)),
			zap.Int("reverted", reverted))
		return chat.Wrap(chat.KindTransport, chat.OpRead, err)
	}
	t.logger.Debug("messages marked read", zap.String("counterpart", string(t.counterpart)), zap.Int("count", len(ids)))
	return nil
}
