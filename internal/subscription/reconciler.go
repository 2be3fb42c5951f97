package subscription

import (
	"context"
	"fmt"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/readstate"
	"github.com/matheus3301/shopchat/internal/timeline"
	"go.uber.org/zap"
)

// Reconciler applies remote change events to a conversation's store.
type Reconciler struct {
	ctx         context.Context
	self        chat.UserID
	counterpart chat.UserID
	store       *timeline.Store
	reads       *readstate.Tracker
	foreground  func() bool
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewReconciler builds the Handler of one open conversation. ctx bounds the
// mark-read calls it issues and should end before the subscription closes.
func NewReconciler(ctx context.Context, self, counterpart chat.UserID, store *timeline.Store, reads *readstate.Tracker, foreground func() bool, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if foreground == nil {
		foreground = func() bool { return true }
	}
	return &Reconciler{
		ctx:         ctx,
		self:        self,
		counterpart: counterpart,
		store:       store,
		reads:       reads,
		foreground:  foreground,
		bus:         b,
		logger:      logger,
	}
}

// Inserted appends a counterpart message. In the foreground it is marked
// read before the next event is handled; in the background it stays unread
// and raises a notice. An echo of our own send confirms the optimistic entry.
func (r *Reconciler) Inserted(m chat.Message) {
	if m.SenderID != r.counterpart {
		r.store.ApplyRemoteUpsert(m)
		r.changed()
		return
	}

	if !r.store.Append(m, chat.Confirmed{}) {
		r.store.ApplyRemoteUpsert(m)
		r.changed()
		return
	}
	r.changed()

	if !r.foreground() {
		r.bus.Emit(bus.KindNoticeMessage, bus.Notice{
			Text: fmt.Sprintf("New message from %s: %s", r.counterpart, truncate(m.Body, 40)),
		})
		return
	}
	if err := r.reads.MarkRead(r.ctx, m.ID); err != nil && r.ctx.Err() == nil {
		r.bus.Emit(bus.KindNoticeError, bus.Notice{Text: chat.Notice(chat.OpRead, err), Err: err})
	}
	r.changed()
}

// Updated carries edits, unsends and read receipts.
func (r *Reconciler) Updated(m chat.Message) {
	r.store.ApplyRemoteUpsert(m)
	r.changed()
}

// Deleted handles out-of-band hard deletes.
func (r *Reconciler) Deleted(m chat.Message) {
	if r.store.Remove(m.ID) {
		r.logger.Info("message hard deleted", zap.String("msg_id", m.ID))
		r.changed()
	}
}

func (r *Reconciler) changed() {
	r.bus.Emit(bus.KindConversationChanged, r.counterpart)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
