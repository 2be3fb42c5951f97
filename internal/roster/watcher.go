package roster

import (
	"context"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"go.uber.org/zap"
)

// Watcher turns every change on self's inbox channel into a roster
// changed broadcast on the bus.
type Watcher struct {
	self   chat.UserID
	feeds  chat.ChangeFeed
	bus    *bus.Bus
	logger *zap.Logger
	feed   chat.Feed
	done   chan struct{}
}

// NewWatcher creates a watcher for self.
func NewWatcher(self chat.UserID, feeds chat.ChangeFeed, b *bus.Bus, logger *zap.Logger) *Watcher {
	return &Watcher{self: self, feeds: feeds, bus: b, logger: logger}
}

// Start subscribes to the inbox channel.
func (w *Watcher) Start(ctx context.Context) error {
	feed, err := w.feeds.Subscribe(ctx, chat.InboxChannel(w.self), w.self)
	if err != nil {
		return chat.Wrap(chat.KindSubscription, "roster", err)
	}
	w.feed = feed
	w.done = make(chan struct{})
	go w.loop()
	return nil
}

// Stop unsubscribes and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.feed == nil {
		return
	}
	_ = w.feed.Close()
	<-w.done
	w.feed = nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for c := range w.feed.Changes() {
		w.bus.Emit(bus.KindRosterChanged, c.Row.Pair().Other(w.self))
	}
	if err := w.feed.Err(); err != nil {
		w.logger.Warn("roster feed dropped", zap.Error(err))
		w.bus.Emit(bus.KindNoticeError, bus.Notice{Text: "Roster updates paused", Err: err})
	}
}
