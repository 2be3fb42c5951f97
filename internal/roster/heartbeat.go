package roster

import (
	"context"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"go.uber.org/zap"
)

// DefaultHeartbeatInterval is how often a connected client refreshes its liveness.
const DefaultHeartbeatInterval = 60 * time.Second

// Beater updates a user's liveness timestamp.
type Beater interface {
	Heartbeat(ctx context.Context, self chat.UserID, at time.Time) error
}

// Heartbeat periodically refreshes self's lastSeenAt.
type Heartbeat struct {
	self     chat.UserID
	beater   Beater
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHeartbeat creates a heartbeat. A zero interval uses DefaultHeartbeatInterval.
func NewHeartbeat(self chat.UserID, beater Beater, interval time.Duration, logger *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		self:     self,
		beater:   beater,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Start beats once immediately and then on every interval.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.loop(ctx)
}

// Stop stops the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ticker.C:
			h.beat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.beater.Heartbeat(ctx, h.self, h.now()); err != nil && ctx.Err() == nil {
		h.logger.Warn("heartbeat failed", zap.Error(err))
	}
}
