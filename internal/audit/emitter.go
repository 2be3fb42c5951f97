package audit

import (
	"context"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/metrics"
	"go.uber.org/zap"
)

// Routing keys.
const (
	MessageCreated = "message.created"
	MessageEdited  = "message.edited"
	MessageUnsent  = "message.unsent"
	MessageRead    = "message.read"
	MessageDeleted = "message.deleted"
)

// Event is the audit envelope for one message lifecycle step.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	Service       string    `json:"service"`
	Actor         string    `json:"actor"`
	MessageID     string    `json:"message_id"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id"`
}

// Emitter turns message changes into audit events. A nil Emitter does nothing.
type Emitter struct {
	publisher Publisher
	service   string
	logger    *zap.Logger
}

func NewEmitter(publisher Publisher, service string, logger *zap.Logger) *Emitter {
	return &Emitter{publisher: publisher, service: service, logger: logger}
}

// Emit publishes one event per message. Failures are logged and counted, never returned.
func (e *Emitter) Emit(ctx context.Context, kind string, actor chat.UserID, msgs ...chat.Message) {
	if e == nil || e.publisher == nil {
		return
	}
	now := time.Now().UTC()
	for _, m := range msgs {
		ev := Event{
			SchemaVersion: 1,
			EventType:     kind,
			OccurredAt:    now,
			Service:       e.service,
			Actor:         string(actor),
			MessageID:     m.ID,
			SenderID:      string(m.SenderID),
			RecipientID:   string(m.RecipientID),
		}
		if err := e.publisher.Publish(ctx, kind, ev); err != nil {
			metrics.IncAuditPublishError()
			e.logger.Warn("audit publish failed", zap.String("event", kind), zap.String("message_id", m.ID), zap.Error(err))
		}
	}
}
