// Package backend is the server side of the chat remote contract: rows in
// SQL, change and presence fanout through the realtime broker.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/shopchat/internal/audit"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/realtime"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Service.
type Option func(*Service)

// WithClock sets the server time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEditWindow makes UpdateMessage refuse edits older than chat.EditWindow.
func WithEditWindow(enforce bool) Option {
	return func(s *Service) { s.enforceWindow = enforce }
}

// WithAudit sets the lifecycle event emitter.
func WithAudit(e *audit.Emitter) Option {
	return func(s *Service) { s.audit = e }
}

// Service implements chat.Backend.
type Service struct {
	db            *store.DB
	broker        *realtime.Broker
	audit         *audit.Emitter
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
	enforceWindow bool
}

var _ chat.Backend = (*Service)(nil)

func New(db *store.DB, broker *realtime.Broker, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:     db,
		broker: broker,
		logger: logger,
		tracer: tracing.Tracer("backend"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return chat.Stamp(s.now())
}

// CreateMessage stores m under its client id. Repeating a create returns the
// stored row without publishing again.
func (s *Service) CreateMessage(ctx context.Context, m chat.Message) (_ chat.Message, err error) {
	ctx, span := s.tracer.Start(ctx, "backend.CreateMessage", trace.WithAttributes(
		attribute.String("message.id", m.ID), attribute.String("message.sender", string(m.SenderID))))
	defer func() { endSpan(span, err) }()

	switch {
	case m.ID == "" || m.SenderID == "" || m.RecipientID == "":
		return chat.Message{}, chat.ErrInvalidMessage
	case m.SenderID == m.RecipientID:
		return chat.Message{}, fmt.Errorf("%w: sender and recipient are the same user", chat.ErrInvalidMessage)
	case chat.Blank(m.Body):
		return chat.Message{}, chat.ErrEmptyBody
	}

	now := s.clock()
	row := chat.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Body:        m.Body,
		CreatedAt:   chat.Stamp(m.CreatedAt),
		UpdatedAt:   now,
	}
	if m.CreatedAt.IsZero() {
		row.CreatedAt = now
	}

	inserted, err := s.db.InsertMessage(ctx, store.FromMessage(row))
	if err != nil {
		return chat.Message{}, err
	}
	if !inserted {
		existing, err := s.get(ctx, m.ID)
		if err != nil {
			return chat.Message{}, err
		}
		if existing.SenderID != m.SenderID || existing.RecipientID != m.RecipientID {
			return chat.Message{}, chat.ErrIDTaken
		}
		return existing, nil
	}

	s.publish(chat.Change{Kind: chat.RowInserted, Row: row})
	s.audit.Emit(ctx, audit.MessageCreated, row.SenderID, row)
	return row, nil
}

// UpdateMessage applies an edit, or an unsend when m.IsDeleted is set. The
// derived columns are recomputed from the stored row, not taken from m.
func (s *Service) UpdateMessage(ctx context.Context, m chat.Message) (_ chat.Message, err error) {
	ctx, span := s.tracer.Start(ctx, "backend.UpdateMessage", trace.WithAttributes(
		attribute.String("message.id", m.ID), attribute.Bool("message.unsend", m.IsDeleted)))
	defer func() { endSpan(span, err) }()

	existing, err := s.get(ctx, m.ID)
	if err != nil {
		return chat.Message{}, err
	}
	if existing.SenderID != m.SenderID {
		return chat.Message{}, chat.ErrNotSender
	}
	if existing.IsDeleted {
		return chat.Message{}, chat.ErrMessageDeleted
	}

	now := s.clock()
	var next chat.Message
	event := audit.MessageEdited
	switch {
	case m.IsDeleted:
		next = existing.Unsent(now)
		event = audit.MessageUnsent
	case chat.Blank(m.Body):
		return chat.Message{}, chat.ErrEmptyBody
	case s.enforceWindow && !chat.CanEdit(existing, now):
		return chat.Message{}, chat.ErrEditWindowClosed
	case m.Body == existing.Body:
		return existing, nil
	default:
		next = existing.Edited(m.Body, now)
	}

	stored, err := s.db.UpdateMessage(ctx, store.FromMessage(next))
	if err != nil {
		return chat.Message{}, err
	}
	if stored == nil {
		// Unsent or removed since it was read above.
		if _, err := s.get(ctx, m.ID); err != nil {
			return chat.Message{}, err
		}
		return chat.Message{}, chat.ErrMessageDeleted
	}
	next = stored.Message()
	s.publish(chat.Change{Kind: chat.RowUpdated, Row: next})
	s.audit.Emit(ctx, event, next.SenderID, next)
	return next, nil
}

// MarkRead stamps reader's unread inbound rows among ids.
func (s *Service) MarkRead(ctx context.Context, reader chat.UserID, ids []string, at time.Time) (err error) {
	ctx, span := s.tracer.Start(ctx, "backend.MarkRead", trace.WithAttributes(
		attribute.String("reader", string(reader)), attribute.Int("ids", len(ids))))
	defer func() { endSpan(span, err) }()

	if at.IsZero() {
		at = s.clock()
	}
	rows, err := s.db.MarkRead(ctx, string(reader), ids, chat.Stamp(at), s.clock())
	if err != nil {
		return err
	}
	msgs := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		m := r.Message()
		msgs = append(msgs, m)
		s.publish(chat.Change{Kind: chat.RowUpdated, Row: m})
	}
	s.audit.Emit(ctx, audit.MessageRead, reader, msgs...)
	return nil
}

func (s *Service) ListConversation(ctx context.Context, p chat.Pair, limit int) ([]chat.Message, error) {
	rows, err := s.db.ListConversation(ctx, string(p.A), string(p.B), limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.Message()
	}
	return msgs, nil
}

func (s *Service) UnreadCounts(ctx context.Context, reader chat.UserID) (map[chat.UserID]int, error) {
	counts, err := s.db.UnreadCounts(ctx, string(reader))
	if err != nil {
		return nil, err
	}
	out := make(map[chat.UserID]int, len(counts))
	for sender, n := range counts {
		out[chat.UserID(sender)] = n
	}
	return out, nil
}

// DeleteMessage hard deletes a row. It is an administrative operation.
func (s *Service) DeleteMessage(ctx context.Context, id string) (_ chat.Message, err error) {
	ctx, span := s.tracer.Start(ctx, "backend.DeleteMessage", trace.WithAttributes(attribute.String("message.id", id)))
	defer func() { endSpan(span, err) }()

	r, err := s.db.DeleteMessage(ctx, id)
	if err != nil {
		return chat.Message{}, err
	}
	if r == nil {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	m := r.Message()
	s.publish(chat.Change{Kind: chat.RowDeleted, Row: m})
	s.audit.Emit(ctx, audit.MessageDeleted, "admin", m)
	return m, nil
}

func (s *Service) ListProfiles(ctx context.Context) ([]chat.Profile, error) {
	rows, err := s.db.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Profile, len(rows))
	for i, r := range rows {
		out[i] = r.Profile()
	}
	return out, nil
}

func (s *Service) Heartbeat(ctx context.Context, self chat.UserID, at time.Time) error {
	if self == "" {
		return chat.ErrInvalidMessage
	}
	if at.IsZero() {
		at = s.clock()
	}
	return s.db.TouchProfile(ctx, string(self), at)
}

// SetDisplayName creates or renames a profile.
func (s *Service) SetDisplayName(ctx context.Context, user chat.UserID, name string) error {
	return s.db.UpsertProfile(ctx, string(user), name)
}

// Subscribe opens a change feed on channel for a member of it.
func (s *Service) Subscribe(_ context.Context, channel string, viewer chat.UserID) (chat.Feed, error) {
	if err := authorize(channel, viewer); err != nil {
		return nil, err
	}
	return s.broker.Subscribe(channel, viewer), nil
}

// JoinPresence joins a member of channel to its presence room.
func (s *Service) JoinPresence(_ context.Context, channel string, self chat.UserID) (chat.PresenceChannel, error) {
	if err := authorize(channel, self); err != nil {
		return nil, err
	}
	return s.broker.Join(channel, self), nil
}

func authorize(channel string, user chat.UserID) error {
	members, err := chat.ParseChannel(channel)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrNotMember, err)
	}
	for _, m := range members {
		if m == user {
			return nil
		}
	}
	return chat.ErrNotMember
}

func (s *Service) get(ctx context.Context, id string) (chat.Message, error) {
	r, err := s.db.GetMessage(ctx, id)
	if err != nil {
		return chat.Message{}, err
	}
	if r == nil {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	return r.Message(), nil
}

// publish sends c to the pair channel and to both inbox channels.
func (s *Service) publish(c chat.Change) {
	p := c.Row.Pair()
	s.broker.Publish(p.Channel(), c)
	s.broker.Publish(chat.InboxChannel(p.A), c)
	s.broker.Publish(chat.InboxChannel(p.B), c)
	s.logger.Debug("change published",
		zap.String("kind", string(c.Kind)), zap.String("id", c.Row.ID), zap.String("channel", p.Channel()))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
