package store

import (
	"database/sql"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
)

// MessageRow is a row of the messages table. Timestamps are Unix milliseconds.
type MessageRow struct {
	ID           string         `db:"id"`
	SenderID     string         `db:"sender_id"`
	RecipientID  string         `db:"recipient_id"`
	Body         string         `db:"body"`
	OriginalBody sql.NullString `db:"original_body"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
	ReadAt       sql.NullInt64  `db:"read_at"`
	IsEdited     bool           `db:"is_edited"`
	IsDeleted    bool           `db:"is_deleted"`
}

// ProfileRow is a row of the profiles table.
type ProfileRow struct {
	UserID      string `db:"user_id"`
	DisplayName string `db:"display_name"`
	LastSeenAt  int64  `db:"last_seen_at"`
}

const messageColumns = `id, sender_id, recipient_id, body, original_body, created_at, updated_at, read_at, is_edited, is_deleted`

// FromMessage converts a domain message into a row.
func FromMessage(m chat.Message) MessageRow {
	r := MessageRow{
		ID:          m.ID,
		SenderID:    string(m.SenderID),
		RecipientID: string(m.RecipientID),
		Body:        m.Body,
		CreatedAt:   m.CreatedAt.UnixMilli(),
		UpdatedAt:   m.UpdatedAt.UnixMilli(),
		IsEdited:    m.IsEdited,
		IsDeleted:   m.IsDeleted,
	}
	if m.OriginalBody != nil {
		r.OriginalBody = sql.NullString{String: *m.OriginalBody, Valid: true}
	}
	if m.ReadAt != nil {
		r.ReadAt = sql.NullInt64{Int64: m.ReadAt.UnixMilli(), Valid: true}
	}
	return r
}

// Message converts the row into a domain message.
func (r MessageRow) Message() chat.Message {
	m := chat.Message{
		ID:          r.ID,
		SenderID:    chat.UserID(r.SenderID),
		RecipientID: chat.UserID(r.RecipientID),
		Body:        r.Body,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
		IsEdited:    r.IsEdited,
		IsDeleted:   r.IsDeleted,
	}
	if r.OriginalBody.Valid {
		ob := r.OriginalBody.String
		m.OriginalBody = &ob
	}
	if r.ReadAt.Valid {
		ra := fromMillis(r.ReadAt.Int64)
		m.ReadAt = &ra
	}
	return m
}

// Profile converts the row into a domain profile.
func (r ProfileRow) Profile() chat.Profile {
	p := chat.Profile{UserID: chat.UserID(r.UserID), DisplayName: r.DisplayName}
	if r.LastSeenAt > 0 {
		p.LastSeenAt = fromMillis(r.LastSeenAt)
	}
	return p
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
