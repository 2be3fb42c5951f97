package chat

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Tombstone replaces the body of an unsent message.
const Tombstone = "This message was unsent"

// UserID identifies a chat participant.
type UserID string

// Message is a single direct message between two users.
type Message struct {
	ID           string     `json:"id"`
	SenderID     UserID     `json:"sender_id"`
	RecipientID  UserID     `json:"recipient_id"`
	Body         string     `json:"body"`
	OriginalBody *string    `json:"original_body,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	IsEdited     bool       `json:"is_edited"`
	IsDeleted    bool       `json:"is_deleted"`
}

// Pair returns the conversation the message belongs to.
func (m Message) Pair() Pair {
	return NewPair(m.SenderID, m.RecipientID)
}

// Clone returns a deep copy so callers can mutate pointer fields safely.
func (m Message) Clone() Message {
	if m.OriginalBody != nil {
		ob := *m.OriginalBody
		m.OriginalBody = &ob
	}
	if m.ReadAt != nil {
		ra := *m.ReadAt
		m.ReadAt = &ra
	}
	return m
}

// Edited returns a copy of m carrying the new body. The pre-edit body is
// copied into OriginalBody only on the first edit.
func (m Message) Edited(body string, now time.Time) Message {
	next := m.Clone()
	if next.OriginalBody == nil {
		prev := m.Body
		next.OriginalBody = &prev
	}
	next.Body = body
	next.IsEdited = true
	next.UpdatedAt = now
	return next
}

// Unsent returns the soft-deleted copy of m. Neither the body nor the
// original body survive.
func (m Message) Unsent(now time.Time) Message {
	next := m.Clone()
	next.Body = Tombstone
	next.OriginalBody = nil
	next.IsDeleted = true
	next.UpdatedAt = now
	return next
}

// IsUnreadFor reports whether m is an inbound unread message for reader from sender.
func (m Message) IsUnreadFor(reader, sender UserID) bool {
	return m.RecipientID == reader && m.SenderID == sender && m.ReadAt == nil
}

// Same reports whether two snapshots of the same message carry identical
// content and state.
func (m Message) Same(o Message) bool {
	return m.ID == o.ID &&
		m.Body == o.Body &&
		m.IsEdited == o.IsEdited &&
		m.IsDeleted == o.IsDeleted &&
		m.UpdatedAt.Equal(o.UpdatedAt) &&
		equalTime(m.ReadAt, o.ReadAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Blank reports whether body has no visible content.
func Blank(body string) bool {
	return strings.TrimSpace(body) == ""
}

// Profile is the liveness row of a user.
type Profile struct {
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// TypingSignal is an ephemeral presence payload. It is never persisted.
type TypingSignal struct {
	SenderID    UserID `json:"sender_id"`
	RecipientID UserID `json:"recipient_id"`
	Typing      bool   `json:"typing"`
}

// Stamp normalizes t to the millisecond UTC precision rows are stored with.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,64}$`)

// ValidateUserID rejects ids that cannot be embedded in a channel name.
func ValidateUserID(u UserID) error {
	if !userIDPattern.MatchString(string(u)) {
		return fmt.Errorf("invalid user id %q: must match %s", u, userIDPattern)
	}
	return nil
}
