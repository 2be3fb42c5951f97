package chat

import (
	"context"
	"time"
)

// ChangeKind is the class of a row change event.
type ChangeKind string

const (
	RowInserted ChangeKind = "inserted"
	RowUpdated  ChangeKind = "updated"
	RowDeleted  ChangeKind = "deleted"
)

// Change is a single row event delivered on a change feed.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Row  Message    `json:"row"`
}

// MessageRows is the row mutation and query API of the remote store.
type MessageRows interface {
	// CreateMessage persists m keeping its client id.
	CreateMessage(ctx context.Context, m Message) (Message, error)
	// UpdateMessage persists an edit or unsend of an existing row.
	UpdateMessage(ctx context.Context, m Message) (Message, error)
	// MarkRead sets read_at on the reader's unread inbound rows among ids.
	MarkRead(ctx context.Context, reader UserID, ids []string, at time.Time) error
	// ListConversation returns up to limit of the most recent messages of p, oldest first.
	ListConversation(ctx context.Context, p Pair, limit int) ([]Message, error)
	// UnreadCounts returns reader's unread inbound message count per sender.
	UnreadCounts(ctx context.Context, reader UserID) (map[UserID]int, error)
}

// Feed is an established change-event subscription.
type Feed interface {
	// Changes is closed when the feed ends.
	Changes() <-chan Change
	// Err explains why Changes was closed. It is nil after Close.
	Err() error
	Close() error
}

// ChangeFeed opens change-event subscriptions. Subscribe returns once the
// remote acknowledged the subscription.
type ChangeFeed interface {
	Subscribe(ctx context.Context, channel string, viewer UserID) (Feed, error)
}

// PresenceChannel is a joined presence channel.
type PresenceChannel interface {
	Broadcast(ctx context.Context, sig TypingSignal) error
	// Signals delivers typing payloads from other members. Closed when the channel ends.
	Signals() <-chan TypingSignal
	// Members returns who is currently attending the channel.
	Members() []UserID
	Close() error
}

// PresenceHub joins presence channels.
type PresenceHub interface {
	JoinPresence(ctx context.Context, channel string, self UserID) (PresenceChannel, error)
}

// Profiles exposes the liveness field of user profiles.
type Profiles interface {
	ListProfiles(ctx context.Context) ([]Profile, error)
	Heartbeat(ctx context.Context, self UserID, at time.Time) error
}

// Backend is the full remote collaborator contract.
type Backend interface {
	MessageRows
	ChangeFeed
	PresenceHub
	Profiles
}
