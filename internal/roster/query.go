// Package roster lists chat counterparts with unread and online metadata.
package roster

import (
	"context"
	"sort"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
)

// DefaultOnlineThreshold is how recent a heartbeat must be to count as online.
const DefaultOnlineThreshold = 5 * time.Minute

// Entry is one counterpart in the roster.
type Entry struct {
	UserID      chat.UserID `json:"user_id"`
	DisplayName string      `json:"display_name"`
	UnreadCount int         `json:"unread_count"`
	IsOnline    bool        `json:"is_online"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
}

// Source is the remote data the roster is derived from.
type Source interface {
	ListProfiles(ctx context.Context) ([]chat.Profile, error)
	UnreadCounts(ctx context.Context, reader chat.UserID) (map[chat.UserID]int, error)
}

// Query computes the roster of self.
type Query struct {
	self      chat.UserID
	source    Source
	threshold time.Duration
	now       func() time.Time
}

// NewQuery creates a roster query. A zero threshold uses DefaultOnlineThreshold.
func NewQuery(self chat.UserID, source Source, threshold time.Duration, now func() time.Time) *Query {
	if threshold <= 0 {
		threshold = DefaultOnlineThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Query{self: self, source: source, threshold: threshold, now: now}
}

// Fetch lists every other user. Entries with unread messages come first,
// then online users, then by name.
func (q *Query) Fetch(ctx context.Context) ([]Entry, error) {
	profiles, err := q.source.ListProfiles(ctx)
	if err != nil {
		return nil, chat.Wrap(chat.KindTransport, "roster", err)
	}
	unread, err := q.source.UnreadCounts(ctx, q.self)
	if err != nil {
		return nil, chat.Wrap(chat.KindTransport, "roster", err)
	}

	now := q.now()
	entries := make([]Entry, 0, len(profiles))
	for _, p := range profiles {
		if p.UserID == q.self {
			continue
		}
		entries = append(entries, Entry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			UnreadCount: unread[p.UserID],
			IsOnline:    IsOnline(p.LastSeenAt, now, q.threshold),
			LastSeenAt:  p.LastSeenAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.UnreadCount > 0) != (b.UnreadCount > 0) {
			return a.UnreadCount > 0
		}
		if a.IsOnline != b.IsOnline {
			return a.IsOnline
		}
		return a.Name() < b.Name()
	})
	return entries, nil
}

// Name returns the display name, falling back to the user id.
func (e Entry) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return string(e.UserID)
}

// IsOnline reports whether lastSeen lies within threshold of now.
func IsOnline(lastSeen, now time.Time, threshold time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= threshold
}
