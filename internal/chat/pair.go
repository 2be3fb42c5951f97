package chat

import (
	"fmt"
	"strings"
)

// Pair is the unordered pair of participants scoping a conversation.
// A is always the lexically smaller id.
type Pair struct {
	A UserID
	B UserID
}

// NewPair canonicalizes x and y so both participants derive the same pair.
func NewPair(x, y UserID) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Channel is the change-event channel name both clients attach to.
func (p Pair) Channel() string {
	return "dm:" + string(p.A) + ":" + string(p.B)
}

// PresenceChannel is the typing/presence channel name for the pair.
func (p Pair) PresenceChannel() string {
	return "typing:" + string(p.A) + ":" + string(p.B)
}

// Has reports whether u participates in the pair.
func (p Pair) Has(u UserID) bool {
	return p.A == u || p.B == u
}

// Other returns the participant that is not self.
func (p Pair) Other(self UserID) UserID {
	if p.A == self {
		return p.B
	}
	return p.A
}

// InboxChannel carries every change touching u. Subscribers treat each
// event as a "roster changed" broadcast.
func InboxChannel(u UserID) string {
	return "inbox:" + string(u)
}

// ParseChannel resolves a pair or inbox channel name back to its members.
func ParseChannel(name string) ([]UserID, error) {
	kind, rest, ok := strings.Cut(name, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("malformed channel %q", name)
	}
	switch kind {
	case "dm", "typing":
		a, b, ok := strings.Cut(rest, ":")
		if !ok || a == "" || b == "" {
			return nil, fmt.Errorf("malformed channel %q", name)
		}
		if NewPair(UserID(a), UserID(b)) != (Pair{A: UserID(a), B: UserID(b)}) {
			return nil, fmt.Errorf("channel %q is not canonical", name)
		}
		return []UserID{UserID(a), UserID(b)}, nil
	case "inbox":
		return []UserID{UserID(rest)}, nil
	default:
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
}
