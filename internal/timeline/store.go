// Package timeline holds the ordered in-memory messages of one open conversation.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
)

// Entry is a stored message with its reconciliation state.
type Entry struct {
	chat.Message
	Delivery chat.Delivery
	seq      uint64
}

// EchoMatcher decides whether a remote row with an unknown id is the echo of
// a pending local entry.
type EchoMatcher func(pending, remote chat.Message) bool

// ContentProximity matches echoes with the same sender, recipient and body
// whose creation times are at most window apart.
func ContentProximity(window time.Duration) EchoMatcher {
	return func(pending, remote chat.Message) bool {
		if pending.SenderID != remote.SenderID || pending.RecipientID != remote.RecipientID || pending.Body != remote.Body {
			return false
		}
		d := pending.CreatedAt.Sub(remote.CreatedAt)
		if d < 0 {
			d = -d
		}
		return d <= window
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for read stamps and confirmations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEchoMatcher merges remote rows whose id differs from the local
// optimistic id. Without it, reconciliation is by id only.
func WithEchoMatcher(m EchoMatcher) Option {
	return func(s *Store) { s.match = m }
}

// Store is the ordered, id-deduplicated message collection of a conversation.
// Entries are sorted by CreatedAt, ties broken by insertion order.
type Store struct {
	mu      sync.Mutex
	entries []*Entry
	byID    map[string]*Entry
	nextSeq uint64
	now     func() time.Time
	match   EchoMatcher
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		byID: make(map[string]*Entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append inserts m in creation order. It is a no-op returning false when an
// entry with the same id already exists.
func (s *Store) Append(m chat.Message, d chat.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	s.insert(m, d)
	return true
}

// ApplyRemoteUpsert replaces the entry with m's id, or inserts m if absent.
// The remote row wins and the entry becomes Confirmed, unless the row is
// older than a pending local edit or unsend.
func (s *Store) ApplyRemoteUpsert(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	confirmed := chat.Confirmed{At: s.now()}
	if e, ok := s.byID[m.ID]; ok {
		if stale(e, m) {
			return
		}
		s.replace(e, m, confirmed)
		return
	}
	if s.match != nil {
		for _, e := range s.entries {
			if chat.IsPending(e.Delivery) && s.match(e.Message, m) {
				delete(s.byID, e.ID)
				s.byID[m.ID] = e
				s.replace(e, m, confirmed)
				return
			}
		}
	}
	s.insert(m, confirmed)
}

// stale reports whether m is no newer than the version a pending local edit
// or unsend of e started from. Both stamps come from the remote, so the
// local clock never decides.
func stale(e *Entry, m chat.Message) bool {
	p, ok := e.Delivery.(chat.LocalPending)
	return ok && p.Op != chat.OpSend && !m.UpdatedAt.After(p.Base)
}

// RemoveLocalOptimistic drops the entry with id if it is still pending
// local confirmation. An entry the remote already confirmed is kept.
func (s *Store) RemoveLocalOptimistic(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || !chat.IsPending(e.Delivery) {
		return false
	}
	s.remove(e)
	return true
}

// Remove drops the entry with id regardless of its state.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	s.remove(e)
	return true
}

// MarkRead stamps ReadAt on the listed entries that are still unread and
// returns how many changed.
func (s *Store) MarkRead(ids []string, at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		e, ok := s.byID[id]
		if !ok || e.ReadAt != nil {
			continue
		}
		ts := at
		e.ReadAt = &ts
		n++
	}
	return n
}

// MarkUnreadFrom stamps every unread message from sender to reader in one
// step and returns the affected ids.
func (s *Store) MarkUnreadFrom(reader, sender chat.UserID, at time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, e := range s.entries {
		if e.IsUnreadFor(reader, sender) {
			ts := at
			e.ReadAt = &ts
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// UnmarkRead clears ReadAt on entries still carrying exactly the stamp at.
// Entries since stamped by the remote are left alone.
func (s *Store) UnmarkRead(ids []string, at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		e, ok := s.byID[id]
		if !ok || e.ReadAt == nil || !e.ReadAt.Equal(at) {
			continue
		}
		if _, remote := e.Delivery.(chat.Confirmed); remote && e.confirmedAfter(at) {
			continue
		}
		e.ReadAt = nil
		n++
	}
	return n
}

// Put overwrites an existing entry with a local version of the message.
func (s *Store) Put(m chat.Message, d chat.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[m.ID]
	if !ok {
		return false
	}
	s.replace(e, m, d)
	return true
}

// Rollback restores prev if the entry still holds the optimistic version
// expect. A newer remote version is never overwritten.
func (s *Store) Rollback(prev, expect chat.Message, d chat.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[prev.ID]
	if !ok || !e.Same(expect) || !chat.IsPending(e.Delivery) {
		return false
	}
	s.replace(e, prev, d)
	return true
}

// Confirm marks a pending entry as confirmed without touching its content.
func (s *Store) Confirm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || !chat.IsPending(e.Delivery) {
		return false
	}
	e.Delivery = chat.Confirmed{At: s.now()}
	return true
}

// Resolve settles the entry with m's id using the row the remote returned
// for a local mutation. A pending entry takes m. A confirmed entry takes m
// unless it already holds a newer remote version.
func (s *Store) Resolve(m chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[m.ID]
	if !ok {
		return false
	}
	if !chat.IsPending(e.Delivery) && e.UpdatedAt.After(m.UpdatedAt) {
		return false
	}
	s.replace(e, m, chat.Confirmed{At: s.now()})
	return true
}

// Get returns a copy of the entry with id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

// Snapshot returns copies of all entries in order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.copy()
	}
	return out
}

// Messages returns the ordered messages without delivery state.
func (s *Store) Messages() []chat.Message {
	snap := s.Snapshot()
	out := make([]chat.Message, len(snap))
	for i, e := range snap {
		out[i] = e.Message
	}
	return out
}

// UnreadCount counts unread messages from sender to reader.
func (s *Store) UnreadCount(reader, sender chat.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.IsUnreadFor(reader, sender) {
			n++
		}
	}
	return n
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) insert(m chat.Message, d chat.Delivery) {
	e := &Entry{Message: m.Clone(), Delivery: d, seq: s.nextSeq}
	s.nextSeq++
	i := sort.Search(len(s.entries), func(i int) bool { return e.before(s.entries[i]) })
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.byID[m.ID] = e
}

func (s *Store) replace(e *Entry, m chat.Message, d chat.Delivery) {
	moved := !e.CreatedAt.Equal(m.CreatedAt)
	e.Message = m.Clone()
	e.Delivery = d
	if moved {
		sort.SliceStable(s.entries, func(i, j int) bool { return s.entries[i].before(s.entries[j]) })
	}
}

func (s *Store) remove(e *Entry) {
	delete(s.byID, e.ID)
	for i, x := range s.entries {
		if x == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (e *Entry) before(o *Entry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.seq < o.seq
}

func (e *Entry) confirmedAfter(t time.Time) bool {
	c, ok := e.Delivery.(chat.Confirmed)
	return ok && c.At.After(t)
}

func (e *Entry) copy() Entry {
	return Entry{Message: e.Message.Clone(), Delivery: e.Delivery, seq: e.seq}
}
