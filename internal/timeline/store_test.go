package timeline

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, at time.Duration, body string) chat.Message {
	return chat.Message{
		ID:          id,
		SenderID:    "alice",
		RecipientID: "bob",
		Body:        body,
		CreatedAt:   t0.Add(at),
		UpdatedAt:   t0.Add(at),
	}
}

func ids(s *Store) []string {
	var out []string
	for _, m := range s.Messages() {
		out = append(out, m.ID)
	}
	return out
}

func TestAppendIsIdempotent(t *testing.T) {
	s := New()
	require.True(t, s.Append(msg("m1", 0, "hello"), chat.LocalPending{Op: chat.OpSend}))
	assert.False(t, s.Append(msg("m1", 0, "hello again"), chat.Confirmed{}))

	got, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "hello", got.Body)
	assert.Equal(t, 1, s.Len())
}

func TestOrderingByCreatedAtThenInsertion(t *testing.T) {
	s := New()
	s.Append(msg("late", 2*time.Second, "c"), chat.Confirmed{})
	s.Append(msg("tie-1", time.Second, "a"), chat.Confirmed{})
	s.Append(msg("early", 0, "x"), chat.Confirmed{})
	s.Append(msg("tie-2", time.Second, "b"), chat.Confirmed{})

	assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, ids(s))
}

func TestOptimisticSendThenEchoLeavesOneMessage(t *testing.T) {
	s := New()
	local := msg("m1", 0, "hello")
	s.Append(local, chat.LocalPending{Op: chat.OpSend})

	echo := local
	echo.UpdatedAt = t0.Add(time.Millisecond)
	s.ApplyRemoteUpsert(echo)

	require.Equal(t, 1, s.Len())
	e, _ := s.Get("m1")
	assert.Equal(t, "hello", e.Body)
	assert.IsType(t, chat.Confirmed{}, e.Delivery)
}

func TestEchoBeforeOptimisticAppend(t *testing.T) {
	s := New()
	s.ApplyRemoteUpsert(msg("m1", 0, "hello"))
	assert.False(t, s.Append(msg("m1", 0, "hello"), chat.LocalPending{Op: chat.OpSend}))

	e, _ := s.Get("m1")
	assert.IsType(t, chat.Confirmed{}, e.Delivery)
}

func TestApplyRemoteUpsertReplacesWholeRow(t *testing.T) {
	s := New()
	s.Append(msg("m1", 0, "draft"), chat.Confirmed{})

	remote := msg("m1", 0, "draft").Unsent(t0.Add(time.Minute))
	s.ApplyRemoteUpsert(remote)

	e, _ := s.Get("m1")
	assert.True(t, e.IsDeleted)
	assert.Equal(t, chat.Tombstone, e.Body)
}

func TestRemoveLocalOptimisticOnlyDropsPending(t *testing.T) {
	s := New()
	s.Append(msg("pending", 0, "a"), chat.LocalPending{Op: chat.OpSend})
	s.Append(msg("confirmed", time.Second, "b"), chat.LocalPending{Op: chat.OpSend})
	s.ApplyRemoteUpsert(msg("confirmed", time.Second, "b"))

	assert.True(t, s.RemoveLocalOptimistic("pending"))
	assert.False(t, s.RemoveLocalOptimistic("confirmed"))
	assert.False(t, s.RemoveLocalOptimistic("missing"))
	assert.Equal(t, []string{"confirmed"}, ids(s))
}

func TestMarkReadOnlyStampsUnread(t *testing.T) {
	s := New()
	s.Append(msg("m1", 0, "a"), chat.Confirmed{})
	s.Append(msg("m2", time.Second, "b"), chat.Confirmed{})

	first := t0.Add(time.Hour)
	assert.Equal(t, 2, s.MarkRead([]string{"m1", "m2", "nope"}, first))
	assert.Equal(t, 0, s.MarkRead([]string{"m1", "m2"}, first.Add(time.Hour)))

	e, _ := s.Get("m2")
	require.NotNil(t, e.ReadAt)
	assert.True(t, e.ReadAt.Equal(first), "readAt is never moved once set")
}

func TestMarkUnreadFromAndUnmark(t *testing.T) {
	s := New()
	in := msg("in", 0, "hey")
	out := msg("out", time.Second, "yo")
	out.SenderID, out.RecipientID = "bob", "alice"
	s.Append(in, chat.Confirmed{})
	s.Append(out, chat.Confirmed{})

	at := t0.Add(time.Minute)
	marked := s.MarkUnreadFrom("bob", "alice", at)
	assert.Equal(t, []string{"in"}, marked)
	assert.Equal(t, 0, s.UnreadCount("bob", "alice"))
	assert.Empty(t, s.MarkUnreadFrom("bob", "alice", at))

	assert.Equal(t, 1, s.UnmarkRead(marked, at))
	assert.Equal(t, 1, s.UnreadCount("bob", "alice"))
}

func TestRollbackYieldsToNewerRemote(t *testing.T) {
	s := New()
	orig := msg("m1", 0, "Hi")
	s.Append(orig, chat.Confirmed{})

	edited := orig.Edited("Hi there", t0.Add(time.Minute))
	require.True(t, s.Put(edited, chat.LocalPending{Op: chat.OpEdit, Base: orig.UpdatedAt}))
	require.True(t, s.Rollback(orig, edited, chat.Failed{Op: chat.OpEdit}))
	e, _ := s.Get("m1")
	assert.Equal(t, "Hi", e.Body)
	assert.IsType(t, chat.Failed{}, e.Delivery)

	require.True(t, s.Put(edited, chat.LocalPending{Op: chat.OpEdit, Base: orig.UpdatedAt}))
	s.ApplyRemoteUpsert(orig.Unsent(t0.Add(2 * time.Minute)))
	assert.False(t, s.Rollback(orig, edited, chat.Failed{Op: chat.OpEdit}))
	e, _ = s.Get("m1")
	assert.True(t, e.IsDeleted)
}

func TestEchoMatcherMergesDivergentIDs(t *testing.T) {
	s := New(WithEchoMatcher(ContentProximity(2 * time.Second)))
	s.Append(msg("client-id", 0, "hello"), chat.LocalPending{Op: chat.OpSend})

	s.ApplyRemoteUpsert(msg("server-id", time.Second, "hello"))

	assert.Equal(t, []string{"server-id"}, ids(s))
	_, ok := s.Get("client-id")
	assert.False(t, ok)

	s.ApplyRemoteUpsert(msg("other", 10*time.Second, "hello"))
	assert.Equal(t, 2, s.Len())
}

func TestRandomSequencesStaySortedAndUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		s := New()
		for i := 0; i < 200; i++ {
			m := msg(fmt.Sprintf("m%d", rng.Intn(60)), time.Duration(rng.Intn(30))*time.Second, "x")
			if rng.Intn(2) == 0 {
				s.Append(m, chat.LocalPending{Op: chat.OpSend})
			} else {
				s.ApplyRemoteUpsert(m)
			}
		}

		seen := make(map[string]bool)
		snap := s.Snapshot()
		for i, e := range snap {
			require.False(t, seen[e.ID], "duplicate id %s", e.ID)
			seen[e.ID] = true
			if i > 0 {
				require.False(t, e.CreatedAt.Before(snap[i-1].CreatedAt), "out of order at %d", i)
			}
		}
	}
}

func TestOlderEchoDoesNotClobberPendingEdit(t *testing.T) {
	s := New()
	orig := msg("m1", 0, "helo")
	s.Append(orig, chat.Confirmed{})

	edited := orig.Edited("hello", t0.Add(time.Minute))
	require.True(t, s.Put(edited, chat.LocalPending{Op: chat.OpEdit, Base: orig.UpdatedAt}))

	s.ApplyRemoteUpsert(orig)
	e, _ := s.Get("m1")
	assert.Equal(t, "hello", e.Body)
	assert.True(t, chat.IsPending(e.Delivery))

	s.ApplyRemoteUpsert(edited)
	e, _ = s.Get("m1")
	assert.Equal(t, "hello", e.Body)
	assert.IsType(t, chat.Confirmed{}, e.Delivery)
}

func TestPendingEditComparesRemoteVersions(t *testing.T) {
	s := New()
	orig := msg("m1", 0, "Hi")
	s.Append(orig, chat.Confirmed{})

	// The local clock runs well ahead of the remote one.
	edited := orig.Edited("Hi there", t0.Add(time.Hour))
	require.True(t, s.Put(edited, chat.LocalPending{Op: chat.OpEdit, Base: orig.UpdatedAt}))

	read := orig.Clone()
	readAt := t0.Add(time.Second)
	read.ReadAt = &readAt
	read.UpdatedAt = readAt
	s.ApplyRemoteUpsert(read)

	e, _ := s.Get("m1")
	assert.NotNil(t, e.ReadAt, "a read receipt newer than the base version is applied")
	assert.IsType(t, chat.Confirmed{}, e.Delivery)

	echo := orig.Edited("Hi there", t0.Add(2*time.Second))
	echo.ReadAt = &readAt
	require.True(t, s.Resolve(echo))
	e, _ = s.Get("m1")
	assert.Equal(t, "Hi there", e.Body)
	assert.NotNil(t, e.ReadAt)
}

func TestResolveKeepsNewerRemoteVersion(t *testing.T) {
	s := New()
	orig := msg("m1", 0, "Hi")
	s.Append(orig, chat.LocalPending{Op: chat.OpSend})

	acked := orig.Clone()
	acked.UpdatedAt = t0.Add(time.Second)
	newer := acked.Unsent(t0.Add(2 * time.Second))
	s.ApplyRemoteUpsert(newer)

	assert.False(t, s.Resolve(acked))
	e, _ := s.Get("m1")
	assert.True(t, e.IsDeleted)

	assert.False(t, s.Resolve(msg("gone", 0, "x")))
}
