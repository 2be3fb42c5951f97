package readstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type markerMock struct {
	mock.Mock
}

func (m *markerMock) MarkRead(ctx context.Context, reader chat.UserID, ids []string, at time.Time) error {
	args := m.Called(ctx, reader, ids, at)
	return args.Error(0)
}

func (m *markerMock) UnreadCounts(ctx context.Context, reader chat.UserID) (map[chat.UserID]int, error) {
	args := m.Called(ctx, reader)
	counts, _ := args.Get(0).(map[chat.UserID]int)
	return counts, args.Error(1)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seeded() *timeline.Store {
	s := timeline.New()
	for i, id := range []string{"a1", "a2", "a3"} {
		s.Append(chat.Message{
			ID: id, SenderID: "alice", RecipientID: "bob", Body: "hi",
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}, chat.Confirmed{})
	}
	s.Append(chat.Message{ID: "b1", SenderID: "bob", RecipientID: "alice", Body: "yo", CreatedAt: t0.Add(time.Minute)}, chat.Confirmed{})
	return s
}

func TestMarkConversationReadBatchesAndIsIdempotent(t *testing.T) {
	store := seeded()
	remote := new(markerMock)
	now := t0.Add(time.Hour)
	remote.On("MarkRead", mock.Anything, chat.UserID("bob"), []string{"a1", "a2", "a3"}, now).Return(nil).Once()

	tr := New("bob", "alice", store, remote, func() time.Time { return now }, zap.NewNop())

	n, err := tr.MarkConversationRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, tr.Unread())

	n, err = tr.MarkConversationRead(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	remote.AssertExpectations(t)
	e, _ := store.Get("b1")
	assert.Nil(t, e.ReadAt, "own outbound messages are never marked by the sender")
}

func TestMarkConversationReadRevertsOnFailure(t *testing.T) {
	store := seeded()
	remote := new(markerMock)
	remote.On("MarkRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("boom"))

	tr := New("bob", "alice", store, remote, func() time.Time { return t0 }, zap.NewNop())

	_, err := tr.MarkConversationRead(context.Background())
	require.Error(t, err)
	assert.Equal(t, chat.KindTransport, chat.KindOf(err))
	assert.Equal(t, 3, tr.Unread())
}

func TestMarkReadSingleInbound(t *testing.T) {
	store := seeded()
	remote := new(markerMock)
	remote.On("MarkRead", mock.Anything, chat.UserID("bob"), []string{"a2"}, t0).Return(nil).Once()

	tr := New("bob", "alice", store, remote, func() time.Time { return t0 }, zap.NewNop())
	require.NoError(t, tr.MarkRead(context.Background(), "a2"))
	require.NoError(t, tr.MarkRead(context.Background(), "a2"))
	require.NoError(t, tr.MarkRead(context.Background(), "b1"))

	assert.Equal(t, 2, tr.Unread())
	remote.AssertExpectations(t)
}
