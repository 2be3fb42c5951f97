package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairIsCanonical(t *testing.T) {
	ab := NewPair("alice", "bob")
	ba := NewPair("bob", "alice")

	assert.Equal(t, ab, ba)
	assert.Equal(t, "dm:alice:bob", ab.Channel())
	assert.Equal(t, "typing:alice:bob", ba.PresenceChannel())
	assert.Equal(t, UserID("bob"), ab.Other("alice"))
	assert.Equal(t, UserID("alice"), ab.Other("bob"))
}

func TestParseChannel(t *testing.T) {
	members, err := ParseChannel(NewPair("zed", "amy").Channel())
	require.NoError(t, err)
	assert.Equal(t, []UserID{"amy", "zed"}, members)

	members, err = ParseChannel(InboxChannel("amy"))
	require.NoError(t, err)
	assert.Equal(t, []UserID{"amy"}, members)

	for _, bad := range []string{"", "dm:", "dm:zed:amy", "dm:amy", "room:1"} {
		_, err := ParseChannel(bad)
		assert.Error(t, err, bad)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(ErrEmptyBody))
	assert.Equal(t, KindConflict, KindOf(ErrMessageDeleted))
	assert.Equal(t, KindTransport, KindOf(Wrap(KindTransport, OpSend, assert.AnError)))
	assert.Nil(t, Wrap(KindTransport, OpSend, nil))
	assert.Equal(t, "Failed to update message, please try again", Notice(OpEdit, assert.AnError))
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("alice"))
	assert.NoError(t, ValidateUserID("shop.owner@acme"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("a:b"))
	assert.Error(t, ValidateUserID("with space"))
}
