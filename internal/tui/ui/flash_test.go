package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlashExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFlashModel(func() time.Time { return now })
	assert.Nil(t, f.Current())

	f.Err("Failed to update message, please try again")
	m := f.Current()
	require.NotNil(t, m)
	assert.Equal(t, FlashErr, m.Level)

	now = now.Add(9 * time.Second)
	assert.NotNil(t, f.Current())
	now = now.Add(time.Second)
	assert.Nil(t, f.Current())
}

func TestFlashNewerReplaces(t *testing.T) {
	f := NewFlashModel(nil)
	f.Err("boom")
	f.Info("sent")
	m := f.Current()
	require.NotNil(t, m)
	assert.Equal(t, "sent", m.Text)
	assert.Equal(t, FlashInfo, m.Level)
}

func TestPagesStack(t *testing.T) {
	p := NewPages()
	var seen []string
	p.SetOnChange(func(stack []string) { seen = stack })

	p.Reset("roster")
	p.Push("thread")
	p.Push("thread")
	assert.Equal(t, []string{"roster", "thread"}, p.Stack())
	assert.Equal(t, "thread", p.Current())

	assert.Equal(t, "thread", p.Pop())
	assert.Equal(t, "", p.Pop())
	assert.Equal(t, []string{"roster"}, seen)
}
