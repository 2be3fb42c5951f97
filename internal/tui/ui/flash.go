package ui

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a transient notification.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the current notification. Newer messages replace older ones.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
}

// NewFlashModel creates a flash model using now as its clock; nil uses time.Now.
func NewFlashModel(now func() time.Time) *FlashModel {
	if now == nil {
		now = time.Now
	}
	return &FlashModel{now: now}
}

// Info shows msg for 5 seconds.
func (f *FlashModel) Info(msg string) { f.set(msg, FlashInfo, 5*time.Second) }

// Warn shows msg for 8 seconds.
func (f *FlashModel) Warn(msg string) { f.set(msg, FlashWarn, 8*time.Second) }

// Err shows msg for 10 seconds.
func (f *FlashModel) Err(msg string) { f.set(msg, FlashErr, 10*time.Second) }

func (f *FlashModel) set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	f.current = FlashMessage{Text: msg, Level: level, Expires: f.now().Add(d)}
	f.mu.Unlock()
}

// Current returns the live message, or nil once it expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}
