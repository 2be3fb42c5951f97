package model

import (
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/timeline"
)

// Row is one rendered line of the conversation thread. N is the 1-based
// number the composer commands refer to.
type Row struct {
	N       int
	ID      string
	Sender  chat.UserID
	Mine    bool
	Body    string
	At      time.Time
	Edited  bool
	Unsent  bool
	Read    bool
	Pending bool
	Failed  bool
	Err     error
}

// Marker returns the delivery marker shown after the body.
func (r Row) Marker() string {
	switch {
	case r.Pending:
		return "…"
	case r.Failed:
		return "!"
	default:
		return ""
	}
}

// BuildRows numbers entries in display order.
func BuildRows(self chat.UserID, entries []timeline.Entry) []Row {
	rows := make([]Row, 0, len(entries))
	for i, e := range entries {
		r := Row{
			N:      i + 1,
			ID:     e.ID,
			Sender: e.SenderID,
			Mine:   e.SenderID == self,
			Body:   e.Body,
			At:     e.CreatedAt,
			Edited: e.IsEdited && !e.IsDeleted,
			Unsent: e.IsDeleted,
			Read:   e.ReadAt != nil,
		}
		switch d := e.Delivery.(type) {
		case chat.LocalPending:
			r.Pending = true
		case chat.Failed:
			r.Failed = true
			r.Err = d.Err
		}
		if r.Unsent {
			r.Body = chat.Tombstone
		}
		rows = append(rows, r)
	}
	return rows
}
