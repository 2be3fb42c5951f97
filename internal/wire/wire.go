// Package wire holds the JSON shapes exchanged between the hub and its clients.
package wire

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/shopchat/internal/chat"
)

// UserHeader carries the caller identity on every hub request.
const UserHeader = "X-User-ID"

// RequestIDHeader correlates a request across logs.
const RequestIDHeader = "X-Request-ID"

// AdminHeader carries the admin token.
const AdminHeader = "X-Admin-Token"

// FrameType tags a websocket frame.
type FrameType string

const (
	FrameAck          FrameType = "ack"
	FrameInserted     FrameType = "inserted"
	FrameUpdated      FrameType = "updated"
	FrameDeleted      FrameType = "deleted"
	FrameTyping       FrameType = "typing"
	FramePresenceSync FrameType = "presence_sync"
	FrameError        FrameType = "error"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type    FrameType          `json:"type"`
	Channel string             `json:"channel,omitempty"`
	Row     *chat.Message      `json:"row,omitempty"`
	Typing  *chat.TypingSignal `json:"typing,omitempty"`
	Members []chat.UserID      `json:"members,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ChangeFrame converts a row change into its frame.
func ChangeFrame(c chat.Change) Frame {
	row := c.Row
	return Frame{Type: FrameType(c.Kind), Row: &row}
}

// Change converts a change frame back. ok is false for other frame types.
func (f Frame) Change() (chat.Change, bool) {
	switch f.Type {
	case FrameInserted, FrameUpdated, FrameDeleted:
		if f.Row == nil {
			return chat.Change{}, false
		}
		return chat.Change{Kind: chat.ChangeKind(f.Type), Row: *f.Row}, true
	}
	return chat.Change{}, false
}

// UpdateRequest is the body of PUT /v1/messages/:id.
type UpdateRequest struct {
	Body    string `json:"body"`
	Deleted bool   `json:"deleted"`
}

// ReadRequest is the body of POST /v1/messages/read.
type ReadRequest struct {
	IDs []string  `json:"ids"`
	At  time.Time `json:"at"`
}

// HeartbeatRequest is the body of POST /v1/profiles/heartbeat.
type HeartbeatRequest struct {
	At          time.Time `json:"at"`
	DisplayName string    `json:"display_name,omitempty"`
}

// ErrorBody is every non-2xx response body.
type ErrorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ErrRateLimited is returned when the hub throttles the caller.
var ErrRateLimited = errors.New("too many requests")

var codes = []struct {
	code   string
	status int
	err    error
}{
	{"empty_body", http.StatusBadRequest, chat.ErrEmptyBody},
	{"invalid_message", http.StatusBadRequest, chat.ErrInvalidMessage},
	{"edit_window_closed", http.StatusUnprocessableEntity, chat.ErrEditWindowClosed},
	{"not_sender", http.StatusForbidden, chat.ErrNotSender},
	{"not_member", http.StatusForbidden, chat.ErrNotMember},
	{"not_found", http.StatusNotFound, chat.ErrMessageNotFound},
	{"message_deleted", http.StatusConflict, chat.ErrMessageDeleted},
	{"id_taken", http.StatusConflict, chat.ErrIDTaken},
	{"rate_limited", http.StatusTooManyRequests, ErrRateLimited},
}

// Encode maps err to its code and HTTP status.
func Encode(err error) (int, ErrorBody) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status, ErrorBody{Code: c.code, Error: err.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorBody{Code: "internal", Error: err.Error()}
}

// Decode turns an error response back into an error wrapping the matching sentinel.
func Decode(status int, body ErrorBody) error {
	for _, c := range codes {
		if c.code == body.Code {
			return c.err
		}
	}
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}
	return fmt.Errorf("hub returned %d: %s", status, body.Error)
}
