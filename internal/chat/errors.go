package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBody        = errors.New("message body is empty")
	ErrEditWindowClosed = errors.New("edit window has closed")
	ErrMessageDeleted   = errors.New("message was unsent")
	ErrNotSender        = errors.New("only the sender can change a message")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNoConversation   = errors.New("no conversation is open")
	ErrStale            = errors.New("conversation changed while the call was in flight")
	ErrNotMember        = errors.New("user is not a member of the channel")
	ErrPending          = errors.New("message is still being sent")
	ErrInvalidMessage   = errors.New("message is malformed")
	ErrIDTaken          = errors.New("message id belongs to another conversation")
)

// Kind classifies a failure for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is rejected before any optimistic mutation.
	KindValidation
	// KindTransport is a failed remote call; local state was rolled back.
	KindTransport
	// KindConflict means the remote refused the change against its own state.
	KindConflict
	// KindSubscription means live updates are not flowing.
	KindSubscription
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindConflict:
		return "conflict"
	case KindSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Error carries the kind and operation of a failed chat call.
type Error struct {
	Kind Kind
	Op   Op
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error, or returns nil for a nil err.
func Wrap(kind Kind, op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Remote
// rejections recognised by sentinel are conflicts.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrEditWindowClosed), errors.Is(err, ErrNotSender), errors.Is(err, ErrPending), errors.Is(err, ErrInvalidMessage):
		return KindValidation
	case errors.Is(err, ErrMessageDeleted), errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrIDTaken), errors.Is(err, ErrNotMember):
		return KindConflict
	}
	return KindUnknown
}

// Notice is the short user-facing text for a failed operation.
func Notice(op Op, err error) string {
	switch {
	case errors.Is(err, ErrEmptyBody):
		return "Message is empty"
	case errors.Is(err, ErrEditWindowClosed):
		return "Messages can only be edited within 5 minutes"
	case errors.Is(err, ErrMessageDeleted):
		return "That message was unsent"
	case errors.Is(err, ErrNotSender):
		return "You can only change your own messages"
	case errors.Is(err, ErrPending):
		return "Wait for the message to be delivered first"
	case errors.Is(err, ErrNoConversation):
		return "Open a conversation first"
	}
	switch op {
	case OpSend:
		return "Failed to send message, please try again"
	case OpEdit:
		return "Failed to update message, please try again"
	case OpUnsend:
		return "Failed to unsend message, please try again"
	case OpRead:
		return "Failed to mark messages as read"
	}
	return "Something went wrong, please try again"
}
