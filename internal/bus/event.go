package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared by the chat components and the UI.
const (
	// KindConversationChanged carries the conversation's counterpart after any store mutation.
	KindConversationChanged = "conversation.changed"
	// KindNoticeError carries a Notice for a rejected or rolled back operation.
	KindNoticeError = "notice.error"
	// KindNoticeMessage carries a Notice for an inbound message in a background conversation.
	KindNoticeMessage = "notice.message"
	// KindSubscriptionState carries a subscription.StateChange.
	KindSubscriptionState = "subscription.state_changed"
	// KindTyping carries a presence.TypingChanged for the open conversation.
	KindTyping = "presence.typing"
	// KindRosterChanged signals that the roster must be re-queried.
	KindRosterChanged = "roster.changed"
)

// Notice is a short transient message for the user.
type Notice struct {
	Text string
	Err  error
}
