package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix ("chat.", "presence.", "notify.", "session.", "outbox.").
const (
	KindStatusChanged   = "session.status_changed"
	KindMessagesChanged = "chat.messages_changed"
	KindConversations   = "chat.conversations_changed"
	KindWarning         = "chat.warning"
	KindTypingChanged   = "presence.typing_changed"
	KindNotifyChanged   = "notify.changed"
	KindSendAck         = "outbox.send_ack"
	KindSendFailed      = "outbox.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
