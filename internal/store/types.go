package store

import (
	"errors"

	"github.com/matheus3301/paperchat/internal/chat"
)

// Outbox entry states.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// ErrNotFound is returned when an update targets a row that does not exist
// or is not in a state the update applies to.
var ErrNotFound = errors.New("not found")

// OutboxEntry is one queued durable write. Message.ID and Message.ClientID
// both hold the temporary id of the optimistic copy.
type OutboxEntry struct {
	ID           int64
	Message      chat.Message
	Status       string
	Attempts     int
	ErrorMessage string
	ServerMsgID  string
}

// Peer is a user a conversation was opened with.
type Peer struct {
	User           chat.User
	ConversationID string
	LastOpenedAt   int64
}
