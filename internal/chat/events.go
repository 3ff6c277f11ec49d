package chat

// Outbound live events.
const (
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventJoin        = "joinConversation"
	EventLeave       = "leaveConversation"
	EventMarkAsRead  = "markAsRead"
)

// Inbound live events.
const (
	EventMessageReceived     = "messageReceived"
	EventUserTyping          = "userTyping"
	EventUserStoppedTyping   = "userStoppedTyping"
	EventMessagesRead        = "messagesRead"
	EventMessageNotification = "newMessageNotification"
)

// SendRequest is the body of both the live sendMessage event and the
// durable send call. ClientID lets the server fold the two into one message.
type SendRequest struct {
	ClientID       string    `json:"clientId"`
	ConversationID string    `json:"conversationId"`
	RecipientID    string    `json:"recipientId"`
	RecipientName  string    `json:"recipientName"`
	Body           string    `json:"message"`
	Kind           string    `json:"messageType"`
	ReplyTo        *ReplyRef `json:"replyTo,omitempty"`
}

// NewSendRequest builds the request for the optimistic message m.
func NewSendRequest(m Message) SendRequest {
	return SendRequest{
		ClientID:       m.ID,
		ConversationID: m.ConversationID,
		RecipientID:    m.RecipientID,
		RecipientName:  m.RecipientName,
		Body:           m.Body,
		Kind:           m.Kind,
		ReplyTo:        m.ReplyTo,
	}
}

// TypingPayload is sent and received for typing indicators.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName"`
}

// ReadPayload lists messages of a conversation that were read.
type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReaderID       string   `json:"readerId,omitempty"`
}

// SendAck is published by the outbox when a durable write succeeds.
type SendAck struct {
	TempID  string
	Message Message
}

// SendFailure is published by the outbox when a durable write fails.
type SendFailure struct {
	TempID         string
	ConversationID string
	Err            error
}

// Warning is published on the bus for soft, user-visible failures.
type Warning struct {
	Op        string
	MessageID string
	Err       string
}

// MessagesChanged is the payload of chat.messages_changed.
type MessagesChanged struct {
	ConversationID string
	Count          int
}

// NotifyChanged is the payload of notify.changed.
type NotifyChanged struct {
	Queued int
	Unread int
}
