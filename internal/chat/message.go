package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks ids generated locally for messages the server has not
// confirmed yet.
const TempPrefix = "temp-"

// Message kinds.
const (
	KindText = "text"
	KindFile = "file"
)

// Delivery status of a message as seen by the local user.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// User identifies a participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is the authenticated identity the engine runs under. The token is
// opaque and only forwarded to the transports.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Conversation is one entry of the user's conversation list.
type Conversation struct {
	ID          string    `json:"conversationId"`
	Peer        User      `json:"participant"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ReplyRef is a copy of the quoted message taken at send time.
type ReplyRef struct {
	ID         string `json:"_id"`
	Body       string `json:"message"`
	SenderName string `json:"senderName"`
}

// Message is one entry of a conversation. Field tags follow the REST and
// live payloads of the portal backend.
type Message struct {
	ID             string    `json:"_id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	RecipientID    string    `json:"recipientId"`
	RecipientName  string    `json:"recipientName"`
	Body           string    `json:"message"`
	Kind           string    `json:"messageType"`
	CreatedAt      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
	ReplyTo        *ReplyRef `json:"replyTo,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// IsPending reports whether the message still carries a temporary id.
func (m Message) IsPending() bool {
	return strings.HasPrefix(m.ID, TempPrefix)
}

// Ref returns a reply reference to m.
func (m Message) Ref() *ReplyRef {
	return &ReplyRef{ID: m.ID, Body: m.Body, SenderName: m.SenderName}
}

// NewTempID returns a fresh temporary message id.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// ConversationID derives the id both participants compute for their
// conversation, independent of who opens it first.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "-" + ids[1]
}

// Peer returns the other participant of m from self's point of view.
func (m Message) Peer(self string) User {
	if m.SenderID == self {
		return User{ID: m.RecipientID, Name: m.RecipientName}
	}
	return User{ID: m.SenderID, Name: m.SenderName}
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		if m.ReplyTo != nil {
			ref := *m.ReplyTo
			m.ReplyTo = &ref
		}
		out[i] = m
	}
	return out
}

func cloneConversations(in []Conversation) []Conversation {
	if in == nil {
		return nil
	}
	out := make([]Conversation, len(in))
	for i, c := range in {
		if c.LastMessage != nil {
			last := cloneMessages([]Message{*c.LastMessage})[0]
			c.LastMessage = &last
		}
		out[i] = c
	}
	return out
}
